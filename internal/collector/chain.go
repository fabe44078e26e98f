package collector

import (
	"context"
	"strings"
)

// Preference returns the networked sources to try, in order, for a configured
// data source. Synthetic data is always appended by the Resolver.
func Preference(provider string) []string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "alphavantage", "alpha_vantage":
		return []string{"alphavantage", "yahoo"}
	case "synthetic", "mock":
		return nil
	default:
		return []string{"yahoo"}
	}
}

// NewChain assembles the Sources for provider, computing each capability once.
// Yahoo is probed only when probe is set.
func NewChain(ctx context.Context, provider string, av *AlphaVantageFetcher, yahoo *YahooFetcher, probe bool) []Source {
	var sources []Source
	for _, name := range Preference(provider) {
		switch name {
		case "alphavantage":
			if av != nil {
				sources = append(sources, Source{Fetcher: av, Capability: av.Capability(), QuotaLimited: true})
			}
		case "yahoo":
			if yahoo == nil {
				continue
			}
			capability := Available
			if probe {
				capability = yahoo.Probe(ctx)
			}
			sources = append(sources, Source{Fetcher: yahoo, Capability: capability})
		}
	}
	return sources
}
