package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"MarketIngest/internal/model"
)

// Source pairs a Fetcher with the capability computed when it was built.
type Source struct {
	Fetcher      Fetcher
	Capability   Capability
	QuotaLimited bool
}

// Attempt records one adapter call made by the Resolver.
type Attempt struct {
	Source   string
	Kind     ErrorKind // empty on success
	Err      string
	Duration time.Duration
}

// Resolution is what the Resolver hands back for a work unit.
type Resolution struct {
	Series   *model.Series
	Source   string
	Real     bool
	NoData   bool
	Attempts []Attempt
}

// AttemptObserver is notified after every adapter call.
type AttemptObserver func(a Attempt)

// Resolver tries sources in preference order and falls back to the synthetic
// generator. A source found unusable is skipped for the Resolver's lifetime.
type Resolver struct {
	sources   []Source
	synthetic Fetcher
	timeout   time.Duration
	observer  AttemptObserver

	mu       sync.Mutex
	disabled map[string]string
}

// NewResolver builds a Resolver. Sources whose capability is unavailable start
// downgraded. synthetic terminates every chain.
func NewResolver(sources []Source, synthetic Fetcher, attemptTimeout time.Duration) *Resolver {
	if synthetic == nil {
		synthetic = NewSyntheticFetcher()
	}
	r := &Resolver{
		sources:   sources,
		synthetic: synthetic,
		timeout:   attemptTimeout,
		disabled:  make(map[string]string),
	}
	for _, s := range sources {
		if !s.Capability.Available {
			r.disabled[s.Fetcher.Name()] = s.Capability.Reason
			log.WithFields(log.Fields{"source": s.Fetcher.Name(), "reason": s.Capability.Reason}).
				Warn("data source unavailable, downgraded")
		}
	}
	return r
}

// Observe registers a callback for adapter attempts.
func (r *Resolver) Observe(fn AttemptObserver) { r.observer = fn }

// QuotaLimited reports whether a quota-constrained source is still in the chain.
func (r *Resolver) QuotaLimited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sources {
		if _, off := r.disabled[s.Fetcher.Name()]; s.QuotaLimited && !off {
			return true
		}
	}
	return false
}

// Downgraded returns the names of sources skipped for the rest of the lifetime.
func (r *Resolver) Downgraded() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.disabled))
	for k, v := range r.disabled {
		out[k] = v
	}
	return out
}

func (r *Resolver) isDisabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, off := r.disabled[name]
	return off
}

func (r *Resolver) disable(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[name] = reason
}

// Fetch resolves a series for one unit. It never fails: the result is real
// data, synthetic data, or an explicit no-data signal.
func (r *Resolver) Fetch(ctx context.Context, symbol string, spec model.TimeframeSpec, period string) Resolution {
	var res Resolution
	for _, s := range r.sources {
		name := s.Fetcher.Name()
		if r.isDisabled(name) {
			continue
		}
		series, err := r.attempt(ctx, s.Fetcher, symbol, spec, period, &res)
		if err == nil {
			res.Series, res.Source, res.Real = series, name, true
			return res
		}
		fields := log.Fields{"source": name, "symbol": symbol, "timeframe": spec.Key}
		switch KindOf(err) {
		case Empty:
			log.WithFields(fields).Warn("no data returned")
			res.Source, res.NoData = name, true
			return res
		case AuthError:
			r.disable(name, err.Error())
			log.WithFields(fields).WithError(err).Warn("credentials rejected, source downgraded")
		default:
			log.WithFields(fields).WithError(err).Warn("fetch failed, falling back")
		}
	}

	series, err := r.attempt(ctx, r.synthetic, symbol, spec, period, &res)
	if err != nil || series.Len() == 0 {
		res.NoData = true
		res.Source = r.synthetic.Name()
		return res
	}
	log.WithFields(log.Fields{"symbol": symbol, "timeframe": spec.Key}).Info("using synthetic data")
	res.Series, res.Source, res.Real = series, r.synthetic.Name(), false
	return res
}

func (r *Resolver) attempt(ctx context.Context, f Fetcher, symbol string, spec model.TimeframeSpec, period string, res *Resolution) (*model.Series, error) {
	actx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	series, err := f.Fetch(actx, symbol, spec, period)
	if err == nil && series.Len() == 0 {
		err = &FetchError{Kind: Empty, Source: f.Name(), Err: errors.New("empty series")}
	}
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Kind: NetworkError, Source: f.Name(), Err: err}
		}
		// a deadline hit during the call is a network failure whatever the adapter said
		if actx.Err() != nil && !IsKind(err, NetworkError) {
			err = &FetchError{Kind: NetworkError, Source: f.Name(), Err: actx.Err()}
		}
	}
	a := Attempt{Source: f.Name(), Duration: time.Since(start)}
	if err != nil {
		a.Kind, a.Err = KindOf(err), err.Error()
	}
	res.Attempts = append(res.Attempts, a)
	if r.observer != nil {
		r.observer(a)
	}
	return series, err
}
