package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"MarketIngest/internal/model"
)

// Fetcher defines the uniform fetch contract every data source implements.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, spec model.TimeframeSpec, period string) (*model.Series, error)
	Name() string
}

// ErrorKind classifies why a fetch failed.
type ErrorKind string

const (
	RateLimited  ErrorKind = "rate_limited"
	AuthError    ErrorKind = "auth_error"
	NotFound     ErrorKind = "not_found"
	Empty        ErrorKind = "empty"
	NetworkError ErrorKind = "network_error"
)

// FetchError is returned by every Fetcher on failure.
type FetchError struct {
	Kind   ErrorKind
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func fetchErr(source string, kind ErrorKind, format string, args ...any) *FetchError {
	return &FetchError{Kind: kind, Source: source, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind of err. Context expiry and unknown errors count
// as network errors.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return NetworkError
}

// IsKind reports whether err is a FetchError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// statusKind maps an HTTP status to an ErrorKind.
func statusKind(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return RateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return AuthError
	case code == http.StatusNotFound:
		return NotFound
	default:
		return NetworkError
	}
}

// Capability records whether an adapter is usable. It is computed once when the
// adapter is built and handed to the Resolver.
type Capability struct {
	Available bool
	Reason    string
}

// Available is the capability of an adapter with nothing to probe.
var Available = Capability{Available: true}

func newHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
