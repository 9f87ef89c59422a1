package fetcher

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sells-group/gridclimate/internal/resilience"
)

// Kind classifies why a provider request failed.
type Kind int

// Failure kinds. Transient and RateLimited are retried; the rest are not.
const (
	KindTransient Kind = iota
	KindRateLimited
	KindNotFound
	KindMalformedResponse
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindMalformedResponse:
		return "malformed_response"
	case KindUnauthorized:
		return "unauthorized"
	}
	return "unknown"
}

// FetchError is the only error type provider clients return for provider
// failures. Callers match it with errors.As.
type FetchError struct {
	Kind       Kind
	Provider   string
	Region     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := e.Provider
	if e.Region != "" {
		msg += " " + e.Region
	}
	msg += ": " + e.Kind.String()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *FetchError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// KindOf extracts the kind from err. The second result is false when err is
// not a FetchError.
func KindOf(err error) (Kind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a FetchError of kind k.
func IsKind(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

// WithRegion tags a FetchError with the region it was fetched for. Other
// errors are returned unchanged.
func WithRegion(err error, region string) error {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return err
	}
	tagged := *fe
	tagged.Region = region
	return &tagged
}

// Malformed wraps a decode failure.
func Malformed(provider string, err error) *FetchError {
	return &FetchError{Kind: KindMalformedResponse, Provider: provider, Err: err}
}

// NotFound reports an unknown region or an empty provider answer.
func NotFound(provider string, err error) *FetchError {
	return &FetchError{Kind: KindNotFound, Provider: provider, Err: err}
}

// classifyStatus maps a non-2xx response to a kind. 400 and 422 count as
// not found because both providers answer an unknown facet or coordinate
// that way.
func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindUnauthorized
	case resilience.IsTransientHTTPStatus(code) || code >= 500:
		return KindTransient
	default:
		return KindNotFound
	}
}
