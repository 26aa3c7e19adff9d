package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrNoData             = errors.New("no data returned")
	ErrInvalidSymbol      = errors.New("invalid symbol")
	ErrNegativePrice      = errors.New("negative price")
	ErrMalformedPercent   = errors.New("malformed percent change")
	ErrInconsistentChange = errors.New("change and percent change disagree in sign")
)

// Kind is the closed set of failure kinds an adapter or chain can report.
type Kind int

const (
	KindNone Kind = iota
	KindRateLimited
	KindNotFound
	KindBadResponse
	KindNetworkError
	KindTimeout
	// KindUnavailable is only produced by the chain, when every adapter failed.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindBadResponse:
		return "bad_response"
	case KindNetworkError:
		return "network_error"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether the same adapter may be tried again.
func (k Kind) Retryable() bool {
	return k == KindNetworkError || k == KindTimeout
}

// Error carries a failure kind across the adapter boundary.
type Error struct {
	Kind     Kind
	Provider string
	Symbol   string
	Err      error
}

// Error leaves the symbol out; callers reporting per-symbol failures prefix it.
func (e *Error) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindNone
}

// ClassifyTransport maps an error from http.Client.Do (or resty) to a Kind.
func ClassifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTimeout
	}
	return KindNetworkError
}

// ClassifyStatus maps a non-2xx HTTP status code to a Kind.
func ClassifyStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500:
		return KindNetworkError
	default:
		return KindBadResponse
	}
}
