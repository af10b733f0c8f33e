package apiclient

import (
	"net/http"
	"time"
)

// Middleware wraps the outbound call of every attempt.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option configures a Client at construction.
type Option func(*Client)

// RequestOption adjusts a single Request call.
type RequestOption func(*requestOptions)

// Clock returns the current time. Tests inject fixed or stepped clocks.
type Clock func() time.Time

type requestOptions struct {
	timeout            time.Duration
	headers            http.Header
	skipAuth           bool
	noCache            bool
	retryNonIdempotent bool
}
