package apiclient

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Vishalsnw/Resume-builder-sub001/internal/backoff"
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// pause first.
type RetryPolicy struct {
	maxAttempts   int
	baseDelay     time.Duration
	maxDelay      time.Duration
	statuses      map[int]struct{}
	networkErrors bool
	strategy      backoff.Strategy
}

// NewRetryPolicy builds a policy from cfg. cfg must already be validated; an
// unknown strategy falls back to linear.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	strategy, err := backoff.ForName(cfg.Strategy)
	if err != nil {
		strategy = backoff.LinearStrategy{}
	}

	statuses := make(map[int]struct{}, len(cfg.RetryableStatuses))
	for _, s := range cfg.RetryableStatuses {
		statuses[s] = struct{}{}
	}

	return &RetryPolicy{
		maxAttempts:   cfg.MaxAttempts,
		baseDelay:     cfg.BaseDelay,
		maxDelay:      cfg.MaxDelay,
		statuses:      statuses,
		networkErrors: cfg.RetryNetworkErrors,
		strategy:      strategy,
	}
}

// MaxAttempts returns the retry budget of a single request.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether another retry may follow an outcome of status
// when retries have already been made. Status 0 means no response was
// received.
func (p *RetryPolicy) ShouldRetry(status, retries int) bool {
	if retries >= p.maxAttempts {
		return false
	}
	if status == 0 {
		return p.networkErrors
	}
	_, ok := p.statuses[status]
	return ok
}

// NextDelay is the pause before retry number attempt, counted from 1.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	return p.strategy.Delay(attempt, p.baseDelay, p.maxDelay)
}

// DelayFor prefers a Retry-After header over the strategy, capped at MaxDelay.
func (p *RetryPolicy) DelayFor(attempt int, header http.Header) time.Duration {
	if header != nil {
		if d := parseRetryAfter(header.Get("Retry-After")); d > 0 {
			if p.maxDelay > 0 && d > p.maxDelay {
				return p.maxDelay
			}
			return d
		}
	}
	return p.NextDelay(attempt)
}

// CanRetryMethod reports whether requests of method may be retried at all.
// Non-idempotent methods need the caller's explicit opt-in.
func (p *RetryPolicy) CanRetryMethod(method string, optIn bool) bool {
	return optIn || DefaultIsIdempotent(method)
}

// DefaultIsIdempotent returns true for idempotent HTTP methods.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case "GET", "HEAD", "PUT", "DELETE", "OPTIONS":
		return true
	default:
		return false
	}
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds format and HTTP-date format.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
