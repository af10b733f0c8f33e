package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error types carried by ClientError.Type.
const (
	ErrorTypeNetwork        = "Network"
	ErrorTypeTimeout        = "Timeout"
	ErrorTypeHTTPStatus     = "HTTPStatus"
	ErrorTypeSessionExpired = "SessionExpired"
	ErrorTypeCanceled       = "Canceled"
	ErrorTypeValidation     = "Validation"
	ErrorTypeDecode         = "Decode"
)

// Sentinel errors for common failure scenarios
var (
	// ErrSessionExpired is returned when the refresh token is missing or was
	// rejected. The session has been cleared by the time callers see it.
	ErrSessionExpired = errors.New("apiclient: session expired")

	// ErrRateLimited marks an acquire that had to wait for the window to reset.
	// It never escapes Request; the limiter resolves it by waiting.
	ErrRateLimited = errors.New("apiclient: rate limited")

	// ErrCacheMiss is returned by lookups that found nothing fresh. It never
	// escapes Request.
	ErrCacheMiss = errors.New("apiclient: cache miss")

	// ErrRefreshRejected is returned by an Authenticator when the remote side
	// refuses the refresh token.
	ErrRefreshRejected = errors.New("apiclient: refresh token rejected")

	// ErrNotAuthenticated is returned by operations that need a session when none exists.
	ErrNotAuthenticated = errors.New("apiclient: not authenticated")

	// ErrClientClosed is returned once Close has been called.
	ErrClientClosed = errors.New("apiclient: client closed")
)

// ClientError describes a failed request with enough context to debug it.
type ClientError struct {
	Type        string
	Message     string
	Cause       error
	RequestID   string
	Method      string
	URL         string
	Endpoint    string
	StatusCode  int
	Body        []byte
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
	Duration    time.Duration
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts and 408/429/5xx statuses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionExpired) || errors.Is(err, context.Canceled) {
		return false
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout:
			return true
		case ErrorTypeHTTPStatus:
			return clientErr.StatusCode == http.StatusRequestTimeout ||
				clientErr.StatusCode == http.StatusTooManyRequests ||
				clientErr.StatusCode >= 500
		default:
			return false
		}
	}

	return false
}

// IsSessionExpired reports whether err means the caller must log in again.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// StatusCode extracts the HTTP status from an HTTPStatus error, or 0.
func StatusCode(err error) int {
	var clientErr *ClientError
	if errors.As(err, &clientErr) && clientErr.Type == ErrorTypeHTTPStatus {
		return clientErr.StatusCode
	}
	return 0
}

func newValidationError(problems []string) error {
	return &ClientError{
		Type:    ErrorTypeValidation,
		Message: "configuration validation failed",
		Cause:   fmt.Errorf("validation errors: %v", problems),
	}
}
