package apiclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientError(t *testing.T) {
	// Test error without cause
	err := &ClientError{
		Type:    ErrorTypeNetwork,
		Message: "connection refused",
	}

	expectedMsg := "Network: connection refused"
	if err.Error() != expectedMsg {
		t.Errorf("Expected '%s', got '%s'", expectedMsg, err.Error())
	}

	// Test error with cause, request ID and attempt
	errWithCause := &ClientError{
		Type:        ErrorTypeHTTPStatus,
		Message:     "unexpected status 503",
		Cause:       errors.New("upstream down"),
		RequestID:   "req-1",
		Attempt:     2,
		MaxAttempts: 3,
	}

	expected := "[req-1] HTTPStatus: unexpected status 503 (upstream down) (attempt 2/3)"
	if errWithCause.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, errWithCause.Error())
	}
}

func TestClientErrorUnwrap(t *testing.T) {
	cause := errors.New("original error")
	err := &ClientError{Type: ErrorTypeNetwork, Message: "test message", Cause: cause}

	if err.Unwrap() != cause {
		t.Errorf("Expected unwrapped error to be %v, got %v", cause, err.Unwrap())
	}

	var nilErr *ClientError
	if nilErr.Unwrap() != nil {
		t.Error("Expected nil unwrap on nil receiver")
	}
}

func TestClientErrorIsMatchesType(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ClientError{Type: ErrorTypeTimeout, Message: "slow"})

	assert.True(t, errors.Is(err, &ClientError{Type: ErrorTypeTimeout}))
	assert.False(t, errors.Is(err, &ClientError{Type: ErrorTypeNetwork}))
}

func TestSessionExpiredErrorChain(t *testing.T) {
	err := sessionExpiredError(ErrRefreshRejected)

	assert.True(t, IsSessionExpired(err))
	assert.True(t, errors.Is(err, ErrSessionExpired))
	assert.True(t, errors.Is(err, ErrRefreshRejected))
	assert.False(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &ClientError{Type: ErrorTypeNetwork}, true},
		{"timeout", &ClientError{Type: ErrorTypeTimeout}, true},
		{"503", &ClientError{Type: ErrorTypeHTTPStatus, StatusCode: 503}, true},
		{"429", &ClientError{Type: ErrorTypeHTTPStatus, StatusCode: 429}, true},
		{"404", &ClientError{Type: ErrorTypeHTTPStatus, StatusCode: 404}, false},
		{"canceled", &ClientError{Type: ErrorTypeCanceled, Cause: context.Canceled}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 404, StatusCode(&ClientError{Type: ErrorTypeHTTPStatus, StatusCode: 404}))
	assert.Equal(t, 0, StatusCode(&ClientError{Type: ErrorTypeNetwork, StatusCode: 404}))
	assert.Equal(t, 0, StatusCode(errors.New("boom")))
}

func TestDebugInfo(t *testing.T) {
	err := &ClientError{
		Type:        ErrorTypeHTTPStatus,
		Message:     "unexpected status 500",
		RequestID:   "abc",
		Method:      "GET",
		URL:         "http://api.test/resumes",
		Endpoint:    "/resumes",
		StatusCode:  500,
		Attempt:     1,
		MaxAttempts: 3,
		Timestamp:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:    time.Second,
	}

	info := err.DebugInfo()
	for _, want := range []string{"Error Type: HTTPStatus", "Request ID: abc", "Status Code: 500", "Attempt: 1/3", "Timestamp: 2024-01-02T03:04:05Z"} {
		if !strings.Contains(info, want) {
			t.Errorf("DebugInfo missing %q:\n%s", want, info)
		}
	}
}
