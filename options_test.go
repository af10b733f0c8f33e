package apiclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOptionsClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = "http://localhost:8080"
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientOptions(t *testing.T) {
	httpClient := &http.Client{}
	registry := prometheus.NewRegistry()
	logger := NopLogger()
	auth := &fakeAuth{}
	persister := &memoryPersister{}
	sink := ActivitySinkFunc(func(ActivityEvent) bool { return true })
	mw := func(req *http.Request, next RoundTripper) (*http.Response, error) { return next.RoundTrip(req) }

	c := newOptionsClient(t,
		WithHTTPClient(httpClient),
		WithMetricsRegistry(registry),
		WithLogger(logger),
		WithAuthenticator(auth),
		WithCredentialPersister(persister),
		WithActivitySink(sink),
		WithMiddleware(mw, mw),
	)

	assert.Same(t, httpClient, c.httpClient)
	assert.NotNil(t, c.metrics)
	assert.Equal(t, prometheus.Gatherer(registry), c.metrics.Gatherer())
	assert.Equal(t, logger, c.logger)
	assert.Same(t, auth, c.authenticator)
	assert.Same(t, persister, c.persister)
	assert.NotNil(t, c.activity)
	assert.Nil(t, c.ownedActivity)
	assert.Len(t, c.middleware, 2)
}

func TestWithMetricsCollector(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	c := newOptionsClient(t, WithMetricsCollector(collector))
	assert.Same(t, collector, c.metrics)
}

func TestDebugOptions(t *testing.T) {
	c := newOptionsClient(t, WithDebug())
	assert.True(t, c.debug.Enabled)
	assert.NotNil(t, c.debug.RequestIDGen)

	c = newOptionsClient(t, WithRequestIDGenerator(func() string { return "fixed" }))
	assert.Equal(t, "fixed", c.newRequestID())

	c = newOptionsClient(t, WithDebugConfig(nil))
	require.NotNil(t, c.debug)
	assert.Equal(t, "", c.newRequestID())

	c = newOptionsClient(t, WithSimpleLogger())
	assert.True(t, c.debug.Enabled)
	assert.IsType(t, &ZerologLogger{}, c.logger)
}

func TestWithClock(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newOptionsClient(t, WithClock(fixedClock(at)))
	assert.Equal(t, at, c.now())

	cfg := DefaultConfig()
	cfg.BaseURL = "http://localhost:8080"
	_, err := New(cfg, WithClock(nil))
	assert.Error(t, err)
}

func TestActivitySinkOwnedWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://127.0.0.1:1"
	cfg.Activity.Enabled = true
	c, err := New(cfg)
	require.NoError(t, err)

	assert.NotNil(t, c.ownedActivity)
	assert.Equal(t, ActivitySink(c.ownedActivity), c.activity)
	require.NoError(t, c.Close())
}

func TestRequestOptions(t *testing.T) {
	var ro requestOptions
	for _, opt := range []RequestOption{
		WithRequestTimeout(3 * time.Second),
		WithHeader("X-One", "a"),
		WithHeader("X-One", "b"),
		WithSkipAuth(),
		WithNoCache(),
		WithRetryNonIdempotent(),
	} {
		opt(&ro)
	}

	assert.Equal(t, 3*time.Second, ro.timeout)
	assert.Equal(t, []string{"a", "b"}, ro.headers.Values("X-One"))
	assert.True(t, ro.skipAuth)
	assert.True(t, ro.noCache)
	assert.True(t, ro.retryNonIdempotent)
}

func TestRoundTripperFunc(t *testing.T) {
	called := false
	rt := RoundTripperFunc(func(*http.Request) (*http.Response, error) {
		called = true
		return &http.Response{StatusCode: http.StatusTeapot}, nil
	})

	resp, err := rt.RoundTrip(&http.Request{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}
