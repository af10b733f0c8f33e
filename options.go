package apiclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WithHTTPClient sets a custom HTTP client. Its Timeout should be zero or
// larger than Config.Timeout; per-attempt deadlines come from the request
// context.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithMiddleware adds middleware to the client
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsRegistry enables Prometheus metrics on registry.
func WithMetricsRegistry(registry prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollectorWithRegistry(registry)
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithLogger sets the logger for warnings and debug output
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a simple console logger
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// WithAuthenticator replaces the HTTP login, refresh and logout calls.
func WithAuthenticator(auth Authenticator) Option {
	return func(c *Client) {
		c.authenticator = auth
	}
}

// WithCredentialPersister sets durable credential storage, overriding the
// backend named in Config.Persistence.
func WithCredentialPersister(persister CredentialPersister) Option {
	return func(c *Client) {
		c.persister = persister
	}
}

// WithActivitySink sets where request metrics and session events are
// forwarded, overriding the HTTP activity log sink.
func WithActivitySink(sink ActivitySink) Option {
	return func(c *Client) {
		c.activity = sink
	}
}

// WithClock sets the clock used for token expiry and cache age.
func WithClock(now Clock) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithRequestTimeout overrides the per-attempt timeout of one request.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = d
	}
}

// WithHeader adds a header to one request. It replaces any header of the
// same name the client would set.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(http.Header)
		}
		o.headers.Add(key, value)
	}
}

// WithSkipAuth sends one request without credentials and without the
// refresh-and-replay cycle on 401.
func WithSkipAuth() RequestOption {
	return func(o *requestOptions) {
		o.skipAuth = true
	}
}

// WithNoCache bypasses the response cache for one request.
func WithNoCache() RequestOption {
	return func(o *requestOptions) {
		o.noCache = true
	}
}

// WithRetryNonIdempotent allows retrying one POST or PATCH. Only use it
// when the server deduplicates the write.
func WithRetryNonIdempotent() RequestOption {
	return func(o *requestOptions) {
		o.retryNonIdempotent = true
	}
}

// validateOptions checks what the options set, after they were applied.
func (c *Client) validateOptions() error {
	var problems []string

	problems = append(problems, c.validateHTTPClientConfig()...)
	problems = append(problems, c.validateDebugConfig()...)
	problems = append(problems, c.validateMiddlewareConfig()...)

	if c.now == nil {
		problems = append(problems, "clock cannot be nil")
	}

	if len(problems) > 0 {
		return newValidationError(problems)
	}
	return nil
}

// validateHTTPClientConfig validates HTTP client configuration
func (c *Client) validateHTTPClientConfig() []string {
	var errors []string

	if c.httpClient == nil {
		errors = append(errors, "HTTP client cannot be nil")
	}

	return errors
}

// validateDebugConfig validates debug configuration
func (c *Client) validateDebugConfig() []string {
	var errors []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			errors = append(errors, "debug RequestIDGen must be set when debug is enabled")
		}
	}
	if c.logger == nil {
		errors = append(errors, "logger cannot be nil")
	}

	return errors
}

// validateMiddlewareConfig validates middleware configuration
func (c *Client) validateMiddlewareConfig() []string {
	var errors []string

	for i, middleware := range c.middleware {
		if middleware == nil {
			errors = append(errors, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return errors
}
