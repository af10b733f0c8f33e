package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Client is the session-aware HTTP transport shared by every caller of one
// backend. It attaches and refreshes credentials, caches reads, limits its own
// request rate, retries transient failures and records every call. It is safe
// for concurrent use.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	middleware []Middleware
	logger     Logger
	debug      *DebugConfig
	metrics    *MetricsCollector
	now        Clock

	authenticator Authenticator
	persister     CredentialPersister
	activity      ActivitySink
	ownedActivity *HTTPActivitySink

	store   *CredentialStore
	tokens  *TokenManager
	cache   *ResponseCache
	limiter *RateLimiter
	retry   *RetryPolicy
	sink    *MetricsSink

	closeOnce sync.Once
	closed    atomic.Bool
}

// New validates cfg, builds every component and restores a persisted session
// when persistence is enabled. An invalid configuration is rejected here
// rather than on first use.
func New(cfg Config, options ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		middleware: []Middleware{},
		logger:     NopLogger(),
		debug:      DefaultDebugConfig(),
		now:        time.Now,
	}

	for _, option := range options {
		option(client)
	}
	if err := client.validateOptions(); err != nil {
		return nil, err
	}
	if client.debug == nil {
		client.debug = &DebugConfig{}
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, newValidationError([]string{fmt.Sprintf("baseURL: %v", err)})
	}
	client.baseURL = base

	if client.persister == nil && cfg.Persistence.Enabled {
		if client.persister, err = NewPersister(cfg.Persistence); err != nil {
			return nil, err
		}
	}
	if client.authenticator == nil {
		client.authenticator = NewHTTPAuthenticator(cfg.BaseURL, client.httpClient, cfg.Auth)
	}

	client.store = NewCredentialStore(client.persister, client.now)
	client.tokens = NewTokenManager(client.store, client.authenticator, cfg.Auth, client.logger, client.metrics)
	client.tokens.OnSessionEvent(client.onSessionEvent)

	client.cache = NewResponseCache(cfg.Cache, client.now)
	client.cache.StartJanitor(func(removed int) {
		client.metrics.RecordCacheEvictions(removed)
		client.metrics.RecordCacheSize(client.cache.Len(), client.cache.SizeBytes())
	})

	if cfg.RateLimit.Enabled {
		client.limiter = NewRateLimiter(cfg.RateLimit.MaxRequestsPerWindow, cfg.RateLimit.WindowLength)
	}
	client.retry = NewRetryPolicy(cfg.Retry)

	if client.activity == nil && cfg.Activity.Enabled {
		client.ownedActivity = NewHTTPActivitySink(cfg.BaseURL, client.httpClient, cfg.Activity, client.accessToken, client.logger, client.metrics)
		client.activity = client.ownedActivity
	}
	client.sink = NewMetricsSink(cfg.Activity.BufferSize, client.activity)

	if client.persister != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		restored, err := client.tokens.Restore(ctx)
		cancel()
		if err != nil {
			client.logger.Warn("Restoring persisted session failed", "error", err)
		} else if restored {
			client.logger.Info("Restored persisted session")
		}
	}

	return client, nil
}

// Get performs a GET of path.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, nil, opts...)
}

// Post performs a POST of body to path.
func (c *Client) Post(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, body, opts...)
}

// Put performs a PUT of body to path.
func (c *Client) Put(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPut, path, body, opts...)
}

// Patch performs a PATCH of body to path.
func (c *Client) Patch(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPatch, path, body, opts...)
}

// Delete performs a DELETE of path.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, path, nil, opts...)
}

// Request sends method to path, relative to the base URL. body may be nil,
// a []byte or string sent as is, an io.Reader, or any value encoded as JSON.
//
// A non-2xx outcome is returned as a *ClientError of type HTTPStatus carrying
// the status and body. Cancelling ctx aborts the call, including any rate
// limit wait or backoff pause, and leaves the cache and metrics untouched.
func (c *Client) Request(ctx context.Context, method, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	ro := requestOptions{timeout: c.cfg.Timeout}
	for _, opt := range opts {
		opt(&ro)
	}
	method = strings.ToUpper(method)

	payload, contentType, err := encodeBody(body)
	if err != nil {
		return nil, &ClientError{Type: ErrorTypeValidation, Message: "request body cannot be encoded", Cause: err, Method: method, Endpoint: path, Timestamp: c.now()}
	}
	ref, target, err := c.resolve(path)
	if err != nil {
		return nil, &ClientError{Type: ErrorTypeValidation, Message: "invalid request path", Cause: err, Method: method, Endpoint: path, Timestamp: c.now()}
	}

	call := &requestCall{
		method:      method,
		path:        ref.Path,
		target:      target,
		payload:     payload,
		contentType: contentType,
		opts:        ro,
		requestID:   c.newRequestID(),
		start:       time.Now(),
	}

	c.metrics.RecordRequestStart(method, call.path)
	defer c.metrics.RecordRequestEnd(method, call.path)

	c.logDebug(c.debug.LogRequests, "Starting request", "requestID", call.requestID, "method", method, "url", target.String())

	cacheable := method == http.MethodGet && !ro.noCache && c.cfg.Cache.Enabled && !c.cache.IsExcluded(call.path)
	var cacheKey string
	if cacheable {
		cacheKey = CacheKey(method, call.path, ref.RawQuery, payload)
		if resp, ok := c.cache.Lookup(cacheKey); ok {
			resp.RequestID = call.requestID
			c.metrics.RecordCacheHit(method, call.path)
			c.logDebug(c.debug.LogCache, "Cache hit", "requestID", call.requestID, "path", call.path)
			c.record(call, resp.StatusCode, true, 0, nil)
			return resp, nil
		}
		c.metrics.RecordCacheMiss(method, call.path)
		c.logDebug(c.debug.LogCache, "Cache miss", "requestID", call.requestID, "path", call.path)
	}

	resp, retries, err := c.execute(ctx, call)
	if err != nil {
		var clientErr *ClientError
		if errors.As(err, &clientErr) && clientErr.Type == ErrorTypeCanceled {
			return nil, err
		}
		c.record(call, StatusCode(err), false, retries, err)
		return nil, err
	}

	if cacheable && c.cache.Store(cacheKey, call.path, resp) {
		c.metrics.RecordCacheSize(c.cache.Len(), c.cache.SizeBytes())
		c.logDebug(c.debug.LogCache, "Response cached", "requestID", call.requestID, "path", call.path)
	}
	if c.cfg.Cache.InvalidateOnMutation && isMutation(method) {
		c.cache.InvalidateAll()
		c.metrics.RecordCacheSize(0, 0)
	}

	c.record(call, resp.StatusCode, false, retries, nil)
	return resp, nil
}

// Login starts a session. The response cache is cleared so no data cached
// for a previous identity survives.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	return c.tokens.Login(ctx, email, password)
}

// Logout ends the session locally and remotely and clears the cache.
func (c *Client) Logout(ctx context.Context) error {
	return c.tokens.Logout(ctx)
}

// Session returns a snapshot of the session state.
func (c *Client) Session() Session {
	return c.tokens.Session()
}

// OnSessionEvent registers fn for login, refresh, logout and expiry.
func (c *Client) OnSessionEvent(fn func(SessionEvent)) {
	c.tokens.OnSessionEvent(fn)
}

// Tokens exposes the token lifecycle manager.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// Cache exposes the response cache.
func (c *Client) Cache() *ResponseCache {
	return c.cache
}

// Metrics exposes the request metrics buffer.
func (c *Client) Metrics() *MetricsSink {
	return c.sink
}

// RateLimiter exposes the limiter, nil when rate limiting is disabled.
func (c *Client) RateLimiter() *RateLimiter {
	return c.limiter
}

// Close stops background work and flushes queued activity events. The
// session is kept so a persisted one can be restored by the next Client.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.tokens.Close()
		c.cache.Stop()

		if c.ownedActivity != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = c.ownedActivity.Close(ctx)
			cancel()
		}
		if closer, ok := c.persister.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

type requestCall struct {
	method      string
	path        string
	target      *url.URL
	payload     []byte
	contentType string
	opts        requestOptions
	requestID   string
	start       time.Time
}

// execute runs the limiter, credential, send, replay and retry loop. It
// returns the number of retries made.
func (c *Client) execute(ctx context.Context, call *requestCall) (*Response, int, error) {
	retries := 0
	replayed := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, retries, c.canceledError(call, retries, err)
		}

		if c.limiter != nil {
			waited, err := c.limiter.Acquire(ctx)
			if err != nil {
				return nil, retries, c.canceledError(call, retries, err)
			}
			c.metrics.RecordRateLimit(waited, c.limiter.Stats().Remaining)
			if waited >= time.Millisecond {
				c.logDebug(c.debug.LogRateLimit, "Rate limit wait", "requestID", call.requestID, "waited", waited)
			}
		}

		token, err := c.credentialFor(ctx, call)
		if err != nil {
			return nil, retries, err
		}

		resp, err := c.send(ctx, call, token, retries)
		if err != nil {
			var clientErr *ClientError
			if errors.As(err, &clientErr) && clientErr.Type == ErrorTypeCanceled {
				return nil, retries, err
			}
			if !c.shouldRetry(call, 0, retries) {
				return nil, retries, err
			}
			retries++
			if err := c.pause(ctx, call, retries, nil, err); err != nil {
				return nil, retries, err
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, retries, nil
		}

		if resp.StatusCode == http.StatusUnauthorized && !call.opts.skipAuth && !replayed {
			replayed = true
			c.logDebug(c.debug.LogRefresh, "Unauthorized, refreshing credentials", "requestID", call.requestID)
			if _, err := c.tokens.OnUnauthorizedResponse(ctx, token); err != nil {
				if ctx.Err() != nil {
					return nil, retries, c.canceledError(call, retries, ctx.Err())
				}
				return nil, retries, c.annotate(err, call, retries)
			}
			continue
		}

		statusErr := c.statusError(call, resp, retries)
		if resp.StatusCode == http.StatusUnauthorized || !c.shouldRetry(call, resp.StatusCode, retries) {
			return nil, retries, statusErr
		}
		retries++
		if err := c.pause(ctx, call, retries, resp.Header, statusErr); err != nil {
			return nil, retries, err
		}
	}
}

// credentialFor returns the access token to attach, refreshing it first when
// it is close to expiry. Requests without a session go out unauthenticated.
func (c *Client) credentialFor(ctx context.Context, call *requestCall) (string, error) {
	if call.opts.skipAuth || !c.tokens.HasCredentials() {
		return "", nil
	}

	creds, err := c.tokens.EnsureFresh(ctx)
	switch {
	case err == nil:
		return creds.AccessToken, nil
	case ctx.Err() != nil:
		return "", c.canceledError(call, 0, ctx.Err())
	case IsSessionExpired(err):
		return "", c.annotate(err, call, 0)
	case errors.Is(err, ErrNotAuthenticated):
		return "", nil
	}

	// A transient refresh failure leaves the current pair in place. It may
	// still be accepted; if not, the 401 path takes over.
	c.logger.Warn("Proactive refresh failed, using current credentials", "requestID", call.requestID, "error", err)
	current, ok := c.store.Get()
	if !ok {
		return "", nil
	}
	return current.AccessToken, nil
}

func (c *Client) send(ctx context.Context, call *requestCall, token string, retries int) (*Response, error) {
	attemptCtx := ctx
	if call.opts.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, call.opts.timeout)
		defer cancel()
	}

	var body io.Reader
	if call.payload != nil {
		body = bytes.NewReader(call.payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, call.method, call.target.String(), body)
	if err != nil {
		return nil, c.newError(ErrorTypeValidation, "cannot build request", err, call, retries)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent())
	if call.contentType != "" {
		req.Header.Set("Content-Type", call.contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if call.requestID != "" {
		req.Header.Set("X-Request-ID", call.requestID)
	}
	for key, values := range call.opts.headers {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	httpResp, err := c.executeMiddleware(req)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, err, call, retries)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, err, call, retries)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		RequestID:  call.requestID,
	}, nil
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

func (c *Client) shouldRetry(call *requestCall, status, retries int) bool {
	return c.retry.CanRetryMethod(call.method, call.opts.retryNonIdempotent) && c.retry.ShouldRetry(status, retries)
}

// pause waits out the backoff before retry number retry. Cancelling ctx ends
// the wait early with a Canceled error.
func (c *Client) pause(ctx context.Context, call *requestCall, retry int, header http.Header, cause error) error {
	delay := c.retry.DelayFor(retry, header)

	c.metrics.RecordRetry(call.method, call.path, retry)
	c.logDebug(c.debug.LogRetries, "Scheduling retry", "requestID", call.requestID, "attempt", retry, "maxAttempts", c.retry.MaxAttempts(), "backoff", delay, "cause", cause)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return c.canceledError(call, retry, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (c *Client) record(call *requestCall, status int, cached bool, retries int, err error) {
	duration := time.Since(call.start)
	metric := RequestMetric{
		Path:       call.path,
		Method:     call.method,
		StatusCode: status,
		Duration:   duration,
		Cached:     cached,
		Timestamp:  c.now(),
		RequestID:  call.requestID,
		Retries:    retries,
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		metric.Error = clientErr.Type
		c.metrics.RecordError(clientErr.Type, call.method, call.path)
	} else if err != nil {
		metric.Error = "Unknown"
	}

	c.sink.Record(metric)
	c.metrics.RecordRequest(call.method, call.path, status, duration)

	if err != nil {
		c.logDebug(c.debug.LogRequests, "Request failed", "requestID", call.requestID, "status", status, "duration", duration, "error", err)
	} else {
		c.logDebug(c.debug.LogRequests, "Request completed", "requestID", call.requestID, "status", status, "duration", duration, "cached", cached)
	}
}

func (c *Client) onSessionEvent(ev SessionEvent) {
	switch ev.Type {
	case SessionLogin, SessionLogout, SessionExpired:
		c.cache.InvalidateAll()
		c.metrics.RecordCacheSize(0, 0)
	}

	if ev.Type == SessionExpired {
		c.logger.Warn("Session expired", "error", ev.Err)
	}

	if c.activity == nil || ev.Type == SessionRefresh {
		return
	}
	meta := map[string]interface{}{}
	if ev.User != nil {
		meta["userId"] = ev.User.ID
	}
	c.activity.Send(ActivityEvent{
		Type:        string(ev.Type),
		Description: fmt.Sprintf("session %s", strings.ReplaceAll(string(ev.Type), "_", " ")),
		Metadata:    meta,
		Timestamp:   ev.At,
	})
}

func (c *Client) accessToken() string {
	creds, ok := c.store.Get()
	if !ok {
		return ""
	}
	return creds.AccessToken
}

func (c *Client) newRequestID() string {
	if c.debug == nil || c.debug.RequestIDGen == nil {
		return ""
	}
	return c.debug.RequestIDGen()
}

func (c *Client) logDebug(enabled bool, msg string, keysAndValues ...interface{}) {
	if c.debug == nil || !c.debug.Enabled || !enabled {
		return
	}
	c.logger.Debug(msg, keysAndValues...)
}

// resolve joins path onto the base URL, keeping any base path prefix.
func (c *Client) resolve(path string) (*url.URL, *url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, nil, err
	}
	if ref.IsAbs() || ref.Host != "" {
		return nil, nil, fmt.Errorf("path %q must be relative to the base URL", path)
	}
	if !strings.HasPrefix(ref.Path, "/") {
		ref.Path = "/" + ref.Path
	}

	target := *c.baseURL
	target.Path = strings.TrimRight(c.baseURL.Path, "/") + ref.Path
	target.RawPath = ""
	target.RawQuery = ref.RawQuery
	target.Fragment = ""
	return ref, &target, nil
}

func (c *Client) newError(errorType, message string, cause error, call *requestCall, retries int) *ClientError {
	return &ClientError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		RequestID:   call.requestID,
		Method:      call.method,
		URL:         call.target.String(),
		Endpoint:    call.path,
		Attempt:     retries,
		MaxAttempts: c.retry.MaxAttempts(),
		Timestamp:   c.now(),
		Duration:    time.Since(call.start),
	}
}

func (c *Client) statusError(call *requestCall, resp *Response, retries int) *ClientError {
	err := c.newError(ErrorTypeHTTPStatus, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil, call, retries)
	err.StatusCode = resp.StatusCode
	err.Body = resp.Body
	return err
}

func (c *Client) canceledError(call *requestCall, retries int, cause error) *ClientError {
	return c.newError(ErrorTypeCanceled, "request canceled", cause, call, retries)
}

func (c *Client) transportError(ctx, attemptCtx context.Context, err error, call *requestCall, retries int) *ClientError {
	if ctx.Err() != nil {
		return c.canceledError(call, retries, ctx.Err())
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return c.newError(ErrorTypeTimeout, fmt.Sprintf("attempt timed out after %s", call.opts.timeout), err, call, retries)
	}
	return c.newError(ErrorTypeNetwork, "network request failed", err, call, retries)
}

// annotate fills request context into a session error from the token manager.
func (c *Client) annotate(err error, call *requestCall, retries int) error {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return c.newError(ErrorTypeNetwork, "credential refresh failed", err, call, retries)
	}
	annotated := *clientErr
	annotated.RequestID = call.requestID
	annotated.Method = call.method
	annotated.URL = call.target.String()
	annotated.Endpoint = call.path
	annotated.Attempt = retries
	annotated.Duration = time.Since(call.start)
	return &annotated
}

func encodeBody(body interface{}) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "application/json", nil
	case json.RawMessage:
		return b, "application/json", nil
	case string:
		return []byte(b), "text/plain; charset=utf-8", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		return data, "application/octet-stream", err
	default:
		data, err := json.Marshal(b)
		return data, "application/json", err
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
