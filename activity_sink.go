package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	activityInitialBackoff = 200 * time.Millisecond
	activityMaxBackoff     = 5 * time.Second
)

// ActivityEvent is the body of POST /activity-log.
type ActivityEvent struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// ActivitySink receives activity events. Send must not block and reports
// whether the event was accepted.
type ActivitySink interface {
	Send(ev ActivityEvent) bool
}

// ActivitySinkFunc adapts a function to ActivitySink.
type ActivitySinkFunc func(ev ActivityEvent) bool

func (f ActivitySinkFunc) Send(ev ActivityEvent) bool {
	return f(ev)
}

// HTTPActivitySink posts events to the activity log from a single background
// worker. A full queue drops the event; delivery failures are logged and
// counted, never returned.
type HTTPActivitySink struct {
	endpoint    string
	httpClient  *http.Client
	tokenSource func() string
	maxRetries  int
	logger      Logger
	metrics     *MetricsCollector

	mu       sync.RWMutex
	closed   bool
	queue    chan ActivityEvent
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewHTTPActivitySink starts a sink posting to baseURL+cfg.Path. tokenSource,
// when set, supplies a bearer token per delivery.
func NewHTTPActivitySink(baseURL string, httpClient *http.Client, cfg ActivityConfig, tokenSource func() string, logger Logger, metrics *MetricsCollector) *HTTPActivitySink {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = NopLogger()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}

	s := &HTTPActivitySink{
		endpoint:    strings.TrimRight(baseURL, "/") + cfg.Path,
		httpClient:  httpClient,
		tokenSource: tokenSource,
		maxRetries:  cfg.MaxRetries,
		logger:      logger,
		metrics:     metrics,
		queue:       make(chan ActivityEvent, queueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

// Send enqueues ev without blocking.
func (s *HTTPActivitySink) Send(ev ActivityEvent) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.metrics.RecordActivityDropped("closed")
		return false
	}
	select {
	case s.queue <- ev:
		return true
	default:
		s.metrics.RecordActivityDropped("queue_full")
		s.logger.Debug("Activity queue full, event dropped", "type", ev.Type)
		return false
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end, whichever comes first.
func (s *HTTPActivitySink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.stopOnce.Do(func() { close(s.stop) })
		<-s.done
		return ctx.Err()
	}
}

func (s *HTTPActivitySink) run() {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for ev := range s.queue {
		if ctx.Err() != nil {
			s.metrics.RecordActivityDropped("shutdown")
			continue
		}
		if err := s.deliver(ctx, ev); err != nil {
			s.metrics.RecordActivityDropped("delivery_failed")
			s.logger.Warn("Activity log delivery failed", "type", ev.Type, "error", err)
		}
	}
}

func (s *HTTPActivitySink) deliver(ctx context.Context, ev ActivityEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode activity event: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", UserAgent())
		if s.tokenSource != nil {
			if token := s.tokenSource(); token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
			return backoff.Permanent(fmt.Errorf("activity log rejected event: status %d", resp.StatusCode))
		default:
			return fmt.Errorf("activity log unavailable: status %d", resp.StatusCode)
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(activityInitialBackoff),
				backoff.WithMaxInterval(activityMaxBackoff),
			),
			uint64(s.maxRetries),
		),
		ctx,
	)

	return backoff.RetryNotify(operation, policy, func(err error, d time.Duration) {
		s.logger.Debug("Retrying activity log delivery", "type", ev.Type, "error", err, "backoff", d)
	})
}
