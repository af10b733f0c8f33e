package apiclient

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ActivityTypeRequest is the activity event type of forwarded request metrics.
const ActivityTypeRequest = "api_request"

// RequestMetric describes one completed Request call.
type RequestMetric struct {
	Path       string
	Method     string
	StatusCode int
	Duration   time.Duration
	Cached     bool
	Timestamp  time.Time
	RequestID  string
	// Retries made before the final outcome.
	Retries int
	// Error is the error type of a failed call, empty on success.
	Error string
}

type requestMetricJSON struct {
	Path           string `json:"path"`
	Method         string `json:"method"`
	StatusCode     int    `json:"statusCode"`
	DurationMillis int64  `json:"durationMillis"`
	Cached         bool   `json:"cached"`
	TimestampISO   string `json:"timestampIso"`
	RequestID      string `json:"requestId,omitempty"`
	Retries        int    `json:"retries,omitempty"`
	Error          string `json:"error,omitempty"`
}

// MarshalJSON renders the record in its wire shape.
func (m RequestMetric) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestMetricJSON{
		Path:           m.Path,
		Method:         m.Method,
		StatusCode:     m.StatusCode,
		DurationMillis: m.Duration.Milliseconds(),
		Cached:         m.Cached,
		TimestampISO:   m.Timestamp.UTC().Format(time.RFC3339Nano),
		RequestID:      m.RequestID,
		Retries:        m.Retries,
		Error:          m.Error,
	})
}

// ActivityEvent converts the record into its activity log form.
func (m RequestMetric) ActivityEvent() ActivityEvent {
	status := fmt.Sprint(m.StatusCode)
	if m.Cached {
		status += " (cached)"
	}
	meta := map[string]interface{}{
		"path":           m.Path,
		"method":         m.Method,
		"statusCode":     m.StatusCode,
		"durationMillis": m.Duration.Milliseconds(),
		"cached":         m.Cached,
	}
	if m.RequestID != "" {
		meta["requestId"] = m.RequestID
	}
	if m.Retries > 0 {
		meta["retries"] = m.Retries
	}
	if m.Error != "" {
		meta["error"] = m.Error
	}
	return ActivityEvent{
		Type:        ActivityTypeRequest,
		Description: fmt.Sprintf("%s %s -> %s", m.Method, m.Path, status),
		Metadata:    meta,
		Timestamp:   m.Timestamp,
	}
}

// MetricsSink buffers request records for local inspection and forwards each
// one to an ActivitySink. The buffer keeps the newest capacity records.
type MetricsSink struct {
	capacity int
	forward  ActivitySink

	mu      sync.Mutex
	records []RequestMetric
	dropped uint64
}

// NewMetricsSink creates a sink. A capacity of zero or less means unbounded;
// forward may be nil.
func NewMetricsSink(capacity int, forward ActivitySink) *MetricsSink {
	return &MetricsSink{capacity: capacity, forward: forward}
}

// Record appends m and hands it to the forwarder without waiting.
func (s *MetricsSink) Record(m RequestMetric) {
	s.mu.Lock()
	if s.capacity > 0 && len(s.records) >= s.capacity {
		over := len(s.records) - s.capacity + 1
		s.records = append(s.records[:0], s.records[over:]...)
		s.dropped += uint64(over)
	}
	s.records = append(s.records, m)
	forward := s.forward
	s.mu.Unlock()

	if forward != nil {
		forward.Send(m.ActivityEvent())
	}
}

// Drain returns every buffered record, oldest first, and empties the buffer.
func (s *MetricsSink) Drain() []RequestMetric {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.records
	s.records = nil
	return out
}

// Snapshot returns a copy of the buffer without emptying it.
func (s *MetricsSink) Snapshot() []RequestMetric {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RequestMetric, len(s.records))
	copy(out, s.records)
	return out
}

// Reset empties the buffer and the dropped counter.
func (s *MetricsSink) Reset() {
	s.mu.Lock()
	s.records = nil
	s.dropped = 0
	s.mu.Unlock()
}

// Len returns the number of buffered records.
func (s *MetricsSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Dropped returns how many records were pushed out by the capacity bound.
func (s *MetricsSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// SetForwarder replaces the activity forwarder.
func (s *MetricsSink) SetForwarder(forward ActivitySink) {
	s.mu.Lock()
	s.forward = forward
	s.mu.Unlock()
}
