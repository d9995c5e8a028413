package session

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tombee/libretto/pkg/transport"
)

// durationSampleCap bounds the recent-duration ring buffer.
const durationSampleCap = 128

// Metrics tracks per-session request counters and recent durations.
// With a meter provider the same observations mirror to OpenTelemetry.
type Metrics struct {
	mu            sync.Mutex
	byClass       map[string]int64
	retries       int64
	authRefreshes int64
	durations     []time.Duration
	next          int

	attrs       []attribute.KeyValue
	requestsCtr metric.Int64Counter
	retriesCtr  metric.Int64Counter
	refreshCtr  metric.Int64Counter
	latency     metric.Float64Histogram
}

// Snapshot is a point-in-time copy of the session metrics.
type Snapshot struct {
	// RequestsByClass counts responses by status class ("2xx".."5xx")
	// plus "error" for attempts that produced no response.
	RequestsByClass map[string]int64

	// Retries is the total number of retry attempts.
	Retries int64

	// AuthRefreshes counts token replacements observed during sends.
	AuthRefreshes int64

	// Durations holds up to the last 128 request durations, oldest first.
	Durations []time.Duration
}

// NewMetrics creates session metrics. A nil provider keeps metrics
// local; otherwise the counters mirror to OpenTelemetry instruments.
func NewMetrics(provider metric.MeterProvider, sessionName string) (*Metrics, error) {
	m := &Metrics{
		byClass: make(map[string]int64),
	}
	if sessionName != "" {
		m.attrs = []attribute.KeyValue{attribute.String("session", sessionName)}
	}
	if provider == nil {
		return m, nil
	}

	meter := provider.Meter("libretto")
	var err error

	m.requestsCtr, err = meter.Int64Counter(
		"libretto_session_requests_total",
		metric.WithDescription("Total requests sent by the session"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.retriesCtr, err = meter.Int64Counter(
		"libretto_session_retries_total",
		metric.WithDescription("Total retry attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	m.refreshCtr, err = meter.Int64Counter(
		"libretto_session_auth_refreshes_total",
		metric.WithDescription("Total auth token refreshes"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	m.latency, err = meter.Float64Histogram(
		"libretto_session_request_duration_seconds",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Record tracks one completed send. A nil response with an error counts
// under the "error" class.
func (m *Metrics) Record(ctx context.Context, resp *transport.Response, err error, duration time.Duration) {
	class := "error"
	retries := int64(0)
	if resp != nil {
		class = statusClass(resp.StatusCode)
		if n, ok := resp.Metadata[transport.MetadataRetryCount].(int); ok {
			retries = int64(n)
		}
	}

	m.mu.Lock()
	m.byClass[class]++
	m.retries += retries
	if len(m.durations) < durationSampleCap {
		m.durations = append(m.durations, duration)
	} else {
		m.durations[m.next] = duration
		m.next = (m.next + 1) % durationSampleCap
	}
	m.mu.Unlock()

	if m.requestsCtr != nil {
		attrs := append([]attribute.KeyValue{attribute.String("status_class", class)}, m.attrs...)
		m.requestsCtr.Add(ctx, 1, metric.WithAttributes(attrs...))
		if retries > 0 {
			m.retriesCtr.Add(ctx, retries, metric.WithAttributes(m.attrs...))
		}
		m.latency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordAuthRefresh counts one auth token replacement.
func (m *Metrics) RecordAuthRefresh(ctx context.Context) {
	m.mu.Lock()
	m.authRefreshes++
	m.mu.Unlock()

	if m.refreshCtr != nil {
		m.refreshCtr.Add(ctx, 1, metric.WithAttributes(m.attrs...))
	}
}

// Snapshot copies the current metrics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		RequestsByClass: make(map[string]int64, len(m.byClass)),
		Retries:         m.retries,
		AuthRefreshes:   m.authRefreshes,
	}
	for k, v := range m.byClass {
		snap.RequestsByClass[k] = v
	}

	// Oldest-first: the ring wraps at next once full.
	if len(m.durations) < durationSampleCap {
		snap.Durations = append(snap.Durations, m.durations...)
	} else {
		snap.Durations = append(snap.Durations, m.durations[m.next:]...)
		snap.Durations = append(snap.Durations, m.durations[:m.next]...)
	}
	return snap
}

// statusClass buckets an HTTP status code ("2xx", "4xx", ...).
func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
