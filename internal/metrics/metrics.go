// Package metrics tracks client-level counters. Counters are exported two
// ways: as Prometheus collectors on an owned registry for the /metrics
// endpoint, and as an atomic snapshot for the /status endpoint.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ack results recorded per join request.
const (
	AckOK      = "ok"
	AckDenied  = "denied"
	AckTimeout = "timeout"
)

// Metrics tracks realtime and REST counters.
type Metrics struct {
	reg *prometheus.Registry

	eventsTotal   *prometheus.CounterVec
	eventsInvalid prometheus.Counter
	reconnects    prometheus.Counter
	acksTotal     *prometheus.CounterVec
	apiRequests   *prometheus.CounterVec
	apiLatency    prometheus.Histogram

	// Atomic mirrors for lock-free snapshots.
	events    atomic.Int64
	invalid   atomic.Int64
	reconnect atomic.Int64
	apiErrors atomic.Int64
	apiCalls  atomic.Int64
	apiLatSum atomic.Int64 // nanoseconds
}

// New creates a Metrics with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "events_total",
			Help:      "Realtime events received, by event type.",
		}, []string{"type"}),
		eventsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "events_invalid_total",
			Help:      "Realtime payloads dropped at decode.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "reconnects_total",
			Help:      "Successful reconnects after a dropped connection.",
		}),
		acksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "join_acks_total",
			Help:      "Join request outcomes, by result.",
		}, []string{"result"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "api_requests_total",
			Help:      "REST requests, by method and status code.",
		}, []string{"method", "code"}),
		apiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parley",
			Name:      "api_request_seconds",
			Help:      "REST request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.reg.MustRegister(
		m.eventsTotal,
		m.eventsInvalid,
		m.reconnects,
		m.acksTotal,
		m.apiRequests,
		m.apiLatency,
	)
	return m
}

// Registry returns the owned Prometheus registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// RecordEvent records one received realtime event.
func (m *Metrics) RecordEvent(eventType string) {
	m.eventsTotal.WithLabelValues(eventType).Inc()
	m.events.Add(1)
}

// RecordInvalidEvent records a payload dropped at decode.
func (m *Metrics) RecordInvalidEvent() {
	m.eventsInvalid.Inc()
	m.invalid.Add(1)
}

// RecordReconnect records a successful reconnect.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Inc()
	m.reconnect.Add(1)
}

// RecordAck records a join request outcome. Result is one of AckOK,
// AckDenied, AckTimeout.
func (m *Metrics) RecordAck(result string) {
	m.acksTotal.WithLabelValues(result).Inc()
}

// RecordAPIRequest records one REST request.
func (m *Metrics) RecordAPIRequest(method string, code int, latency time.Duration) {
	m.apiRequests.WithLabelValues(method, statusClass(code)).Inc()
	m.apiLatency.Observe(latency.Seconds())
	m.apiCalls.Add(1)
	m.apiLatSum.Add(int64(latency))
	if code >= 400 || code == 0 {
		m.apiErrors.Add(1)
	}
}

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() Snapshot {
	calls := m.apiCalls.Load()
	snap := Snapshot{
		Events:        m.events.Load(),
		InvalidEvents: m.invalid.Load(),
		Reconnects:    m.reconnect.Load(),
		APICalls:      calls,
		APIErrors:     m.apiErrors.Load(),
	}
	if calls > 0 {
		snap.APIAvgLatency = time.Duration(m.apiLatSum.Load() / calls)
	}
	return snap
}

// Snapshot is a serializable point-in-time metrics view.
type Snapshot struct {
	Events        int64         `json:"events"`
	InvalidEvents int64         `json:"invalid_events"`
	Reconnects    int64         `json:"reconnects"`
	APICalls      int64         `json:"api_calls"`
	APIErrors     int64         `json:"api_errors"`
	APIAvgLatency time.Duration `json:"api_avg_latency_ns"`
}

// statusClass buckets a status code for the code label ("2xx", "4xx"...).
// Code 0 means the request never produced a response.
func statusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
