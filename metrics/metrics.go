// Package metrics exposes Prometheus instrumentation for the control server
// and streaming workers.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "songstream"

// Stream outcomes recorded by ObserveStream.
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
	OutcomeNoPeer    = "no_peer"
	OutcomeFailed    = "failed"
)

// Metrics holds the server's collectors. All methods are nil-safe: calls on
// a nil *Metrics are no-ops, which is how metrics are disabled.
type Metrics struct {
	// Connections tracks open control connections.
	Connections prometheus.Gauge

	// Commands counts executed commands by verb and result ("ok", "error", "invalid").
	Commands *prometheus.CounterVec

	// Sessions tracks logged-in identities.
	Sessions prometheus.Gauge

	// ActiveStreams tracks streaming workers that have not returned yet.
	ActiveStreams prometheus.Gauge

	// Streams counts finished streams by outcome.
	Streams *prometheus.CounterVec

	// StreamedBytes counts bytes written to data connections.
	StreamedBytes prometheus.Counter

	// StreamDuration observes how long streams take from accept to close.
	StreamDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "connections",
			Help:      "Current number of open control connections",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "commands_total",
			Help:      "Total number of control commands by verb and result",
		}, []string{"verb", "result"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Current number of logged-in users",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "streams",
			Name:      "active",
			Help:      "Current number of streaming workers",
		}),
		Streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "streams",
			Name:      "finished_total",
			Help:      "Total number of finished streams by outcome",
		}, []string{"outcome"}),
		StreamedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "streams",
			Name:      "bytes_total",
			Help:      "Total number of bytes sent on data connections",
		}),
		StreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "streams",
			Name:      "duration_seconds",
			Help:      "Duration of streams from accept to close",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}

	if reg != nil {
		m.Connections = registerOrReuse(reg, m.Connections).(prometheus.Gauge)
		m.Commands = registerOrReuse(reg, m.Commands).(*prometheus.CounterVec)
		m.Sessions = registerOrReuse(reg, m.Sessions).(prometheus.Gauge)
		m.ActiveStreams = registerOrReuse(reg, m.ActiveStreams).(prometheus.Gauge)
		m.Streams = registerOrReuse(reg, m.Streams).(*prometheus.CounterVec)
		m.StreamedBytes = registerOrReuse(reg, m.StreamedBytes).(prometheus.Counter)
		m.StreamDuration = registerOrReuse(reg, m.StreamDuration).(prometheus.Histogram)
	}

	return m
}

// registerOrReuse registers c, or returns the collector already registered
// under the same descriptor.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// Handler serves the collectors gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

// RecordCommand counts one executed command.
func (m *Metrics) RecordCommand(verb, result string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(verb, result).Inc()
}

// SetSessions sets the logged-in user gauge.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(n))
}

// StreamStarted increments the active stream gauge.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// ObserveStream records a finished stream.
//
// Parameters:
//   - outcome: One of the Outcome constants
//   - bytes: Bytes written to the peer
//   - d: Time from accept to close, zero if no peer connected
func (m *Metrics) ObserveStream(outcome string, bytes int64, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.Streams.WithLabelValues(outcome).Inc()
	m.StreamedBytes.Add(float64(bytes))
	if d > 0 {
		m.StreamDuration.Observe(d.Seconds())
	}
}
