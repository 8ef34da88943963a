// Package metrics holds the Prometheus instruments of the daemon.
//
// A nil registry yields a nil *Metrics; every method is safe on a nil
// receiver so components never check whether metrics are enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xtxerr/telestream/internal/store"
)

const namespace = "telestream"

// Metrics holds the daemon's instruments.
type Metrics struct {
	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	framesSent      *prometheus.CounterVec
	bytesSent       prometheus.Counter
	encodeFallbacks prometheus.Counter
	ticksSkipped    prometheus.Counter
	framesDropped   prometheus.Counter
	decodeErrors    prometheus.Counter
	requests        prometheus.Counter
	updatesSent     prometheus.Counter
	ingested        *prometheus.CounterVec
	writeDuration   prometheus.Histogram
}

// New creates and registers the instruments. Returns nil if reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of open streaming sessions",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Total streaming sessions started",
		}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frames_sent_total",
			Help:      "Frames written to peers by encoding",
		}, []string{"encoding"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes written to peers",
		}),
		encodeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "encode_fallbacks_total",
			Help:      "Ticks re-encoded in plain form after a columnar encode error",
		}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "ticks_skipped_total",
			Help:      "Send intervals missed because the ticker fell behind",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the send queue stayed full",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "decode_errors_total",
			Help:      "Inbound frames discarded because they failed to decode",
		}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "requests_total",
			Help:      "Sync requests answered",
		}),
		updatesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "updates_sent_total",
			Help:      "Topic updates sent in request replies",
		}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "samples_ingested_total",
			Help:      "Samples added to the store by source",
		}, []string{"source"}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "write_duration_seconds",
			Help:      "Time to write one frame to the peer",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}

	reg.MustRegister(
		m.sessionsActive,
		m.sessionsTotal,
		m.framesSent,
		m.bytesSent,
		m.encodeFallbacks,
		m.ticksSkipped,
		m.framesDropped,
		m.decodeErrors,
		m.requests,
		m.updatesSent,
		m.ingested,
		m.writeDuration,
	)
	return m
}

// RegisterStore exports the store's topic and point counts, read at scrape
// time.
func RegisterStore(reg prometheus.Registerer, st *store.Store) {
	if reg == nil || st == nil {
		return
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "topics",
			Help:      "Number of topics in the store",
		}, func() float64 { return float64(st.Stats().Topics) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "points",
			Help:      "Number of points in the store",
		}, func() float64 { return float64(st.Stats().Points) }),
	)
}

// SessionStarted records a new session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

// SessionEnded records a closed session.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// FrameSent records one written frame.
func (m *Metrics) FrameSent(encoding string, bytes int, took time.Duration) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(encoding).Inc()
	m.bytesSent.Add(float64(bytes))
	m.writeDuration.Observe(took.Seconds())
}

// EncodeFallback records a plain re-encode after a columnar failure.
func (m *Metrics) EncodeFallback() {
	if m == nil {
		return
	}
	m.encodeFallbacks.Inc()
}

// TicksSkipped records missed send intervals.
func (m *Metrics) TicksSkipped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.ticksSkipped.Add(float64(n))
}

// FrameDropped records a frame dropped on a full queue.
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

// DecodeError records a discarded inbound frame.
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// RequestAnswered records a sync request and the number of updates sent.
func (m *Metrics) RequestAnswered(updates int) {
	if m == nil {
		return
	}
	m.requests.Inc()
	m.updatesSent.Add(float64(updates))
}

// Ingested records samples added to the store.
func (m *Metrics) Ingested(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingested.WithLabelValues(source).Add(float64(n))
}
