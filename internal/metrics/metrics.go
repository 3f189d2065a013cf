// Package metrics exposes broker metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adyach/nakadi/internal/cursor"
	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/eventlog"
	"github.com/adyach/nakadi/internal/events"
	pebblestore "github.com/adyach/nakadi/internal/storage/pebble"
	"github.com/adyach/nakadi/internal/timeline"
)

const namespace = "nakadi"

// Metrics owns a private registry and every broker collector.
type Metrics struct {
	registry *prometheus.Registry

	switches        *prometheus.CounterVec
	switchDuration  prometheus.Histogram
	cursorRejected  *prometheus.CounterVec
	published       *prometheus.CounterVec
	read            *prometheus.CounterVec
	trimmed         *prometheus.CounterVec
	storageLatency  *prometheus.HistogramVec
	storageBytes    *prometheus.CounterVec
	batchOperations prometheus.Histogram
}

var (
	_ timeline.Metrics         = (*Metrics)(nil)
	_ cursor.RejectionRecorder = (*Metrics)(nil)
	_ events.Metrics           = (*Metrics)(nil)
	_ eventlog.TrimObserver    = (*Metrics)(nil)
	_ pebblestore.MetricsHook  = (*Metrics)(nil)
)

// New registers the broker collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		switches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timeline", Name: "switches_total",
			Help: "Timeline switches by outcome.",
		}, []string{"event_type", "outcome"}),
		switchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "timeline", Name: "switch_duration_seconds",
			Help:    "Time from raising the barrier to lifting it.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		cursorRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cursor", Name: "rejected_total",
			Help: "Cursors rejected by the codec, by kind.",
		}, []string{"kind"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "published_total",
			Help: "Events appended by producers.",
		}, []string{"event_type"}),
		read: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "read_total",
			Help: "Events returned to consumers.",
		}, []string{"event_type"}),
		trimmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retention", Name: "trimmed_events_total",
			Help: "Events deleted by retention, by storage.",
		}, []string{"storage"}),
		storageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pebble", Name: "op_duration_seconds",
			Help:    "Embedded database operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"op"}),
		storageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pebble", Name: "bytes_total",
			Help: "Bytes moved by embedded database operations.",
		}, []string{"op"}),
		batchOperations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pebble", Name: "batch_ops",
			Help:    "Operations per committed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	m.registry.MustRegister(
		m.switches, m.switchDuration, m.cursorRejected, m.published, m.read,
		m.trimmed, m.storageLatency, m.storageBytes, m.batchOperations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) TimelineSwitched(eventType string, success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.switches.WithLabelValues(eventType, outcome).Inc()
	m.switchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) CursorRejected(kind domain.CursorErrorKind) {
	m.cursorRejected.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) EventsPublished(eventType string, count int) {
	m.published.WithLabelValues(eventType).Add(float64(count))
}

func (m *Metrics) EventsRead(eventType string, count int) {
	m.read.WithLabelValues(eventType).Add(float64(count))
}

// ObserveTrim counts a deleted sequence range of one partition.
func (m *Metrics) ObserveTrim(scope, _ string, _ uint32, minSeq, maxSeq uint64) {
	if maxSeq < minSeq {
		return
	}
	m.trimmed.WithLabelValues(scope).Add(float64(maxSeq - minSeq + 1))
}

func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.storageLatency.WithLabelValues("write").Observe(elapsed.Seconds())
	m.storageBytes.WithLabelValues("write").Add(float64(bytes))
}

func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.storageLatency.WithLabelValues("read").Observe(elapsed.Seconds())
	m.storageBytes.WithLabelValues("read").Add(float64(bytes))
}

func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	m.storageLatency.WithLabelValues("batch_commit").Observe(elapsed.Seconds())
	m.storageBytes.WithLabelValues("batch_commit").Add(float64(bytes))
	m.batchOperations.Observe(float64(numOps))
}
