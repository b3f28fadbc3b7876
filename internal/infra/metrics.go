package infra

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one process, registered on an
// explicit registry, plus atomic totals for the end-of-run summary.
type Metrics struct {
	reg *prometheus.Registry

	EventsApplied    *prometheus.CounterVec
	BookAnomalies    *prometheus.CounterVec
	RowsDropped      *prometheus.CounterVec
	SnapshotsEmitted *prometheus.CounterVec
	ZeroLevels       prometheus.Counter
	Jobs             *prometheus.CounterVec
	JobDuration      prometheus.Histogram
	FeedConnections  prometheus.Gauge

	eventsTotal    atomic.Uint64
	anomaliesTotal atomic.Uint64
	errorsTotal    atomic.Uint64
	connections    atomic.Int32
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		EventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickbook_events_applied_total",
			Help: "Events folded into a book, by kind",
		}, []string{"kind"}),
		BookAnomalies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickbook_book_anomalies_total",
			Help: "Book anomalies (no-ops and clamps), by result",
		}, []string{"result"}),
		RowsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickbook_rows_dropped_total",
			Help: "Raw rows dropped for unmapped codes",
		}, []string{"mapping", "field"}),
		SnapshotsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickbook_snapshots_emitted_total",
			Help: "Snapshots produced, by symbol",
		}, []string{"symbol"}),
		ZeroLevels: f.NewCounter(prometheus.CounterOpts{
			Name: "tickbook_zero_volume_levels_total",
			Help: "Zero-volume levels found while projecting snapshots",
		}),
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickbook_jobs_total",
			Help: "Symbol-day jobs by final status",
		}, []string{"status"}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickbook_job_duration_seconds",
			Help:    "Wall time of one symbol-day job",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		FeedConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "tickbook_feed_connections",
			Help: "Open live feed connections",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// RecordEvent counts an event applied to a book.
func (m *Metrics) RecordEvent(kind string) {
	m.EventsApplied.WithLabelValues(kind).Inc()
	m.eventsTotal.Add(1)
}

// RecordAnomaly counts an unknown reference, overfill or duplicate add.
func (m *Metrics) RecordAnomaly(result string) {
	m.BookAnomalies.WithLabelValues(result).Inc()
	m.anomaliesTotal.Add(1)
}

// RecordDrop counts a raw row dropped by the normalizer.
func (m *Metrics) RecordDrop(mapping, field string) {
	m.RowsDropped.WithLabelValues(mapping, field).Inc()
}

// RecordSnapshots adds emitted snapshots and zero-volume levels for a symbol.
func (m *Metrics) RecordSnapshots(symbol string, emitted, zeroLevels uint64) {
	m.SnapshotsEmitted.WithLabelValues(symbol).Add(float64(emitted))
	m.ZeroLevels.Add(float64(zeroLevels))
}

// RecordJob records a finished job.
func (m *Metrics) RecordJob(status string, d time.Duration) {
	m.Jobs.WithLabelValues(status).Inc()
	m.JobDuration.Observe(d.Seconds())
	if status != "committed" {
		m.errorsTotal.Add(1)
	}
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.FeedConnections.Set(float64(m.connections.Add(1)))
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.FeedConnections.Set(float64(m.connections.Add(-1)))
}

// MetricsSnapshot is a point-in-time view of the run totals.
type MetricsSnapshot struct {
	EventsApplied     uint64
	Anomalies         uint64
	FailedJobs        uint64
	ActiveConnections int32
	Timestamp         time.Time
}

// Snapshot returns current totals.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EventsApplied:     m.eventsTotal.Load(),
		Anomalies:         m.anomaliesTotal.Load(),
		FailedJobs:        m.errorsTotal.Load(),
		ActiveConnections: m.connections.Load(),
		Timestamp:         time.Now(),
	}
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, m.reg)
}
