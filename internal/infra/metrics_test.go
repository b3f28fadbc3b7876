package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordEvent(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordEvent("ADD")
	m.RecordEvent("ADD")
	m.RecordEvent("TRADE")
	m.RecordAnomaly("overfill")

	if got := testutil.ToFloat64(m.EventsApplied.WithLabelValues("ADD")); got != 2 {
		t.Errorf("ADD count = %v, want 2", got)
	}

	snap := m.Snapshot()
	if snap.EventsApplied != 3 {
		t.Errorf("Expected 3 events, got %d", snap.EventsApplied)
	}
	if snap.Anomalies != 1 {
		t.Errorf("Expected 1 anomaly, got %d", snap.Anomalies)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	if got := testutil.ToFloat64(m.FeedConnections); got != 3 {
		t.Errorf("Expected 3 connections, got %v", got)
	}

	m.DecrementConnections()
	snap := m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_Jobs(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordJob("committed", time.Second)
	m.RecordJob("failed", 2*time.Second)
	m.RecordSnapshots("600000", 5, 1)

	if got := testutil.ToFloat64(m.Jobs.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed jobs = %v", got)
	}
	if got := testutil.ToFloat64(m.SnapshotsEmitted.WithLabelValues("600000")); got != 5 {
		t.Errorf("snapshots = %v", got)
	}
	if m.Snapshot().FailedJobs != 1 {
		t.Error("failed job should be counted in the summary")
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordEvent("CANCEL")

	path := filepath.Join(t.TempDir(), "nested", "tick_book.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `tickbook_events_applied_total{kind="CANCEL"} 1`) {
		t.Errorf("textfile missing counter:\n%s", raw)
	}

	if err := m.WriteTextfile(""); err != nil {
		t.Error("empty path should be a no-op")
	}
}
