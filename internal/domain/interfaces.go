package domain

import (
	"context"

	"tick_book/internal/event"
)

// ExchangeWorker defines the interface for live feed connectors
type ExchangeWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// JobKey identifies one symbol-day reconstruction run.
type JobKey struct {
	RunID     string
	Symbol    string
	TradeDate string
}

// SnapshotSink persists snapshots. Each job gets its own batch, so a sink
// only has to be safe for concurrent Begin calls.
type SnapshotSink interface {
	Name() string
	Begin(ctx context.Context, key JobKey) (SnapshotBatch, error)
	Close() error
}

// SnapshotBatch stages one job's output. Nothing is visible before Commit;
// Abort discards everything written so far.
type SnapshotBatch interface {
	Write(ctx context.Context, snap Snapshot) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Recorder captures the derived event stream (after clamping and id resolution).
type Recorder interface {
	Record(ev event.Event) error
	Flush() error
}
