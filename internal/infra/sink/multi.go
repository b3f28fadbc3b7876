package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tick_book/internal/domain"
)

// Multi fans snapshots out to several sinks. A job commits only if every
// sink commits; sinks that have not committed yet are aborted on failure.
type Multi struct {
	sinks []domain.SnapshotSink
}

func NewMulti(sinks ...domain.SnapshotSink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Name() string { return "multi" }

// Len returns the number of configured sinks.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Begin(ctx context.Context, key domain.JobKey) (domain.SnapshotBatch, error) {
	mb := &multiBatch{}
	for _, s := range m.sinks {
		b, err := s.Begin(ctx, key)
		if err != nil {
			_ = mb.Abort(ctx)
			return nil, fmt.Errorf("%s: begin: %w", s.Name(), err)
		}
		mb.names = append(mb.names, s.Name())
		mb.batches = append(mb.batches, b)
	}
	return mb, nil
}

type multiBatch struct {
	names   []string
	batches []domain.SnapshotBatch
}

func (m *multiBatch) Write(ctx context.Context, snap domain.Snapshot) error {
	for i, b := range m.batches {
		if err := b.Write(ctx, snap); err != nil {
			return fmt.Errorf("%s: %w", m.names[i], err)
		}
	}
	return nil
}

func (m *multiBatch) Commit(ctx context.Context) error {
	for i, b := range m.batches {
		if err := b.Commit(ctx); err != nil {
			for j := i + 1; j < len(m.batches); j++ {
				_ = m.batches[j].Abort(ctx)
			}
			if i > 0 {
				slog.Error("PARTIAL_COMMIT", slog.Any("committed", m.names[:i]), slog.String("failed", m.names[i]))
			}
			return fmt.Errorf("%s: commit: %w", m.names[i], err)
		}
	}
	return nil
}

func (m *multiBatch) Abort(ctx context.Context) error {
	var errs []error
	for i, b := range m.batches {
		if err := b.Abort(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: abort: %w", m.names[i], err))
		}
	}
	return errors.Join(errs...)
}
