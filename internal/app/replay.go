package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tick_book/internal/domain"
	"tick_book/internal/engine"
	"tick_book/internal/event"
	"tick_book/internal/infra/source"
	"tick_book/internal/replay"
)

// ReplayResult summarizes a replay run.
type ReplayResult struct {
	Events   uint64
	FeedRows int64
	Jobs     []JobResult // only when driving the sequencer
}

// RunReplay merges the inputs of every symbol into one globally ordered,
// resequenced feed. The feed is written to m.OutputPath and, with m.Drive,
// applied to one multi-symbol sequencer whose snapshots go to the sinks.
// A timestamp regression fails the whole replay; any other error only
// fails its symbol.
func (r *Runner) RunReplay(ctx context.Context, m domain.ReplayMode) (ReplayResult, error) {
	var out ReplayResult
	opener := r.opener(m.Exchange, m.TradeDate, m.InputDir, m.Format)

	streams := make([]replay.Stream, 0, len(m.Symbols))
	for _, sym := range m.Symbols {
		s, err := opener.Open(sym)
		if err != nil {
			return out, fmt.Errorf("open %s: %w", sym, err)
		}
		defer s.Close()
		streams = append(streams, s)
	}
	merger, err := replay.NewMerger(streams...)
	if err != nil {
		return out, err
	}
	merger.Resequence = true

	var feed *source.FeedWriter
	if m.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(m.OutputPath), 0755); err != nil {
			return out, err
		}
		if feed, err = source.CreateFeed(m.OutputPath); err != nil {
			return out, err
		}
	}

	var d *driver
	if m.Drive {
		if d, err = r.newDriver(ctx, m.Symbols, m.TradeDate); err != nil {
			if feed != nil {
				feed.Abort()
			}
			return out, err
		}
	}

	fail := func(err error) (ReplayResult, error) {
		if feed != nil {
			feed.Abort()
		}
		if d != nil {
			out.Jobs = d.abortAll(err)
		}
		return out, err
	}

	for ev, err := range merger.All() {
		if err != nil {
			return fail(err)
		}
		out.Events++
		if feed != nil {
			if err := feed.Write(ev); err != nil {
				return fail(fmt.Errorf("write feed: %w", err))
			}
		}
		if d != nil {
			if err := d.apply(ev); err != nil {
				return fail(err)
			}
		}
		if out.Events%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
		}
	}

	if feed != nil {
		out.FeedRows = feed.Rows()
		if err := feed.Close(); err != nil {
			return fail(fmt.Errorf("close feed: %w", err))
		}
		slog.Info("Replay feed written", slog.String("path", m.OutputPath), slog.Int64("rows", out.FeedRows))
	}
	if d != nil {
		out.Jobs = d.finish()
		return out, summarize(out.Jobs)
	}
	return out, nil
}

// driver applies a merged feed to one sequencer and routes each symbol's
// snapshots to its own sink batch.
type driver struct {
	r       *Runner
	ctx     context.Context
	start   time.Time
	seq     *engine.Sequencer
	aud     *auditRun
	ticks   tickRules
	symbols []string
	jobs    map[string]*JobResult
	batches map[string]domain.SnapshotBatch
}

func (r *Runner) newDriver(ctx context.Context, symbols []string, tradeDate string) (*driver, error) {
	d := &driver{
		r:       r,
		ctx:     ctx,
		start:   time.Now(),
		ticks:   tickRules{},
		symbols: symbols,
		jobs:    make(map[string]*JobResult, len(symbols)),
		batches: make(map[string]domain.SnapshotBatch, len(symbols)),
	}
	for _, sym := range symbols {
		key := domain.JobKey{RunID: r.runID(), Symbol: sym, TradeDate: tradeDate}
		b, err := r.Sink.Begin(ctx, key)
		if err != nil {
			d.abortAll(err)
			return nil, fmt.Errorf("begin %s: %w", sym, err)
		}
		d.jobs[sym] = &JobResult{Key: key}
		d.batches[sym] = b
	}

	aud, err := r.recorder(tradeDate, symbols...)
	if err != nil {
		d.abortAll(err)
		return nil, err
	}
	d.aud = aud
	d.seq = engine.NewSequencer(0, r.Snapshot, aud.recorder(), d.route)
	d.seq.SetOutcomeHook(r.outcomeHook(d.ticks))
	return d, nil
}

func (d *driver) route(s domain.Snapshot) error {
	b, ok := d.batches[s.Symbol]
	if !ok {
		return fmt.Errorf("snapshot for unexpected symbol %q", s.Symbol)
	}
	d.jobs[s.Symbol].Snapshots++
	return b.Write(d.ctx, s)
}

// apply returns an error only when the whole replay must stop.
func (d *driver) apply(ev event.Event) error {
	err := d.seq.ReplayEvent(ev)
	switch {
	case err == nil:
		d.jobs[ev.Symbol].Events++
		return nil
	case errors.Is(err, domain.ErrSequenceGap):
		return err
	case errors.Is(err, engine.ErrSymbolHalted):
		return nil
	}
	job := d.jobs[ev.Symbol]
	job.Err = err
	slog.Error("SYMBOL_HALTED", slog.String("symbol", ev.Symbol), slog.Uint64("seq", ev.Seq), slog.Any("error", err))
	return nil
}

// finish emits closing snapshots, then commits healthy symbols and aborts failed ones.
func (d *driver) finish() []JobResult {
	bg := context.WithoutCancel(d.ctx)
	if err := d.seq.Finalize(); err != nil {
		return d.abortAll(err)
	}

	d.aud.close()

	results := make([]JobResult, 0, len(d.symbols))
	for _, sym := range d.symbols {
		job, b := d.jobs[sym], d.batches[sym]
		if job.Err == nil {
			if err := b.Commit(bg); err != nil {
				job.Err = fmt.Errorf("commit: %w", err)
			}
		}
		if job.Err != nil {
			_ = b.Abort(bg)
			d.aud.discard(sym)
		} else {
			if book, ok := d.seq.Book(sym); ok {
				job.Stats = book.Stats()
			}
			job.TickRule = d.ticks.get(sym).Summary()
			if d.r.Metrics != nil {
				emitted, zero := d.seq.Emitted(sym)
				d.r.Metrics.RecordSnapshots(sym, emitted, zero)
			}
		}
		results = append(results, d.close(job))
	}
	return results
}

func (d *driver) abortAll(cause error) []JobResult {
	bg := context.WithoutCancel(d.ctx)
	if d.aud != nil {
		d.aud.discard(d.symbols...)
	}
	results := make([]JobResult, 0, len(d.jobs))
	for _, sym := range d.symbols {
		job, ok := d.jobs[sym]
		if !ok {
			continue
		}
		_ = d.batches[sym].Abort(bg)
		if job.Err == nil {
			job.Err = cause
		}
		results = append(results, d.close(job))
	}
	return results
}

func (d *driver) close(job *JobResult) JobResult {
	job.Duration = time.Since(d.start)
	log := slog.With(slog.String("symbol", job.Key.Symbol), slog.String("run_id", job.Key.RunID))
	d.r.finish(log, job)
	return *job
}
