package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tick_book/internal/analytics"
	"tick_book/internal/domain"
	"tick_book/internal/engine"
	"tick_book/internal/event"
	"tick_book/internal/infra"
	"tick_book/internal/infra/audit"
	"tick_book/internal/infra/source"
	"tick_book/internal/normalize"
	"tick_book/internal/snapshot"
)

const (
	StatusCommitted = "committed"
	StatusFailed    = "failed"

	cancelCheckEvery = 4096
)

// ErrJobsFailed is returned when at least one symbol-day did not commit.
var ErrJobsFailed = errors.New("jobs failed")

// JobResult is the outcome of one symbol-day.
type JobResult struct {
	Key       domain.JobKey
	Status    string
	Events    uint64
	Snapshots uint64
	Dropped   map[string]uint64
	Stats     engine.Stats
	TickRule  analytics.Summary
	Duration  time.Duration
	Err       error
}

// Runner executes reconstruction jobs against the configured sinks.
type Runner struct {
	Sink        domain.SnapshotSink
	Audit       *audit.Store
	Metrics     *infra.Metrics
	Mappings    normalize.Mappings
	Snapshot    snapshot.Config
	Concurrency int

	newRunID func() string
}

func (r *Runner) runID() string {
	if r.newRunID != nil {
		return r.newRunID()
	}
	return uuid.NewString()
}

func (r *Runner) opener(exchange, tradeDate, dir string, format domain.InputFormat) source.Opener {
	o := source.Opener{
		Dir:       dir,
		Format:    format,
		Exchange:  exchange,
		TradeDate: tradeDate,
		Mappings:  r.Mappings,
	}
	if r.Metrics != nil {
		o.OnDrop = r.Metrics.RecordDrop
	}
	return o
}

// RunOffline reconstructs every symbol of m independently, at most
// Concurrency at a time. A failed symbol does not stop the others.
func (r *Runner) RunOffline(ctx context.Context, m domain.OfflineMode) ([]JobResult, error) {
	opener := r.opener(m.Exchange, m.TradeDate, m.InputDir, m.Format)
	results := make([]JobResult, len(m.Symbols))

	var g errgroup.Group
	g.SetLimit(max(r.Concurrency, 1))
	for i, sym := range m.Symbols {
		g.Go(func() error {
			results[i] = r.runJob(ctx, opener, sym, m.TradeDate)
			return nil
		})
	}
	_ = g.Wait()
	return results, summarize(results)
}

func summarize(results []JobResult) error {
	failed := 0
	for _, res := range results {
		if res.Status != StatusCommitted {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrJobsFailed, failed, len(results))
	}
	return nil
}

func (r *Runner) runJob(ctx context.Context, opener source.Opener, symbol, tradeDate string) (res JobResult) {
	start := time.Now()
	res.Key = domain.JobKey{RunID: r.runID(), Symbol: symbol, TradeDate: tradeDate}
	log := slog.With(slog.String("symbol", symbol), slog.String("run_id", res.Key.RunID))

	defer func() {
		res.Duration = time.Since(start)
		r.finish(log, &res)
	}()

	batch, err := r.Sink.Begin(ctx, res.Key)
	if err != nil {
		res.Err = fmt.Errorf("begin: %w", err)
		return
	}
	// Sink cleanup must survive a cancelled run.
	bg := context.WithoutCancel(ctx)

	aud, err := r.recorder(tradeDate, symbol)
	if err != nil {
		res.Err = err
		_ = batch.Abort(bg)
		return
	}
	defer aud.close()

	if err := r.reconstructSafely(ctx, opener, batch, aud.recorder(), &res); err != nil {
		res.Err = err
		if aerr := batch.Abort(bg); aerr != nil {
			log.Error("Abort failed", slog.Any("error", aerr))
		}
		aud.discard(symbol)
		return
	}
	if err := batch.Commit(bg); err != nil {
		res.Err = fmt.Errorf("commit: %w", err)
		_ = batch.Abort(bg)
		aud.discard(symbol)
	}
	return
}

// reconstructSafely turns a panic in one job into that job's error so the
// other goroutines of the run keep going.
func (r *Runner) reconstructSafely(ctx context.Context, opener source.Opener, batch domain.SnapshotBatch, rec domain.Recorder, res *JobResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.String("symbol", res.Key.Symbol), slog.Any("panic", p))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.reconstruct(ctx, opener, batch, rec, res)
}

func (r *Runner) reconstruct(ctx context.Context, opener source.Opener, batch domain.SnapshotBatch, rec domain.Recorder, res *JobResult) error {
	symbol := res.Key.Symbol

	stream, err := opener.Open(symbol)
	if err != nil {
		return err
	}
	defer stream.Close()

	ticks := tickRules{}
	seq := engine.NewSequencer(0, r.Snapshot, rec, func(s domain.Snapshot) error {
		res.Snapshots++
		return batch.Write(ctx, s)
	})
	seq.SetOutcomeHook(r.outcomeHook(ticks))

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := seq.ReplayEvent(ev); err != nil {
			return err
		}
		res.Events++
		if res.Events%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	if err := seq.Finalize(); err != nil {
		return err
	}

	res.Dropped = stream.Dropped()
	res.TickRule = ticks.get(symbol).Summary()
	if book, ok := seq.Book(symbol); ok {
		res.Stats = book.Stats()
	}
	if r.Metrics != nil {
		emitted, zero := seq.Emitted(symbol)
		r.Metrics.RecordSnapshots(symbol, emitted, zero)
	}
	return nil
}

// auditRun is the audit side of one run. A nil rec means auditing is off.
type auditRun struct {
	store     *audit.Store
	rec       *audit.Recorder
	tradeDate string
}

// recorder opens the audit recorder for a run, clearing what earlier runs
// of the same symbols recorded.
func (r *Runner) recorder(tradeDate string, symbols ...string) (*auditRun, error) {
	a := &auditRun{store: r.Audit, tradeDate: tradeDate}
	if r.Audit == nil {
		return a, nil
	}
	for _, sym := range symbols {
		if err := r.Audit.Reset(sym, tradeDate); err != nil {
			return nil, fmt.Errorf("reset audit: %w", err)
		}
	}
	a.rec = r.Audit.Recorder(tradeDate)
	return a, nil
}

func (a *auditRun) recorder() domain.Recorder {
	if a.rec == nil {
		return nil
	}
	return a.rec
}

// discard drops everything the run recorded for symbols, including batches
// already committed to the store.
func (a *auditRun) discard(symbols ...string) {
	if a.rec == nil {
		return
	}
	a.close()
	for _, sym := range symbols {
		if err := a.store.Reset(sym, a.tradeDate); err != nil {
			slog.Error("Audit discard failed", slog.String("symbol", sym), slog.Any("error", err))
		}
	}
}

func (a *auditRun) close() {
	if a.rec == nil {
		return
	}
	if err := a.rec.Close(); err != nil {
		slog.Warn("Audit recorder close failed", slog.Any("error", err))
	}
}

func (r *Runner) finish(log *slog.Logger, res *JobResult) {
	if res.Err != nil {
		res.Status = StatusFailed
		log.Error("JOB_FAILED",
			slog.Uint64("events", res.Events),
			slog.Bool("fatal", domain.IsFatal(res.Err)),
			slog.Any("error", res.Err),
		)
	} else {
		res.Status = StatusCommitted
		log.Info("Job committed",
			slog.Uint64("events", res.Events),
			slog.Uint64("snapshots", res.Snapshots),
			slog.Uint64("anomalies", res.Stats.Anomalies()),
			slog.Duration("took", res.Duration),
		)
	}
	if r.Metrics != nil {
		r.Metrics.RecordJob(res.Status, res.Duration)
	}
}

// tickRules holds one classifier per symbol. Owned by the sequencer goroutine.
type tickRules map[string]*analytics.TickRule

func (t tickRules) get(symbol string) *analytics.TickRule {
	tr, ok := t[symbol]
	if !ok {
		tr = analytics.NewTickRule(symbol)
		t[symbol] = tr
	}
	return tr
}

func (r *Runner) outcomeHook(ticks tickRules) func(engine.Outcome) {
	return func(out engine.Outcome) {
		if r.Metrics != nil {
			r.Metrics.RecordEvent(out.Event.Kind.String())
			if out.Result != engine.ResultApplied {
				r.Metrics.RecordAnomaly(out.Result.String())
			}
		}
		if out.Event.Kind == event.KindTrade && out.Mutated() {
			ticks.get(out.Event.Symbol).OnTrade(out.Derived())
		}
	}
}
