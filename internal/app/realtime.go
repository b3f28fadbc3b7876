package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tick_book/internal/domain"
	"tick_book/internal/engine"
	"tick_book/internal/infra/feed"
	"tick_book/internal/service"
)

const statusInterval = 30 * time.Second

// RunRealtime feeds a live relay into the sequencer loop until ctx is done.
// Snapshots update svc and are staged per symbol; on shutdown healthy
// symbols commit and halted ones abort.
func (r *Runner) RunRealtime(ctx context.Context, m domain.RealtimeMode, svc *service.SnapshotService) ([]JobResult, error) {
	start := time.Now()
	aud, err := r.recorder(m.TradeDate, m.Symbols...)
	if err != nil {
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	jobs := make(map[string]*JobResult)
	batches := make(map[string]domain.SnapshotBatch)
	var order []string

	onSnapshot := func(s domain.Snapshot) error {
		svc.Update(s)
		b, ok := batches[s.Symbol]
		if !ok {
			key := domain.JobKey{RunID: r.runID(), Symbol: s.Symbol, TradeDate: m.TradeDate}
			nb, err := r.Sink.Begin(bg, key)
			if err != nil {
				return fmt.Errorf("begin %s: %w", s.Symbol, err)
			}
			b = nb
			batches[s.Symbol] = b
			jobs[s.Symbol] = &JobResult{Key: key}
			order = append(order, s.Symbol)
		}
		jobs[s.Symbol].Snapshots++
		return b.Write(bg, s)
	}

	ticks := tickRules{}
	seq := engine.NewSequencer(m.InboxSize, r.Snapshot, aud.recorder(), onSnapshot)
	seq.SetOutcomeHook(r.outcomeHook(ticks))

	done := make(chan struct{})
	go func() {
		defer close(done)
		seq.Run(ctx)
	}()

	var nextSeq uint64
	var worker domain.ExchangeWorker = feed.NewWorker(feed.Config{
		URL:       m.URL,
		Exchange:  m.Exchange,
		TradeDate: m.TradeDate,
		Symbols:   m.Symbols,
		Mappings:  r.Mappings,
	}, seq.Inbox(), &nextSeq, r.Metrics)
	if err := worker.Connect(ctx); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "✅ FeedWorker started", slog.String("url", m.URL))

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if !worker.IsConnected() {
				slog.Warn("Feed disconnected, waiting for reconnect")
			}
			logQuotes(svc)
		}
	}

	worker.Disconnect()
	<-done
	aud.close()
	for _, sym := range seq.Symbols() {
		if seq.Failed(sym) != nil {
			aud.discard(sym)
		}
	}

	results := make([]JobResult, 0, len(order))
	for _, sym := range order {
		job, b := jobs[sym], batches[sym]
		job.Err = seq.Failed(sym)
		if job.Err == nil {
			if err := b.Commit(bg); err != nil {
				job.Err = fmt.Errorf("commit: %w", err)
			}
		}
		if job.Err != nil {
			_ = b.Abort(bg)
			if seq.Failed(sym) == nil {
				aud.discard(sym)
			}
		} else if book, ok := seq.Book(sym); ok {
			job.Stats = book.Stats()
			job.TickRule = ticks.get(sym).Summary()
		}
		job.Duration = time.Since(start)
		r.finish(slog.With(slog.String("symbol", sym), slog.String("run_id", job.Key.RunID)), job)
		results = append(results, *job)
	}
	return results, summarize(results)
}

func logQuotes(svc *service.SnapshotService) {
	for _, snap := range svc.GetAll() {
		q, ok := svc.Quote(snap.Symbol)
		if !ok {
			continue
		}
		slog.Info("Book status",
			slog.String("symbol", q.Symbol),
			slog.String("bid", q.Bid.String()),
			slog.String("ask", q.Ask.String()),
			slog.String("spread_bps", q.SpreadBps.StringFixed(2)),
		)
	}
}
