package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tick_book/internal/app"
	"tick_book/internal/domain"

	_ "net/http/pprof" // For pprof profiling
	_ "time/tzdata"    // Exchange timezones without a system zoneinfo
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := os.Getenv("TICKBOOK_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	mode, err := bootstrap.Config.Mode()
	if err != nil {
		slog.Error("❌ Invalid run mode", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Run
	code := run(ctx, bootstrap, mode)

	if err := bootstrap.Close(); err != nil {
		slog.Error("Shutdown failed", slog.Any("error", err))
		code = 1
	}
	stop()
	os.Exit(code)
}

func run(ctx context.Context, b *app.Bootstrap, mode domain.RunMode) int {
	runner := b.Runner()
	slog.InfoContext(ctx, "✅ Job starting", slog.String("mode", mode.Name()))

	var (
		results []app.JobResult
		err     error
	)
	switch m := mode.(type) {
	case domain.OfflineMode:
		results, err = runner.RunOffline(ctx, m)

	case domain.ReplayMode:
		var res app.ReplayResult
		res, err = runner.RunReplay(ctx, m)
		results = res.Jobs
		slog.InfoContext(ctx, "Replay finished", slog.Uint64("events", res.Events), slog.Int64("feed_rows", res.FeedRows))

	case domain.RealtimeMode:
		// Pprof Server (localhost only)
		go func() {
			slog.Info("🕵️ Pprof server started on localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
		slog.InfoContext(ctx, "✨ Live book reconstruction running. Press Ctrl+C to exit.")
		results, err = runner.RunRealtime(ctx, m, b.Snapshots)
		slog.Info("👋 Shutting down gracefully...")
	}

	for _, res := range results {
		slog.Info("Job summary",
			slog.String("symbol", res.Key.Symbol),
			slog.String("status", res.Status),
			slog.Uint64("events", res.Events),
			slog.Uint64("snapshots", res.Snapshots),
			slog.Any("stats", res.Stats),
			slog.Any("tick_rule", res.TickRule),
		)
	}
	if err != nil {
		slog.Error("❌ Job failed", slog.Any("error", err))
		return 1
	}
	return 0
}
