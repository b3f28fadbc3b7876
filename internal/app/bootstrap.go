package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"tick_book/internal/domain"
	"tick_book/internal/infra"
	"tick_book/internal/infra/audit"
	"tick_book/internal/infra/sink"
	"tick_book/internal/infra/storage"
	"tick_book/internal/normalize"
	"tick_book/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Metrics   *infra.Metrics
	Mappings  normalize.Mappings
	Sink      *sink.Multi
	Store     *storage.Store // nil unless storage is enabled
	Audit     *audit.Store   // nil unless audit is enabled
	Snapshots *service.SnapshotService
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config file, installs the logger and wires everything else.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping Tick Book...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	return b.Wire(cfg)
}

// Wire builds metrics, mappings, sinks and the audit store from cfg.
func (b *Bootstrap) Wire(cfg *infra.Config) error {
	b.Config = cfg
	b.Metrics = infra.NewMetrics(prometheus.NewRegistry())
	b.Snapshots = service.NewSnapshotService()

	// 3. Resolve exchange mappings once
	mappings, err := normalize.Resolve(normalize.BuiltinMappings(), cfg.Exchanges)
	if err != nil {
		return err
	}
	b.Mappings = mappings
	slog.Info("✅ Mappings resolved", slog.Int("count", len(mappings)))

	// 4. Sinks
	var sinks []domain.SnapshotSink
	if cfg.Storage.Enabled {
		store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		b.Store = store
		sinks = append(sinks, store)
		slog.Info("✅ Database initialized", slog.String("driver", cfg.Storage.Driver))
	}
	if cfg.Output.Parquet.Enabled {
		ps, err := sink.NewParquetSink(cfg.Output.Parquet.Dir)
		if err != nil {
			b.closeSinks(sinks)
			return err
		}
		sinks = append(sinks, ps)
		slog.Info("✅ Parquet sink ready", slog.String("dir", cfg.Output.Parquet.Dir))
	}
	if cfg.Output.Kafka.Enabled {
		sinks = append(sinks, sink.NewKafkaSink(cfg.Output.Kafka.Brokers, cfg.Output.Kafka.Topic))
		slog.Info("✅ Kafka sink ready", slog.String("topic", cfg.Output.Kafka.Topic))
	}
	if len(sinks) == 0 {
		slog.Warn("No snapshot sinks enabled; snapshots are discarded")
	}
	b.Sink = sink.NewMulti(sinks...)

	// 5. Audit store
	if cfg.Audit.Enabled {
		as, err := audit.Open(cfg.Audit.Dir)
		if err != nil {
			b.Sink.Close()
			return err
		}
		b.Audit = as
		slog.Info("✅ Audit recorder enabled", slog.String("dir", cfg.Audit.Dir))
	}
	return nil
}

func (b *Bootstrap) closeSinks(sinks []domain.SnapshotSink) {
	for _, s := range sinks {
		s.Close()
	}
}

// Runner returns a job runner over the wired components.
func (b *Bootstrap) Runner() *Runner {
	return &Runner{
		Sink:        b.Sink,
		Audit:       b.Audit,
		Metrics:     b.Metrics,
		Mappings:    b.Mappings,
		Snapshot:    b.Config.SnapshotConfig(),
		Concurrency: b.Config.Job.Concurrency,
	}
}

// Close releases sinks and stores and writes the metrics textfile.
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Sink != nil {
		errs = append(errs, b.Sink.Close())
	}
	if b.Audit != nil {
		errs = append(errs, b.Audit.Close())
	}
	if b.Metrics != nil && b.Config != nil {
		if err := b.Metrics.WriteTextfile(b.Config.Metrics.Textfile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}
