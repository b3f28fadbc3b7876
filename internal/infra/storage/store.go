package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tick_book/internal/domain"
	"tick_book/internal/snapshot"
)

const flushRows = 500

// Store persists snapshot levels through gorm. It implements
// domain.SnapshotSink; each job writes under its own run id.
type Store struct {
	db *gorm.DB
}

// Open connects to SQLite (pure Go) or Postgres and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if !strings.HasPrefix(dsn, "file::memory:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create DB directory: %w", err)
			}
		}
		dialector = sqlite.Open(sqliteDSN(dsn))
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == "sqlite" {
		// single writer; concurrent jobs queue on the pool
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&SnapshotLevelRow{}, &JobRun{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *Store) Name() string { return "sql" }

// Close closes the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Begin registers a running job and returns its staging batch.
func (s *Store) Begin(ctx context.Context, key domain.JobKey) (domain.SnapshotBatch, error) {
	run := JobRun{
		RunID:     key.RunID,
		Symbol:    key.Symbol,
		TradeDate: key.TradeDate,
		Status:    RunRunning,
		StartedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, fmt.Errorf("register run %s: %w", key.RunID, err)
	}
	return &batch{store: s, key: key}, nil
}

// LatestRun returns the committed run of a symbol-day, if any.
func (s *Store) LatestRun(ctx context.Context, symbol, tradeDate string) (*JobRun, error) {
	var run JobRun
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND trade_date = ? AND status = ?", symbol, tradeDate, RunCommitted).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &run, err
}

// Levels returns the committed snapshot rows of a symbol-day in emission order.
func (s *Store) Levels(ctx context.Context, symbol, tradeDate string) ([]SnapshotLevelRow, error) {
	run, err := s.LatestRun(ctx, symbol, tradeDate)
	if err != nil || run == nil {
		return nil, err
	}
	var rows []SnapshotLevelRow
	err = s.db.WithContext(ctx).Where("run_id = ?", run.RunID).Order("id").Find(&rows).Error
	return rows, err
}

// Runs lists every ledger entry of a symbol-day, oldest first.
func (s *Store) Runs(ctx context.Context, symbol, tradeDate string) ([]JobRun, error) {
	var runs []JobRun
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND trade_date = ?", symbol, tradeDate).
		Order("started_at").
		Find(&runs).Error
	return runs, err
}

type batch struct {
	store *Store
	key   domain.JobKey
	buf   []SnapshotLevelRow
	count int64
	done  bool
}

func (b *batch) Write(ctx context.Context, snap domain.Snapshot) error {
	if b.done {
		return domain.ErrSinkClosed
	}
	for _, r := range snapshot.Rows(snap) {
		b.buf = append(b.buf, SnapshotLevelRow{
			RunID:     b.key.RunID,
			Symbol:    snap.Symbol,
			TradeDate: b.key.TradeDate,
			Ts:        int64(r.Ts),
			Side:      r.Side,
			Level:     r.Level,
			Price:     r.Price.Decimal(),
			Volume:    int64(r.Volume),
		})
	}
	b.count++
	if len(b.buf) >= flushRows {
		return b.flush(ctx)
	}
	return nil
}

func (b *batch) flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	if err := b.store.db.WithContext(ctx).CreateInBatches(b.buf, flushRows).Error; err != nil {
		return fmt.Errorf("write snapshot rows: %w", err)
	}
	b.buf = b.buf[:0]
	return nil
}

// Commit publishes the run and removes rows of every other run of the same
// symbol-day, so a re-run replaces its predecessor.
func (b *batch) Commit(ctx context.Context) error {
	if b.done {
		return domain.ErrSinkClosed
	}
	if err := b.flush(ctx); err != nil {
		return err
	}
	now := time.Now()
	err := b.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("symbol = ? AND trade_date = ? AND run_id <> ?", b.key.Symbol, b.key.TradeDate, b.key.RunID).
			Delete(&SnapshotLevelRow{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&JobRun{}).
			Where("symbol = ? AND trade_date = ? AND status = ? AND run_id <> ?", b.key.Symbol, b.key.TradeDate, RunCommitted, b.key.RunID).
			Update("status", RunSuperseded).Error; err != nil {
			return err
		}
		return tx.Model(&JobRun{}).Where("run_id = ?", b.key.RunID).
			Updates(map[string]any{"status": RunCommitted, "snapshots": b.count, "finished_at": now}).Error
	})
	// A failed commit can still be aborted.
	if err == nil {
		b.done = true
	}
	return err
}

// Abort drops the run's staged rows and marks it failed.
func (b *batch) Abort(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	b.buf = nil
	now := time.Now()
	return b.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", b.key.RunID).Delete(&SnapshotLevelRow{}).Error; err != nil {
			return err
		}
		return tx.Model(&JobRun{}).Where("run_id = ?", b.key.RunID).
			Updates(map[string]any{"status": RunFailed, "finished_at": now}).Error
	})
}
