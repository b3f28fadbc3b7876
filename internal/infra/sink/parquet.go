package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"tick_book/internal/domain"
	"tick_book/internal/snapshot"
)

// SnapshotRecord is the Parquet row layout of snapshot output.
type SnapshotRecord struct {
	Timestamp   int64   `parquet:"timestamp"`
	Symbol      string  `parquet:"symbol,dict"`
	Side        string  `parquet:"side,dict"`
	Level       int32   `parquet:"level"`
	Price       float64 `parquet:"price"`
	PriceMicros int64   `parquet:"price_micros"`
	Volume      int64   `parquet:"volume"`
}

// ParquetSink writes one file per symbol-day under dir/<trade_date>/.
// Files are staged under a run-scoped temp name and renamed on commit.
type ParquetSink struct {
	dir string
}

func NewParquetSink(dir string) (*ParquetSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create parquet dir: %w", err)
	}
	return &ParquetSink{dir: dir}, nil
}

func (s *ParquetSink) Name() string { return "parquet" }
func (s *ParquetSink) Close() error { return nil }

// Path returns the committed file location of a symbol-day.
func (s *ParquetSink) Path(symbol, tradeDate string) string {
	return filepath.Join(s.dir, tradeDate, symbol+".parquet")
}

func (s *ParquetSink) Begin(_ context.Context, key domain.JobKey) (domain.SnapshotBatch, error) {
	final := s.Path(key.Symbol, key.TradeDate)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return nil, err
	}
	tmp := final + "." + key.RunID + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", tmp, err)
	}
	return &parquetBatch{
		file:  f,
		tmp:   tmp,
		final: final,
		w:     parquet.NewGenericWriter[SnapshotRecord](f),
	}, nil
}

type parquetBatch struct {
	file  *os.File
	tmp   string
	final string
	w     *parquet.GenericWriter[SnapshotRecord]
	buf   []SnapshotRecord
	done  bool
}

func (b *parquetBatch) Write(_ context.Context, snap domain.Snapshot) error {
	if b.done {
		return domain.ErrSinkClosed
	}
	b.buf = b.buf[:0]
	for _, r := range snapshot.Rows(snap) {
		b.buf = append(b.buf, SnapshotRecord{
			Timestamp:   int64(r.Ts),
			Symbol:      snap.Symbol,
			Side:        r.Side,
			Level:       int32(r.Level),
			Price:       r.Price.Float64(),
			PriceMicros: int64(r.Price),
			Volume:      int64(r.Volume),
		})
	}
	if len(b.buf) == 0 {
		return nil
	}
	_, err := b.w.Write(b.buf)
	return err
}

func (b *parquetBatch) Commit(_ context.Context) error {
	if b.done {
		return domain.ErrSinkClosed
	}
	b.done = true
	if err := b.w.Close(); err != nil {
		b.discard()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if err := b.file.Sync(); err != nil {
		b.discard()
		return err
	}
	if err := b.file.Close(); err != nil {
		os.Remove(b.tmp)
		return err
	}
	return os.Rename(b.tmp, b.final)
}

func (b *parquetBatch) Abort(_ context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	b.discard()
	return nil
}

func (b *parquetBatch) discard() {
	b.file.Close()
	os.Remove(b.tmp)
}
