package source

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"tick_book/internal/event"
)

// FeedWriter writes the merged multi-symbol feed. The file only appears
// under its final name once Close succeeds.
type FeedWriter struct {
	path string
	tmp  string
	f    *os.File
	w    *parquet.GenericWriter[FeedRecord]
	buf  []FeedRecord
	n    int64
}

func CreateFeed(path string) (*FeedWriter, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create feed: %w", err)
	}
	return &FeedWriter{
		path: path,
		tmp:  tmp,
		f:    f,
		w:    parquet.NewGenericWriter[FeedRecord](f),
		buf:  make([]FeedRecord, 0, readChunk),
	}, nil
}

func (fw *FeedWriter) Write(ev event.Event) error {
	rec := EncodeRecord(ev)
	fw.buf = append(fw.buf, FeedRecord{
		Seq:                int64(ev.Seq),
		Symbol:             ev.Symbol,
		Timestamp:          rec.Timestamp,
		EventKind:          rec.EventKind,
		OrderID:            rec.OrderID,
		Side:               rec.Side,
		Price:              rec.Price,
		Volume:             rec.Volume,
		BuyCounterpartyID:  rec.BuyCounterpartyID,
		SellCounterpartyID: rec.SellCounterpartyID,
	})
	if len(fw.buf) == cap(fw.buf) {
		return fw.flush()
	}
	return nil
}

func (fw *FeedWriter) flush() error {
	if len(fw.buf) == 0 {
		return nil
	}
	n, err := fw.w.Write(fw.buf)
	fw.n += int64(n)
	fw.buf = fw.buf[:0]
	return err
}

// Rows returns the number of rows handed to the Parquet writer.
func (fw *FeedWriter) Rows() int64 {
	return fw.n + int64(len(fw.buf))
}

// Close flushes and publishes the feed file.
func (fw *FeedWriter) Close() error {
	if err := fw.flush(); err != nil {
		fw.Abort()
		return err
	}
	if err := fw.w.Close(); err != nil {
		fw.Abort()
		return err
	}
	if err := fw.f.Close(); err != nil {
		os.Remove(fw.tmp)
		return err
	}
	return os.Rename(fw.tmp, fw.path)
}

// Abort discards the partially written feed.
func (fw *FeedWriter) Abort() {
	fw.f.Close()
	os.Remove(fw.tmp)
}

// FeedSource reads a merged feed back, keeping its symbols and sequence numbers.
type FeedSource struct {
	path string
	rows *rowReader[FeedRecord]
}

func OpenFeed(path string) (*FeedSource, error) {
	rows, err := openRows[FeedRecord](path)
	if err != nil {
		return nil, err
	}
	return &FeedSource{path: path, rows: rows}, nil
}

func (s *FeedSource) Next() (event.Event, error) {
	rec, err := s.rows.next()
	if err != nil {
		return event.Event{}, err
	}
	ev, err := decodeRecord(s.path, rec.Symbol, EventRecord{
		Timestamp:          rec.Timestamp,
		EventKind:          rec.EventKind,
		OrderID:            rec.OrderID,
		Side:               rec.Side,
		Price:              rec.Price,
		Volume:             rec.Volume,
		BuyCounterpartyID:  rec.BuyCounterpartyID,
		SellCounterpartyID: rec.SellCounterpartyID,
	})
	ev.Seq = uint64(rec.Seq)
	return ev, err
}

func (s *FeedSource) Close() error {
	return s.rows.Close()
}
