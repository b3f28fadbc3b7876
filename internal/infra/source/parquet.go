package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"tick_book/internal/domain"
	"tick_book/internal/event"
	"tick_book/pkg/quant"
)

const readChunk = 1024

// EventRecord is the canonical columnar event layout, one file per symbol-day.
type EventRecord struct {
	Timestamp          int64   `parquet:"timestamp"`
	EventKind          string  `parquet:"event_kind,dict"`
	OrderID            int64   `parquet:"order_id"`
	Side               string  `parquet:"side,dict"`
	Price              float64 `parquet:"price"`
	Volume             int64   `parquet:"volume"`
	BuyCounterpartyID  *int64  `parquet:"buy_counterparty_id,optional"`
	SellCounterpartyID *int64  `parquet:"sell_counterparty_id,optional"`
}

// FeedRecord is a row of the merged multi-symbol feed written in replay mode.
type FeedRecord struct {
	Seq                int64   `parquet:"seq"`
	Symbol             string  `parquet:"symbol,dict"`
	Timestamp          int64   `parquet:"timestamp"`
	EventKind          string  `parquet:"event_kind,dict"`
	OrderID            int64   `parquet:"order_id"`
	Side               string  `parquet:"side,dict"`
	Price              float64 `parquet:"price"`
	Volume             int64   `parquet:"volume"`
	BuyCounterpartyID  *int64  `parquet:"buy_counterparty_id,optional"`
	SellCounterpartyID *int64  `parquet:"sell_counterparty_id,optional"`
}

func optionalID(p *int64) uint64 {
	if p == nil || *p < 0 {
		return 0
	}
	return uint64(*p)
}

func idPtr(id uint64) *int64 {
	if id == 0 {
		return nil
	}
	v := int64(id)
	return &v
}

func decodeRecord(src, symbol string, r EventRecord) (event.Event, error) {
	kind, ok := event.ParseKind(r.EventKind)
	if !ok {
		return event.Event{}, &domain.SchemaError{Source: src, Field: "event_kind", Detail: fmt.Sprintf("unknown kind %q", r.EventKind)}
	}
	side, ok := event.ParseSide(r.Side)
	if !ok {
		return event.Event{}, &domain.SchemaError{Source: src, Field: "side", Detail: fmt.Sprintf("unknown side %q", r.Side)}
	}
	if r.OrderID < 0 {
		return event.Event{}, &domain.SchemaError{Source: src, Field: "order_id", Detail: "negative id"}
	}
	return event.Event{
		Ts:      quant.TimeStamp(r.Timestamp),
		Symbol:  symbol,
		Kind:    kind,
		OrderID: uint64(r.OrderID),
		Side:    side,
		Price:   quant.ToPriceMicros(r.Price),
		Volume:  quant.Qty(r.Volume),
		BuyID:   optionalID(r.BuyCounterpartyID),
		SellID:  optionalID(r.SellCounterpartyID),
	}, nil
}

// EncodeRecord converts an event to its canonical row.
func EncodeRecord(ev event.Event) EventRecord {
	return EventRecord{
		Timestamp:          int64(ev.Ts),
		EventKind:          ev.Kind.String(),
		OrderID:            int64(ev.OrderID),
		Side:               ev.Side.String(),
		Price:              ev.Price.Float64(),
		Volume:             int64(ev.Volume),
		BuyCounterpartyID:  idPtr(ev.BuyID),
		SellCounterpartyID: idPtr(ev.SellID),
	}
}

// rowReader pulls rows from a Parquet file in fixed-size chunks.
type rowReader[T any] struct {
	f   *os.File
	r   *parquet.GenericReader[T]
	buf []T
	pos int
	n   int
	eof bool
}

func openRows[T any](path string) (*rowReader[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		f.Close()
		return nil, &domain.SchemaError{Source: path, Field: "file", Detail: err.Error()}
	}
	return &rowReader[T]{f: f, r: parquet.NewGenericReader[T](pf), buf: make([]T, readChunk)}, nil
}

func (rr *rowReader[T]) next() (T, error) {
	for rr.pos >= rr.n {
		var zero T
		if rr.eof {
			return zero, io.EOF
		}
		n, err := rr.r.Read(rr.buf)
		rr.pos, rr.n = 0, n
		if errors.Is(err, io.EOF) {
			rr.eof = true
		} else if err != nil {
			return zero, err
		}
	}
	row := rr.buf[rr.pos]
	rr.pos++
	return row, nil
}

func (rr *rowReader[T]) Close() error {
	rr.r.Close()
	return rr.f.Close()
}

// ParquetSource streams a canonical event file of one symbol.
type ParquetSource struct {
	path   string
	symbol string
	rows   *rowReader[EventRecord]
}

func OpenParquet(path, symbol string) (*ParquetSource, error) {
	rows, err := openRows[EventRecord](path)
	if err != nil {
		return nil, err
	}
	return &ParquetSource{path: path, symbol: symbol, rows: rows}, nil
}

func (s *ParquetSource) Next() (event.Event, error) {
	rec, err := s.rows.next()
	if err != nil {
		return event.Event{}, err
	}
	return decodeRecord(s.path, s.symbol, rec)
}

func (s *ParquetSource) Close() error {
	return s.rows.Close()
}

// WriteEvents writes events to path in the canonical layout.
func WriteEvents(path string, evs []event.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := parquet.NewGenericWriter[EventRecord](f)
	recs := make([]EventRecord, len(evs))
	for i, ev := range evs {
		recs[i] = EncodeRecord(ev)
	}
	if _, err := w.Write(recs); err != nil {
		f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
