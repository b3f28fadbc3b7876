// Package source reads symbol-day inputs as replay streams.
package source

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"tick_book/internal/domain"
	"tick_book/internal/event"
	"tick_book/internal/normalize"
	"tick_book/internal/replay"
)

// Opener locates and opens the inputs of one trade date.
//
// Raw CSV inputs live at <Dir>/<symbol>_<category>.csv, one file per
// category the exchange declares. Canonical inputs live at <Dir>/<symbol>.parquet.
type Opener struct {
	Dir       string
	Format    domain.InputFormat
	Exchange  string
	TradeDate string
	Mappings  normalize.Mappings

	// OnDrop is called for every row dropped by a normalizer.
	OnDrop func(mapping, reason string)
}

func (o Opener) CSVPath(symbol string, cat normalize.Category) string {
	return filepath.Join(o.Dir, fmt.Sprintf("%s_%s.csv", symbol, cat))
}

func (o Opener) ParquetPath(symbol string) string {
	return filepath.Join(o.Dir, symbol+".parquet")
}

// SymbolStream is the merged, resequenced input of one symbol.
type SymbolStream struct {
	Symbol  string
	merger  *replay.Merger
	closers []io.Closer
	norms   []*normalize.Normalizer
}

func (s *SymbolStream) Next() (event.Event, error) {
	return s.merger.Next()
}

func (s *SymbolStream) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Dropped sums the normalizers' drop counters by reason.
func (s *SymbolStream) Dropped() map[string]uint64 {
	out := make(map[string]uint64)
	for _, n := range s.norms {
		for k, v := range n.Dropped() {
			out[k] += v
		}
	}
	return out
}

// Open returns the input stream of symbol with Seq numbered from 1.
func (o Opener) Open(symbol string) (*SymbolStream, error) {
	s := &SymbolStream{Symbol: symbol}
	var streams []replay.Stream

	switch o.Format {
	case domain.FormatParquet:
		src, err := OpenParquet(o.ParquetPath(symbol), symbol)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, src)
		streams = append(streams, src)

	case domain.FormatRawCSV:
		cats := o.Mappings.Categories(o.Exchange)
		if len(cats) == 0 {
			return nil, &domain.ConfigError{Field: "job.exchange", Err: fmt.Errorf("no mappings for %q", o.Exchange)}
		}
		for _, cat := range cats {
			src, n, err := o.openCSV(symbol, cat)
			if err != nil {
				s.Close()
				return nil, err
			}
			s.closers = append(s.closers, src)
			s.norms = append(s.norms, n)
			streams = append(streams, src)
		}

	default:
		return nil, &domain.ConfigError{Field: "job.format", Err: fmt.Errorf("unknown format %q", o.Format)}
	}

	// Streams are in category order, orders first, so at equal timestamps an
	// order entry is applied before any trade or cancel that references it.
	m, err := replay.NewRankedMerger(streams...)
	if err != nil {
		s.Close()
		return nil, err
	}
	m.Resequence = true
	s.merger = m
	return s, nil
}

func (o Opener) openCSV(symbol string, cat normalize.Category) (*CSVSource, *normalize.Normalizer, error) {
	m, err := o.Mappings.Lookup(o.Exchange, cat)
	if err != nil {
		return nil, nil, err
	}
	key := normalize.MappingKey{Exchange: strings.ToLower(o.Exchange), Category: cat}
	n, err := normalize.New(key, m, symbol, o.TradeDate)
	if err != nil {
		return nil, nil, err
	}
	if o.OnDrop != nil {
		n.OnDrop(func(reason string) { o.OnDrop(key.String(), reason) })
	}
	src, err := OpenCSV(o.CSVPath(symbol, cat), n)
	if err != nil {
		return nil, nil, err
	}
	return src, n, nil
}
