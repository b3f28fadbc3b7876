package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"tick_book/internal/domain"
	"tick_book/internal/event"
	"tick_book/internal/normalize"
)

// CSVSource streams one raw vendor CSV file through a normalizer.
// Rows with unmapped codes are skipped; malformed rows are fatal.
type CSVSource struct {
	path string
	f    *os.File
	r    *csv.Reader
	dec  *normalize.Decoder
	line int
}

// OpenCSV opens path and binds its header row to n.
func OpenCSV(path string, n *normalize.Normalizer) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, &domain.SchemaError{Source: path, Field: "header", Detail: "empty file"}
		}
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	dec, err := n.Bind(header)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &CSVSource{path: path, f: f, r: r, dec: dec, line: 1}, nil
}

func (s *CSVSource) Next() (event.Event, error) {
	for {
		row, err := s.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return event.Event{}, io.EOF
			}
			return event.Event{}, &domain.SchemaError{Source: s.path, Field: "row", Detail: err.Error()}
		}
		s.line++
		ev, ok, err := s.dec.Normalize(row)
		if err != nil {
			return event.Event{}, fmt.Errorf("%s line %d: %w", s.path, s.line, err)
		}
		if ok {
			return ev, nil
		}
	}
}

func (s *CSVSource) Close() error {
	return s.f.Close()
}
