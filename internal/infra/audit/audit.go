package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"

	"tick_book/internal/domain"
	"tick_book/internal/event"
)

const flushEvery = 4096

// Store keeps the derived event stream of each symbol-day in pebble.
// Keys are audit/<symbol>/<trade_date>/<seq big-endian>.
type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func prefix(symbol, tradeDate string) []byte {
	return []byte("audit/" + symbol + "/" + tradeDate + "/")
}

func upperBound(p []byte) []byte {
	end := append([]byte(nil), p...)
	end[len(end)-1]++
	return end
}

func key(symbol, tradeDate string, seq uint64) []byte {
	k := prefix(symbol, tradeDate)
	return binary.BigEndian.AppendUint64(k, seq)
}

// Reset drops the recorded stream of a symbol-day. Runs call it before
// recording and again when the symbol-day is abandoned.
func (s *Store) Reset(symbol, tradeDate string) error {
	p := prefix(symbol, tradeDate)
	return s.db.DeleteRange(p, upperBound(p), pebble.Sync)
}

// Events reads a recorded stream back in sequence order.
func (s *Store) Events(symbol, tradeDate string) ([]event.Event, error) {
	p := prefix(symbol, tradeDate)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: p, UpperBound: upperBound(p)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var events []event.Event
	for iter.First(); iter.Valid(); iter.Next() {
		var ev event.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode %x: %w", iter.Key(), err)
		}
		events = append(events, ev)
	}
	return events, iter.Error()
}

// Recorder returns a domain.Recorder writing events of the given trade date.
func (s *Store) Recorder(tradeDate string) *Recorder {
	return &Recorder{db: s.db, tradeDate: tradeDate, batch: s.db.NewBatch()}
}

// Recorder buffers events in a pebble batch and commits every flushEvery
// records and on Flush.
type Recorder struct {
	mu        sync.Mutex
	db        *pebble.DB
	tradeDate string
	batch     *pebble.Batch
	pending   int
	written   uint64
}

func (r *Recorder) Record(ev event.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batch == nil {
		return domain.ErrSinkClosed
	}
	if err := r.batch.Set(key(ev.Symbol, r.tradeDate, ev.Seq), value, nil); err != nil {
		return err
	}
	r.pending++
	if r.pending >= flushEvery {
		return r.commitLocked()
	}
	return nil
}

func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batch == nil {
		return domain.ErrSinkClosed
	}
	return r.commitLocked()
}

// Close releases the open batch. Records not committed yet are dropped;
// committed ones stay until Store.Reset. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batch == nil {
		return nil
	}
	err := r.batch.Close()
	r.batch = nil
	r.pending = 0
	return err
}

// Written returns the number of events committed so far.
func (r *Recorder) Written() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

func (r *Recorder) commitLocked() error {
	if r.pending == 0 {
		return nil
	}
	if err := r.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit audit batch: %w", err)
	}
	r.batch.Close()
	slog.Debug("audit batch committed", slog.Int("events", r.pending), slog.String("trade_date", r.tradeDate))
	r.written += uint64(r.pending)
	r.pending = 0
	r.batch = r.db.NewBatch()
	return nil
}
