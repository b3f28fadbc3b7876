// Package replay merges several time-ordered event streams into one
// globally ordered stream.
package replay

import (
	"container/heap"
	"errors"
	"fmt"
	"io"
	"iter"

	"tick_book/internal/domain"
	"tick_book/internal/event"
	"tick_book/pkg/quant"
)

// Stream yields events in non-decreasing timestamp order and io.EOF at the end.
type Stream interface {
	Next() (event.Event, error)
}

// SliceStream is a Stream over an in-memory slice.
type SliceStream struct {
	events []event.Event
	pos    int
}

func NewSliceStream(evs []event.Event) *SliceStream {
	return &SliceStream{events: evs}
}

func (s *SliceStream) Next() (event.Event, error) {
	if s.pos >= len(s.events) {
		return event.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

type entry struct {
	ts     quant.TimeStamp
	rank   int
	seq    uint64
	stream int
	ev     event.Event
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].ts != h[j].ts {
		return h[i].ts < h[j].ts
	}
	if h[i].rank != h[j].rank {
		return h[i].rank < h[j].rank
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Merger is a K-way merge keyed by (timestamp, admission sequence). Ties on
// timestamp resolve in the order events entered the heap, so equal inputs
// always merge identically. Not safe for concurrent use.
type Merger struct {
	streams []Stream
	h       entryHeap
	admit   uint64
	outSeq  uint64
	last    quant.TimeStamp
	started bool
	err     error
	ranked  bool

	// Resequence overwrites Seq on emitted events with 1, 2, 3...
	Resequence bool
}

// NewMerger primes the heap with the first event of each stream.
func NewMerger(streams ...Stream) (*Merger, error) {
	return newMerger(false, streams)
}

// NewRankedMerger is NewMerger with timestamp ties broken by stream index
// first: every event of stream 0 at a timestamp comes before any event of
// stream 1 at that timestamp. Use it when earlier streams carry events that
// later streams reference, e.g. order entries before the trades that hit them.
func NewRankedMerger(streams ...Stream) (*Merger, error) {
	return newMerger(true, streams)
}

func newMerger(ranked bool, streams []Stream) (*Merger, error) {
	m := &Merger{streams: streams, h: make(entryHeap, 0, len(streams)), ranked: ranked}
	for i := range streams {
		if err := m.pull(i); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Merger) pull(i int) error {
	ev, err := m.streams[i].Next()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stream %d: %w", i, err)
	}
	m.admit++
	e := entry{ts: ev.Ts, seq: m.admit, stream: i, ev: ev}
	if m.ranked {
		e.rank = i
	}
	heap.Push(&m.h, e)
	return nil
}

// Next returns the globally next event, or io.EOF when every stream is
// drained. A timestamp regression is returned before the offending event is
// handed out; the merger then stays failed.
func (m *Merger) Next() (event.Event, error) {
	if m.err != nil {
		return event.Event{}, m.err
	}
	if m.h.Len() == 0 {
		return event.Event{}, io.EOF
	}

	top := m.h[0]
	if m.started && top.ts < m.last {
		m.err = &domain.RegressionError{Stream: top.stream, Prev: int64(m.last), Next: int64(top.ts)}
		return event.Event{}, m.err
	}
	heap.Pop(&m.h)
	m.started = true
	m.last = top.ts

	if err := m.pull(top.stream); err != nil {
		m.err = err
		return event.Event{}, err
	}

	ev := top.ev
	if m.Resequence {
		ev.Seq = quant.NextSeq(&m.outSeq)
	}
	return ev, nil
}

// All adapts the merger to a range-over-func iterator. Iteration stops after
// the first error is yielded.
func (m *Merger) All() iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		for {
			ev, err := m.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains a stream into a slice.
func Collect(s Stream) ([]event.Event, error) {
	var out []event.Event
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}
