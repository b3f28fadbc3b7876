package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"tick_book/internal/domain"
	"tick_book/internal/event"
	"tick_book/internal/snapshot"
)

// ErrSymbolHalted is returned for events of a symbol that already failed.
var ErrSymbolHalted = errors.New("symbol halted")

// market is the per-symbol state owned by the sequencer.
type market struct {
	book    *Book
	emitter *snapshot.Emitter
	failed  error
}

// Sequencer is the single-threaded driver that owns one Book per symbol.
// Events must arrive with consecutive Seq values starting at 1.
type Sequencer struct {
	inbox   chan event.Event
	markets map[string]*market
	nextSeq uint64

	snapCfg    snapshot.Config
	recorder   domain.Recorder
	onSnapshot func(domain.Snapshot) error
	onOutcome  func(Outcome)
}

// NewSequencer creates a new sequencer instance. recorder may be nil.
func NewSequencer(inboxSize int, snapCfg snapshot.Config, recorder domain.Recorder, onSnapshot func(domain.Snapshot) error) *Sequencer {
	if onSnapshot == nil {
		onSnapshot = func(domain.Snapshot) error { return nil }
	}
	return &Sequencer{
		inbox:      make(chan event.Event, inboxSize),
		markets:    make(map[string]*market),
		nextSeq:    1,
		snapCfg:    snapCfg,
		recorder:   recorder,
		onSnapshot: onSnapshot,
	}
}

// SetOutcomeHook registers a callback invoked after every applied event.
// It must be set before the first event.
func (s *Sequencer) SetOutcomeHook(fn func(Outcome)) {
	s.onOutcome = fn
}

// Inbox returns the event channel. External workers send events here.
func (s *Sequencer) Inbox() chan<- event.Event {
	return s.inbox
}

// Run starts the live event loop. This MUST be run in a single goroutine.
// A sequence gap halts the process after dumping state; a fatal event error
// only stops its own symbol.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started (Single-Thread Hotpath)")

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState("panic_dump.json")
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...")
			if err := s.Finalize(); err != nil {
				slog.Error("Sequencer finalize failed", slog.Any("error", err))
			}
			return
		case ev := <-s.inbox:
			s.processEvent(ev)
		}
	}
}

func (s *Sequencer) processEvent(ev event.Event) {
	if ev.Seq != s.nextSeq {
		panic(fmt.Sprintf("SEQUENCE_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.Seq))
	}

	m := s.market(ev.Symbol)
	if m.failed != nil {
		s.nextSeq++
		return
	}
	if err := s.apply(m, ev); err != nil {
		m.failed = err
		slog.Error("SYMBOL_HALTED",
			slog.String("symbol", ev.Symbol),
			slog.Uint64("seq", ev.Seq),
			slog.Any("error", err),
		)
	}
	s.nextSeq++
}

// ReplayEvent processes an event synchronously. This is the batch path:
// errors are returned instead of halting. Only a sequence gap leaves the
// event unconsumed; events of a failed symbol are skipped with ErrSymbolHalted.
func (s *Sequencer) ReplayEvent(ev event.Event) error {
	if ev.Seq != s.nextSeq {
		return &domain.SequenceGapError{Expected: s.nextSeq, Got: ev.Seq}
	}
	s.nextSeq++
	m := s.market(ev.Symbol)
	if m.failed != nil {
		return fmt.Errorf("%w: %s: %w", ErrSymbolHalted, ev.Symbol, m.failed)
	}
	if err := s.apply(m, ev); err != nil {
		m.failed = err
		return err
	}
	return nil
}

func (s *Sequencer) apply(m *market, ev event.Event) error {
	if err := m.book.check(ev); err != nil {
		return err
	}
	if err := m.emitter.Before(ev.Ts); err != nil {
		return err
	}

	out := m.book.apply(ev)
	switch out.Result {
	case ResultOverfill:
		slog.Warn("OVERFILL_CLAMPED",
			slog.String("symbol", ev.Symbol),
			slog.Uint64("order_id", out.OrderID),
			slog.Int64("reported", int64(ev.Volume)),
			slog.Int64("applied", int64(out.AppliedVolume)),
		)
	case ResultDuplicateAdd:
		slog.Warn("DUPLICATE_ADD_IGNORED", slog.String("symbol", ev.Symbol), slog.Uint64("order_id", ev.OrderID))
	case ResultUnknownOrder:
		slog.Debug("UNKNOWN_ORDER_REFERENCE", slog.String("symbol", ev.Symbol), slog.String("kind", ev.Kind.String()))
	}
	if s.onOutcome != nil {
		s.onOutcome(out)
	}

	if s.recorder != nil && out.Mutated() {
		if err := s.recorder.Record(out.Derived()); err != nil {
			return fmt.Errorf("record seq %d: %w", ev.Seq, err)
		}
	}
	return m.emitter.After(ev.Ts)
}

func (s *Sequencer) market(symbol string) *market {
	m, ok := s.markets[symbol]
	if !ok {
		book := NewBook(symbol)
		m = &market{
			book:    book,
			emitter: snapshot.NewEmitter(symbol, book, s.snapCfg, s.onSnapshot),
		}
		s.markets[symbol] = m
	}
	return m
}

// Finalize emits closing snapshots for every healthy symbol in symbol order
// and flushes the recorder.
func (s *Sequencer) Finalize() error {
	var errs []error
	for _, sym := range s.Symbols() {
		m := s.markets[sym]
		if m.failed != nil {
			continue
		}
		if err := m.emitter.Finalize(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.recorder != nil {
		if err := s.recorder.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush recorder: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Symbols returns the symbols seen so far, sorted.
func (s *Sequencer) Symbols() []string {
	syms := make([]string, 0, len(s.markets))
	for sym := range s.markets {
		syms = append(syms, sym)
	}
	slices.Sort(syms)
	return syms
}

// Book returns the book of a symbol. Not safe while Run is active.
func (s *Sequencer) Book(symbol string) (*Book, bool) {
	m, ok := s.markets[symbol]
	if !ok {
		return nil, false
	}
	return m.book, true
}

// Failed returns the error that halted a symbol, if any.
func (s *Sequencer) Failed(symbol string) error {
	if m, ok := s.markets[symbol]; ok {
		return m.failed
	}
	return nil
}

// Emitted returns the number of snapshots produced for a symbol.
func (s *Sequencer) Emitted(symbol string) (emitted, zeroLevels uint64) {
	if m, ok := s.markets[symbol]; ok {
		return m.emitter.Emitted(), m.emitter.ZeroLevels()
	}
	return 0, 0
}

// NextSeq returns the sequence number the sequencer expects next.
func (s *Sequencer) NextSeq() uint64 {
	return s.nextSeq
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	books := make(map[string]BookDump, len(s.markets))
	for sym, m := range s.markets {
		books[sym] = m.book.Dump()
	}
	data := struct {
		NextSeq uint64              `json:"next_seq"`
		Books   map[string]BookDump `json:"books"`
	}{
		NextSeq: s.nextSeq,
		Books:   books,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	err = os.WriteFile(filename, b, 0644)
	if err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
