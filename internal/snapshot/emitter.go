package snapshot

import (
	"fmt"
	"log/slog"
	"time"

	"tick_book/internal/domain"
	"tick_book/pkg/quant"
)

// Cadence decides when snapshots are taken.
type Cadence string

const (
	CadenceEveryEvent Cadence = "every_event"
	CadenceInterval   Cadence = "interval"
	CadenceFinalize   Cadence = "finalize"
)

// Config is the emitter configuration shared by every symbol of a job.
type Config struct {
	Cadence  Cadence
	Interval time.Duration // exchange-clock interval for CadenceInterval
	Depth    int
	FillGaps bool // emit every crossed boundary, not only the latest
}

func (c Config) Validate() error {
	switch c.Cadence {
	case CadenceEveryEvent, CadenceFinalize:
	case CadenceInterval:
		if c.Interval < time.Microsecond {
			return fmt.Errorf("interval cadence needs a positive interval, got %s", c.Interval)
		}
	default:
		return fmt.Errorf("unknown cadence %q", c.Cadence)
	}
	if c.Depth < 0 {
		return fmt.Errorf("negative depth %d", c.Depth)
	}
	return nil
}

// Emitter drives the snapshot cadence of one symbol. The owner calls Before
// ahead of applying each event, After once it is applied, and Finalize when
// the stream ends.
type Emitter struct {
	cfg    Config
	symbol string
	view   BookView
	emit   func(domain.Snapshot) error

	step     quant.TimeStamp
	boundary quant.TimeStamp // next interval boundary, 0 until the first event
	lastTs   quant.TimeStamp
	seen     bool

	emitted    uint64
	zeroLevels uint64
}

func NewEmitter(symbol string, view BookView, cfg Config, emit func(domain.Snapshot) error) *Emitter {
	return &Emitter{
		cfg:    cfg,
		symbol: symbol,
		view:   view,
		emit:   emit,
		step:   quant.TimeStamp(cfg.Interval.Microseconds()),
	}
}

// Before emits interval snapshots for every boundary at or before ts, using
// the state as it was before the event at ts.
func (e *Emitter) Before(ts quant.TimeStamp) error {
	if e.cfg.Cadence != CadenceInterval {
		return nil
	}
	if e.boundary == 0 {
		e.boundary = e.nextBoundary(ts)
		return nil
	}
	if ts < e.boundary {
		return nil
	}

	if !e.cfg.FillGaps {
		latest := e.boundary + (ts-e.boundary)/e.step*e.step
		e.boundary = latest + e.step
		return e.take(latest)
	}
	for e.boundary <= ts {
		if err := e.take(e.boundary); err != nil {
			return err
		}
		e.boundary += e.step
	}
	return nil
}

// After records ts and emits for the every_event cadence.
func (e *Emitter) After(ts quant.TimeStamp) error {
	e.lastTs = ts
	e.seen = true
	if e.cfg.Cadence == CadenceEveryEvent {
		return e.take(ts)
	}
	return nil
}

// Finalize emits the closing snapshot, if the cadence has one.
func (e *Emitter) Finalize() error {
	if !e.seen {
		return nil
	}
	switch e.cfg.Cadence {
	case CadenceFinalize:
		return e.take(e.lastTs)
	case CadenceInterval:
		return e.take(e.boundary)
	}
	return nil
}

func (e *Emitter) take(ts quant.TimeStamp) error {
	snap, dropped := Project(e.view, e.symbol, ts, e.cfg.Depth)
	if dropped > 0 {
		e.zeroLevels += uint64(dropped)
		slog.Error("ZERO_VOLUME_LEVEL_IN_BOOK",
			slog.String("symbol", e.symbol),
			slog.Int64("ts", int64(ts)),
			slog.Int("levels", dropped),
		)
	}
	e.emitted++
	if err := e.emit(snap); err != nil {
		return fmt.Errorf("emit snapshot %s@%d: %w", e.symbol, ts, err)
	}
	return nil
}

func (e *Emitter) nextBoundary(ts quant.TimeStamp) quant.TimeStamp {
	return (ts/e.step + 1) * e.step
}

// Emitted is the number of snapshots produced so far.
func (e *Emitter) Emitted() uint64 { return e.emitted }

// ZeroLevels is the number of zero-volume levels skipped so far.
func (e *Emitter) ZeroLevels() uint64 { return e.zeroLevels }
