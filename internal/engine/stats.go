package engine

import "tick_book/internal/event"

// Stats counts what a Book did with its input.
// Not thread-safe; owned by the goroutine driving the book.
type Stats struct {
	Adds           uint64 `json:"adds"`
	Cancels        uint64 `json:"cancels"`
	Trades         uint64 `json:"trades"`
	UnknownCancels uint64 `json:"unknown_cancels"`
	UnknownTrades  uint64 `json:"unknown_trades"`
	Overfills      uint64 `json:"overfills"`
	DuplicateAdds  uint64 `json:"duplicate_adds"`
}

func (s *Stats) record(o Outcome) {
	switch o.Result {
	case ResultApplied:
		switch o.Event.Kind {
		case event.KindAdd:
			s.Adds++
		case event.KindCancel:
			s.Cancels++
		case event.KindTrade:
			s.Trades++
		}
	case ResultOverfill:
		s.Trades++
		s.Overfills++
	case ResultUnknownOrder:
		if o.Event.Kind == event.KindCancel {
			s.UnknownCancels++
		} else {
			s.UnknownTrades++
		}
	case ResultDuplicateAdd:
		s.DuplicateAdds++
	}
}

// Anomalies counts events that became no-ops or were clamped.
func (s Stats) Anomalies() uint64 {
	return s.UnknownCancels + s.UnknownTrades + s.Overfills + s.DuplicateAdds
}
