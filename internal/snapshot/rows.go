package snapshot

import (
	"tick_book/internal/domain"
	"tick_book/pkg/quant"
)

const (
	SideBid = "bid"
	SideAsk = "ask"
)

// Row is the flat output form of a snapshot: one row per retained level.
// Level is 1-based, 1 being the best price.
type Row struct {
	Ts     quant.TimeStamp
	Side   string
	Level  int
	Price  quant.PriceMicros
	Volume quant.Qty
}

// Rows flattens a snapshot, bids first.
func Rows(s domain.Snapshot) []Row {
	rows := make([]Row, 0, len(s.Bids)+len(s.Asks))
	for i, l := range s.Bids {
		rows = append(rows, Row{Ts: s.Ts, Side: SideBid, Level: i + 1, Price: l.Price, Volume: l.Volume})
	}
	for i, l := range s.Asks {
		rows = append(rows, Row{Ts: s.Ts, Side: SideAsk, Level: i + 1, Price: l.Price, Volume: l.Volume})
	}
	return rows
}
