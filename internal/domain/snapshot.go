package domain

import "tick_book/pkg/quant"

// Level is one aggregated price level in a snapshot.
type Level struct {
	Price  quant.PriceMicros `json:"price"`
	Volume quant.Qty         `json:"volume"`
}

// Snapshot is a bounded depth view of one symbol's book.
// Bids are strictly descending, asks strictly ascending; neither holds zero volume.
type Snapshot struct {
	Ts     quant.TimeStamp `json:"ts"`
	Symbol string          `json:"symbol"`
	Bids   []Level         `json:"bids"`
	Asks   []Level         `json:"asks"`
}

// BestBid returns the top bid, if any.
func (s Snapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask, if any.
func (s Snapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// Sorted checks the ordering and positivity rules every emitted snapshot must satisfy.
func (s Snapshot) Sorted() bool {
	for i, l := range s.Bids {
		if l.Volume <= 0 || (i > 0 && l.Price >= s.Bids[i-1].Price) {
			return false
		}
	}
	for i, l := range s.Asks {
		if l.Volume <= 0 || (i > 0 && l.Price <= s.Asks[i-1].Price) {
			return false
		}
	}
	return true
}
