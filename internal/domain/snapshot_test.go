package domain

import "testing"

func TestSnapshot_Sorted(t *testing.T) {
	ok := Snapshot{
		Bids: []Level{{Price: 102, Volume: 1}, {Price: 101, Volume: 5}},
		Asks: []Level{{Price: 103, Volume: 2}, {Price: 105, Volume: 1}},
	}
	if !ok.Sorted() {
		t.Error("expected sorted snapshot")
	}
	if b, _ := ok.BestBid(); b.Price != 102 {
		t.Errorf("BestBid = %d", b.Price)
	}

	bad := ok
	bad.Asks = []Level{{Price: 105, Volume: 1}, {Price: 103, Volume: 2}}
	if bad.Sorted() {
		t.Error("descending asks must fail")
	}

	zero := ok
	zero.Bids = []Level{{Price: 102, Volume: 0}}
	if zero.Sorted() {
		t.Error("zero-volume level must fail")
	}

	if _, ok := (Snapshot{}).BestAsk(); ok {
		t.Error("empty snapshot has no best ask")
	}
}
