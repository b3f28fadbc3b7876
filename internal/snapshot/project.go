// Package snapshot projects order book state into bounded depth views and
// decides when to emit them.
package snapshot

import (
	"tick_book/internal/domain"
	"tick_book/pkg/quant"
)

// BookView is the read-only side of a book: levels best-first.
type BookView interface {
	WalkBids(fn func(price quant.PriceMicros, volume quant.Qty) bool)
	WalkAsks(fn func(price quant.PriceMicros, volume quant.Qty) bool)
}

// Project takes up to depth levels per side (depth <= 0 means all).
// Zero-volume levels are skipped and counted in dropped; a correct book
// never has any.
func Project(view BookView, symbol string, ts quant.TimeStamp, depth int) (snap domain.Snapshot, dropped int) {
	snap = domain.Snapshot{Ts: ts, Symbol: symbol}
	snap.Bids, dropped = collect(view.WalkBids, depth)
	var d int
	snap.Asks, d = collect(view.WalkAsks, depth)
	return snap, dropped + d
}

func collect(walk func(func(quant.PriceMicros, quant.Qty) bool), depth int) ([]domain.Level, int) {
	levels := make([]domain.Level, 0, max(depth, 0))
	dropped := 0
	walk(func(price quant.PriceMicros, volume quant.Qty) bool {
		if volume <= 0 {
			dropped++
			return true
		}
		levels = append(levels, domain.Level{Price: price, Volume: volume})
		return depth <= 0 || len(levels) < depth
	})
	return levels, dropped
}
