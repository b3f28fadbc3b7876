// Package analytics holds downstream trade signals. Nothing here feeds
// back into book state.
package analytics

import (
	"tick_book/internal/event"
	"tick_book/pkg/quant"
	"tick_book/pkg/safe"
)

// Direction is the trade initiator inferred from price movement.
type Direction int8

const (
	Unclassified Direction = 0
	Uptick       Direction = 1  // buyer-initiated
	Downtick     Direction = -1 // seller-initiated
)

// Side maps a direction to the aggressor side it implies.
func (d Direction) Side() event.Side {
	switch d {
	case Uptick:
		return event.SideBuy
	case Downtick:
		return event.SideSell
	default:
		return event.SideUnknown
	}
}

func (d Direction) String() string {
	switch d {
	case Uptick:
		return "UPTICK"
	case Downtick:
		return "DOWNTICK"
	default:
		return "UNCLASSIFIED"
	}
}

// Summary aggregates the classified trades of one symbol.
// Agree/Disagree compare against the aggressor side reported by the exchange,
// for trades where both are known.
type Summary struct {
	Trades             uint64 `json:"trades"`
	BuyVolume          int64  `json:"buy_volume"`
	SellVolume         int64  `json:"sell_volume"`
	UnclassifiedVolume int64  `json:"unclassified_volume"`
	Agree              uint64 `json:"agree"`
	Disagree           uint64 `json:"disagree"`
}

// TickRule classifies trades with the tick test: a price above the previous
// trade is buyer-initiated, below is seller-initiated, and an unchanged
// price inherits the previous classification.
// It is stateful and deterministic.
type TickRule struct {
	symbol    string
	lastPrice quant.PriceMicros
	last      Direction
	summary   Summary
}

func NewTickRule(symbol string) *TickRule {
	return &TickRule{symbol: symbol}
}

// OnTrade classifies one trade. Events of other symbols or kinds are ignored.
func (t *TickRule) OnTrade(ev event.Event) Direction {
	if ev.Kind != event.KindTrade || ev.Symbol != t.symbol {
		return Unclassified
	}

	d := t.last
	switch {
	case t.lastPrice == 0:
		d = Unclassified
	case ev.Price > t.lastPrice:
		d = Uptick
	case ev.Price < t.lastPrice:
		d = Downtick
	}
	t.lastPrice = ev.Price
	t.last = d

	vol := int64(ev.Volume)
	t.summary.Trades++
	switch d {
	case Uptick:
		t.summary.BuyVolume = safe.SaturatingAdd(t.summary.BuyVolume, vol)
	case Downtick:
		t.summary.SellVolume = safe.SaturatingAdd(t.summary.SellVolume, vol)
	default:
		t.summary.UnclassifiedVolume = safe.SaturatingAdd(t.summary.UnclassifiedVolume, vol)
	}

	if d != Unclassified && ev.Side != event.SideUnknown {
		if d.Side() == ev.Side {
			t.summary.Agree++
		} else {
			t.summary.Disagree++
		}
	}
	return d
}

func (t *TickRule) Summary() Summary {
	return t.summary
}
