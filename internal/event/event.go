package event

import (
	"fmt"

	"tick_book/pkg/quant"
)

// Kind identifies what a market event does to the book.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAdd
	KindCancel
	KindTrade
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "ADD"
	case KindCancel:
		return "CANCEL"
	case KindTrade:
		return "TRADE"
	default:
		return "UNKNOWN"
	}
}

// ParseKind accepts the canonical names used in Parquet and JSON feeds.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "ADD", "A":
		return KindAdd, true
	case "CANCEL", "D":
		return KindCancel, true
	case "TRADE", "T":
		return KindTrade, true
	}
	return KindUnknown, false
}

// Side of an order. SideUnknown is only legal on trades.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return ""
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideUnknown
	}
}

// ParseSide accepts the canonical names. Empty maps to SideUnknown.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "BUY", "B":
		return SideBuy, true
	case "SELL", "S":
		return SideSell, true
	case "":
		return SideUnknown, true
	}
	return SideUnknown, false
}

// Event is the canonical market event every venue format is normalized into.
// It is passed by value and never mutated after normalization.
//
// For trades, Side is the aggressor side and OrderID is the passive
// counterparty (0 when the aggressor is not reported).
type Event struct {
	Seq     uint64            `json:"seq"`
	Ts      quant.TimeStamp   `json:"ts"`
	Symbol  string            `json:"symbol"`
	Kind    Kind              `json:"kind"`
	OrderID uint64            `json:"order_id"`
	Side    Side              `json:"side"`
	Price   quant.PriceMicros `json:"price"`
	Volume  quant.Qty         `json:"volume"`
	BuyID   uint64            `json:"buy_id,omitempty"`
	SellID  uint64            `json:"sell_id,omitempty"`
}

// PassiveID returns the resting counterparty id implied by the aggressor side.
func (e Event) PassiveID() uint64 {
	switch e.Side {
	case SideBuy:
		return e.SellID
	case SideSell:
		return e.BuyID
	}
	return 0
}

func (e Event) String() string {
	return fmt.Sprintf("%s#%d %s id=%d side=%s px=%s vol=%d ts=%d",
		e.Symbol, e.Seq, e.Kind, e.OrderID, e.Side, e.Price, e.Volume, e.Ts)
}
