// Package quant holds the fixed-point numeric types shared by the whole pipeline.
// Prices are stored as integer micros so that book keys compare exactly.
package quant

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// PriceMicros is a price scaled by 1e6.
type PriceMicros int64

// Qty is an integer order volume (shares, lots or contracts, venue dependent).
type Qty int64

// TimeStamp is a Unix epoch in microseconds.
type TimeStamp int64

const priceScale = 6

// ParsePrice converts a decimal string ("10.23") to PriceMicros.
// Digits beyond the sixth decimal place are truncated.
func ParsePrice(s string) (PriceMicros, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return PriceFromDecimal(d), nil
}

// PriceFromDecimal scales a decimal to PriceMicros.
func PriceFromDecimal(d decimal.Decimal) PriceMicros {
	return PriceMicros(d.Shift(priceScale).IntPart())
}

// ToPriceMicros converts a float price, rounding to the nearest micro.
func ToPriceMicros(f float64) PriceMicros {
	return PriceFromDecimal(decimal.NewFromFloat(f).Round(priceScale))
}

// Decimal returns the price as an exact decimal.
func (p PriceMicros) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -priceScale)
}

// String renders the price without trailing zeros ("10.2").
func (p PriceMicros) String() string {
	return p.Decimal().String()
}

// Float64 is lossy and meant for columnar outputs only.
func (p PriceMicros) Float64() float64 {
	return p.Decimal().InexactFloat64()
}

// Time converts the timestamp to a UTC time.Time.
func (t TimeStamp) Time() time.Time {
	return time.UnixMicro(int64(t)).UTC()
}

// FromTime converts a time.Time to TimeStamp.
func FromTime(t time.Time) TimeStamp {
	return TimeStamp(t.UnixMicro())
}

// NextSeq atomically increments the shared counter and returns the new value.
// Producers feeding one sequencer share the same counter.
func NextSeq(seq *uint64) uint64 {
	return atomic.AddUint64(seq, 1)
}
