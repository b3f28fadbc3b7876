package normalize

import (
	"fmt"
	"time"

	"tick_book/pkg/quant"
)

// TimeEncoding names how a raw time column is encoded.
type TimeEncoding string

const (
	// EncodingClock is a same-day wall clock HHMMSSmmm (93000120 = 09:30:00.120).
	EncodingClock       TimeEncoding = "hhmmssmmm"
	EncodingDayOffsetMs TimeEncoding = "day_offset_ms"
	EncodingDayOffsetUs TimeEncoding = "day_offset_us"
	EncodingEpochMs     TimeEncoding = "epoch_ms"
	EncodingEpochUs     TimeEncoding = "epoch_us"
)

func (e TimeEncoding) valid() bool {
	switch e {
	case EncodingClock, EncodingDayOffsetMs, EncodingDayOffsetUs, EncodingEpochMs, EncodingEpochUs:
		return true
	}
	return false
}

// TradeDay parses YYYYMMDD as midnight in the venue time zone.
func TradeDay(date, tz string) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	return time.ParseInLocation("20060102", date, loc)
}

// decodeTime converts a raw integer time value to an epoch timestamp.
// Same-day encodings are offsets from midnight of the trade day.
func decodeTime(enc TimeEncoding, v int64, day time.Time) (quant.TimeStamp, error) {
	if v < 0 {
		return 0, fmt.Errorf("negative time value %d", v)
	}
	switch enc {
	case EncodingClock:
		hh := v / 10_000_000
		mm := v / 100_000 % 100
		ss := v / 1000 % 100
		ms := v % 1000
		if hh > 23 || mm > 59 || ss > 59 {
			return 0, fmt.Errorf("invalid clock value %d", v)
		}
		off := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute +
			time.Duration(ss)*time.Second + time.Duration(ms)*time.Millisecond
		return quant.FromTime(day.Add(off)), nil
	case EncodingDayOffsetMs:
		return quant.FromTime(day.Add(time.Duration(v) * time.Millisecond)), nil
	case EncodingDayOffsetUs:
		return quant.FromTime(day.Add(time.Duration(v) * time.Microsecond)), nil
	case EncodingEpochMs:
		return quant.TimeStamp(v * 1000), nil
	case EncodingEpochUs:
		return quant.TimeStamp(v), nil
	}
	return 0, fmt.Errorf("unknown time encoding %q", enc)
}
