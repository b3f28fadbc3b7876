package normalize

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tick_book/internal/domain"
	"tick_book/internal/event"
	"tick_book/pkg/quant"
)

// Normalizer converts the rows of one symbol-day file. It keeps the
// warn-once set and drop counters, so use one per file and goroutine.
type Normalizer struct {
	key    MappingKey
	m      Mapping
	symbol string
	day    time.Time

	kinds map[string]event.Kind
	sides map[string]event.Side

	warned  map[string]struct{}
	dropped map[string]uint64
	onDrop  func(reason string)
}

// New builds a normalizer for one symbol and trade date (YYYYMMDD).
func New(key MappingKey, m Mapping, symbol, tradeDate string) (*Normalizer, error) {
	day, err := TradeDay(tradeDate, m.Timezone)
	if err != nil {
		return nil, &domain.ConfigError{Field: "job.trade_date", Err: err}
	}
	n := &Normalizer{
		key:     key,
		m:       m,
		symbol:  symbol,
		day:     day,
		kinds:   make(map[string]event.Kind, len(m.KindCodes)),
		sides:   make(map[string]event.Side, len(m.SideCodes)),
		warned:  make(map[string]struct{}),
		dropped: make(map[string]uint64),
	}
	for raw, name := range m.KindCodes {
		n.kinds[raw], _ = event.ParseKind(name)
	}
	for raw, name := range m.SideCodes {
		n.sides[raw], _ = event.ParseSide(name)
	}
	return n, nil
}

// OnDrop registers a callback for every dropped row (used for metrics).
func (n *Normalizer) OnDrop(fn func(reason string)) {
	n.onDrop = fn
}

// Dropped returns drop counts by reason ("kind" or "side").
func (n *Normalizer) Dropped() map[string]uint64 {
	out := make(map[string]uint64, len(n.dropped))
	for k, v := range n.dropped {
		out[k] = v
	}
	return out
}

// Decoder is a Normalizer bound to one header layout.
type Decoder struct {
	n   *Normalizer
	idx map[string]int // field -> column index
}

// Bind resolves the mapping's columns against a header row.
func (n *Normalizer) Bind(header []string) (*Decoder, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	idx := make(map[string]int)
	for _, c := range n.m.columns() {
		i, ok := pos[c.column]
		if !ok {
			return nil, &domain.SchemaError{Source: n.key.String(), Field: c.column, Detail: "column missing from header"}
		}
		idx[c.field] = i
	}
	return &Decoder{n: n, idx: idx}, nil
}

func (d *Decoder) cell(row []string, field string) (string, bool) {
	i, ok := d.idx[field]
	if !ok {
		return "", false
	}
	if i >= len(row) {
		return "", true
	}
	return strings.TrimSpace(row[i]), true
}

// Normalize decodes one row. ok is false when the row was dropped because
// of an unmapped code. Malformed values in required fields are fatal.
func (d *Decoder) Normalize(row []string) (ev event.Event, ok bool, err error) {
	n := d.n
	ev.Symbol = n.symbol

	if raw, has := d.cell(row, "event_kind"); has {
		k, found := n.kinds[raw]
		if !found {
			n.drop("kind", raw)
			return event.Event{}, false, nil
		}
		ev.Kind = k
	} else {
		ev.Kind, _ = event.ParseKind(n.m.DefaultKind)
	}

	if raw, has := d.cell(row, "side"); has {
		s, found := n.sides[raw]
		if !found {
			n.drop("side", raw)
			return event.Event{}, false, nil
		}
		ev.Side = s
	}

	rawTs, _ := d.cell(row, "time")
	tv, err := parseInt(rawTs)
	if err != nil {
		return event.Event{}, false, d.fieldErr("time", rawTs, err)
	}
	if ev.Ts, err = decodeTime(n.m.TimeEncoding, tv, n.day); err != nil {
		return event.Event{}, false, d.fieldErr("time", rawTs, err)
	}

	if raw, has := d.cell(row, "price"); has && raw != "" {
		p, perr := quant.ParsePrice(raw)
		if perr != nil {
			return event.Event{}, false, d.fieldErr("price", raw, perr)
		}
		ev.Price = p
	}

	rawVol, _ := d.cell(row, "volume")
	vol, err := parseInt(rawVol)
	if err != nil {
		return event.Event{}, false, d.fieldErr("volume", rawVol, err)
	}
	ev.Volume = quant.Qty(vol)

	if ev.OrderID, err = d.id(row, "order_id"); err != nil {
		return event.Event{}, false, err
	}
	if ev.BuyID, err = d.id(row, "buy_id"); err != nil {
		return event.Event{}, false, err
	}
	if ev.SellID, err = d.id(row, "sell_id"); err != nil {
		return event.Event{}, false, err
	}

	switch ev.Kind {
	case event.KindCancel:
		if ev.OrderID == 0 && n.m.CancelFromCounterparty {
			switch {
			case ev.BuyID != 0:
				ev.OrderID, ev.Side = ev.BuyID, event.SideBuy
			case ev.SellID != 0:
				ev.OrderID, ev.Side = ev.SellID, event.SideSell
			}
			ev.BuyID, ev.SellID = 0, 0
		}
	case event.KindTrade:
		if ev.Side == event.SideUnknown && n.m.AggressorFromLaterID && ev.BuyID != 0 && ev.SellID != 0 {
			if ev.BuyID > ev.SellID {
				ev.Side = event.SideBuy
			} else {
				ev.Side = event.SideSell
			}
		}
		if ev.OrderID == 0 {
			ev.OrderID = ev.PassiveID()
		}
	}
	return ev, true, nil
}

func (d *Decoder) id(row []string, field string) (uint64, error) {
	raw, has := d.cell(row, field)
	if !has || raw == "" {
		return 0, nil
	}
	v, err := parseInt(raw)
	if err != nil || v < 0 {
		if err == nil {
			err = fmt.Errorf("negative id")
		}
		return 0, d.fieldErr(field, raw, err)
	}
	return uint64(v), nil
}

func (d *Decoder) fieldErr(field, raw string, err error) error {
	return &domain.SchemaError{Source: d.n.key.String(), Field: field, Detail: fmt.Sprintf("value %q: %v", raw, err)}
}

func (n *Normalizer) drop(reason, code string) {
	n.dropped[reason]++
	if n.onDrop != nil {
		n.onDrop(reason)
	}
	k := reason + ":" + code
	if _, seen := n.warned[k]; seen {
		return
	}
	n.warned[k] = struct{}{}
	slog.Warn("UNMAPPED_CODE_DROPPED",
		slog.String("mapping", n.key.String()),
		slog.String("symbol", n.symbol),
		slog.String("field", reason),
		slog.String("code", code),
	)
}

// parseInt accepts plain integers and integral decimals such as "100.0".
func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("not an integer")
	}
	return d.IntPart(), nil
}
