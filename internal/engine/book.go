package engine

import (
	"fmt"

	"github.com/google/btree"

	"tick_book/internal/domain"
	"tick_book/internal/event"
	"tick_book/pkg/quant"
	"tick_book/pkg/safe"
)

const btreeDegree = 32

// Result classifies what Apply did with an event.
type Result uint8

const (
	ResultApplied Result = iota
	ResultUnknownOrder
	ResultOverfill
	ResultDuplicateAdd
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultUnknownOrder:
		return "unknown_order"
	case ResultOverfill:
		return "overfill"
	case ResultDuplicateAdd:
		return "duplicate_add"
	default:
		return "invalid"
	}
}

// Outcome describes the effect of one event on a Book.
type Outcome struct {
	Event         event.Event
	Result        Result
	OrderID       uint64     // resolved resident order, 0 if none
	Side          event.Side // side of the mutated order
	AppliedVolume quant.Qty  // volume actually added or removed
	Remaining     quant.Qty  // remaining volume of the order after the event
}

// Mutated reports whether the book changed.
func (o Outcome) Mutated() bool {
	return o.Result == ResultApplied || o.Result == ResultOverfill
}

// Derived returns the event as it was effectively applied: resolved order id
// and side, clamped volume.
func (o Outcome) Derived() event.Event {
	ev := o.Event
	ev.OrderID = o.OrderID
	if o.Event.Kind != event.KindTrade {
		ev.Side = o.Side
	}
	ev.Volume = o.AppliedVolume
	return ev
}

// Book is the order book of one symbol. It is a plain state machine: not
// thread-safe, owned by exactly one goroutine.
type Book struct {
	Symbol string

	bids   *btree.BTreeG[*PriceLevel] // best (highest) first
	asks   *btree.BTreeG[*PriceLevel] // best (lowest) first
	orders map[uint64]*ResidentOrder

	insertSeq uint64
	probe     PriceLevel
	stats     Stats
}

// NewBook returns an empty book.
func NewBook(symbol string) *Book {
	return &Book{
		Symbol: symbol,
		bids: btree.NewG[*PriceLevel](btreeDegree, func(a, b *PriceLevel) bool {
			return a.Price > b.Price
		}),
		asks: btree.NewG[*PriceLevel](btreeDegree, func(a, b *PriceLevel) bool {
			return a.Price < b.Price
		}),
		orders: make(map[uint64]*ResidentOrder),
	}
}

// Validate checks the required fields of an input event. A failure is fatal
// for the symbol-day.
func Validate(ev event.Event) error {
	src := ev.Symbol
	switch ev.Kind {
	case event.KindAdd:
		switch {
		case ev.OrderID == 0:
			return &domain.SchemaError{Source: src, Field: "order_id", Detail: "ADD without id"}
		case ev.Side != event.SideBuy && ev.Side != event.SideSell:
			return &domain.SchemaError{Source: src, Field: "side", Detail: "ADD requires BUY or SELL"}
		case ev.Price <= 0:
			return &domain.SchemaError{Source: src, Field: "price", Detail: fmt.Sprintf("ADD price %d", ev.Price)}
		case ev.Volume <= 0:
			return &domain.SchemaError{Source: src, Field: "volume", Detail: fmt.Sprintf("ADD volume %d", ev.Volume)}
		}
	case event.KindCancel:
		if ev.OrderID == 0 {
			return &domain.SchemaError{Source: src, Field: "order_id", Detail: "CANCEL without id"}
		}
	case event.KindTrade:
		switch {
		case ev.OrderID == 0 && ev.BuyID == 0 && ev.SellID == 0:
			return &domain.SchemaError{Source: src, Field: "order_id", Detail: "TRADE without counterparty"}
		case ev.Price <= 0:
			return &domain.SchemaError{Source: src, Field: "price", Detail: fmt.Sprintf("TRADE price %d", ev.Price)}
		case ev.Volume <= 0:
			return &domain.SchemaError{Source: src, Field: "volume", Detail: fmt.Sprintf("TRADE volume %d", ev.Volume)}
		}
	default:
		return &domain.SchemaError{Source: src, Field: "event_kind", Detail: ev.Kind.String()}
	}
	return nil
}

// Apply validates ev and folds it into the book.
func (b *Book) Apply(ev event.Event) (Outcome, error) {
	if err := b.check(ev); err != nil {
		return Outcome{Event: ev}, err
	}
	return b.apply(ev), nil
}

// check is Validate plus the limits that depend on book state. An ADD whose
// volume would overflow its level aggregate is rejected like a bad field.
func (b *Book) check(ev event.Event) error {
	if err := Validate(ev); err != nil {
		return err
	}
	if ev.Kind != event.KindAdd {
		return nil
	}
	if _, dup := b.orders[ev.OrderID]; dup {
		return nil
	}
	lvl, ok := b.side(ev.Side).Get(b.key(ev.Price))
	if !ok {
		return nil
	}
	if _, ok := safe.CheckedAdd(int64(lvl.Volume), int64(ev.Volume)); !ok {
		return &domain.SchemaError{
			Source: ev.Symbol,
			Field:  "volume",
			Detail: fmt.Sprintf("ADD %d overflows level %d aggregate %d", ev.OrderID, ev.Price, lvl.Volume),
		}
	}
	return nil
}

// apply assumes ev is valid.
func (b *Book) apply(ev event.Event) Outcome {
	var out Outcome
	switch ev.Kind {
	case event.KindAdd:
		out = b.add(ev)
	case event.KindCancel:
		out = b.cancel(ev)
	case event.KindTrade:
		out = b.trade(ev)
	}
	out.Event = ev
	b.stats.record(out)
	return out
}

func (b *Book) add(ev event.Event) Outcome {
	if o, ok := b.orders[ev.OrderID]; ok {
		return Outcome{Result: ResultDuplicateAdd, OrderID: o.ID, Side: o.Side, Remaining: o.Remaining}
	}

	b.insertSeq++
	o := &ResidentOrder{
		ID:        ev.OrderID,
		Side:      ev.Side,
		Price:     ev.Price,
		Remaining: ev.Volume,
		InsertSeq: b.insertSeq,
	}
	tree := b.side(ev.Side)
	lvl, ok := tree.Get(b.key(ev.Price))
	if !ok {
		lvl = &PriceLevel{Price: ev.Price}
		tree.ReplaceOrInsert(lvl)
	}
	lvl.enqueue(o)
	b.orders[o.ID] = o

	return Outcome{Result: ResultApplied, OrderID: o.ID, Side: o.Side, AppliedVolume: o.Remaining, Remaining: o.Remaining}
}

func (b *Book) cancel(ev event.Event) Outcome {
	o, ok := b.orders[ev.OrderID]
	if !ok {
		return Outcome{Result: ResultUnknownOrder}
	}
	removed := o.Remaining
	b.remove(o)
	return Outcome{Result: ResultApplied, OrderID: o.ID, Side: o.Side, AppliedVolume: removed}
}

func (b *Book) trade(ev event.Event) Outcome {
	o := b.resolvePassive(ev)
	if o == nil {
		return Outcome{Result: ResultUnknownOrder}
	}

	out := Outcome{Result: ResultApplied, OrderID: o.ID, Side: o.Side}
	fill := ev.Volume
	if fill > o.Remaining {
		out.Result = ResultOverfill
		fill = o.Remaining
	}
	out.AppliedVolume = fill

	if fill == o.Remaining {
		b.remove(o)
		return out
	}

	o.Remaining = quant.Qty(safe.SafeSub(int64(o.Remaining), int64(fill)))
	o.level.Volume = quant.Qty(safe.SafeSub(int64(o.level.Volume), int64(fill)))
	out.Remaining = o.Remaining
	return out
}

// resolvePassive finds the resting order a trade consumed. An explicit order
// id wins; otherwise the aggressor side picks the counterparty, and with no
// side the earliest resident counterparty is taken.
func (b *Book) resolvePassive(ev event.Event) *ResidentOrder {
	if ev.OrderID != 0 {
		return b.orders[ev.OrderID]
	}
	if id := ev.PassiveID(); id != 0 {
		return b.orders[id]
	}

	buy := b.orders[ev.BuyID]
	sell := b.orders[ev.SellID]
	switch {
	case buy == nil:
		return sell
	case sell == nil:
		return buy
	case buy.InsertSeq < sell.InsertSeq:
		return buy
	default:
		return sell
	}
}

func (b *Book) remove(o *ResidentOrder) {
	lvl := o.level
	lvl.remove(o)
	if lvl.Empty() {
		b.side(o.Side).Delete(lvl)
	}
	delete(b.orders, o.ID)
}

func (b *Book) side(s event.Side) *btree.BTreeG[*PriceLevel] {
	if s == event.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *Book) key(p quant.PriceMicros) *PriceLevel {
	b.probe.Price = p
	return &b.probe
}

// Order returns a copy of a resident order.
func (b *Book) Order(id uint64) (ResidentOrder, bool) {
	o, ok := b.orders[id]
	if !ok {
		return ResidentOrder{}, false
	}
	return ResidentOrder{ID: o.ID, Side: o.Side, Price: o.Price, Remaining: o.Remaining, InsertSeq: o.InsertSeq}, true
}

// Level returns the level at price on side s.
func (b *Book) Level(s event.Side, p quant.PriceMicros) (*PriceLevel, bool) {
	return b.side(s).Get(b.key(p))
}

// QueuePosition returns the 0-based FIFO position of a resident order and
// the volume queued ahead of it at the same price.
func (b *Book) QueuePosition(id uint64) (pos int, ahead quant.Qty, ok bool) {
	o, found := b.orders[id]
	if !found {
		return 0, 0, false
	}
	for cur := o.level.head; cur != o; cur = cur.next {
		pos++
		ahead += cur.Remaining
	}
	return pos, ahead, true
}

// WalkBids visits bid levels from the highest price down.
func (b *Book) WalkBids(fn func(price quant.PriceMicros, volume quant.Qty) bool) {
	b.bids.Ascend(func(l *PriceLevel) bool { return fn(l.Price, l.Volume) })
}

// WalkAsks visits ask levels from the lowest price up.
func (b *Book) WalkAsks(fn func(price quant.PriceMicros, volume quant.Qty) bool) {
	b.asks.Ascend(func(l *PriceLevel) bool { return fn(l.Price, l.Volume) })
}

func (b *Book) BestBid() (quant.PriceMicros, quant.Qty, bool) {
	l, ok := b.bids.Min()
	if !ok {
		return 0, 0, false
	}
	return l.Price, l.Volume, true
}

func (b *Book) BestAsk() (quant.PriceMicros, quant.Qty, bool) {
	l, ok := b.asks.Min()
	if !ok {
		return 0, 0, false
	}
	return l.Price, l.Volume, true
}

// Depth returns the number of levels on each side.
func (b *Book) Depth() (bids, asks int) {
	return b.bids.Len(), b.asks.Len()
}

// Orders returns the number of resident orders.
func (b *Book) Orders() int {
	return len(b.orders)
}

func (b *Book) Stats() Stats {
	return b.stats
}

// CheckInvariants verifies that the index and both sides agree: every
// indexed order sits in exactly one level of its own side, every aggregate
// equals the sum of its queue, and nothing is empty or negative.
func (b *Book) CheckInvariants() error {
	seen := 0
	var err error
	check := func(side event.Side) func(l *PriceLevel) bool {
		return func(l *PriceLevel) bool {
			if l.Empty() {
				err = fmt.Errorf("%s: empty %s level %s retained", b.Symbol, side, l.Price)
				return false
			}
			var sum quant.Qty
			n := 0
			for o := l.head; o != nil; o = o.next {
				if o.Remaining <= 0 {
					err = fmt.Errorf("%s: order %d has remaining %d", b.Symbol, o.ID, o.Remaining)
					return false
				}
				if o.Side != side || o.Price != l.Price || o.level != l {
					err = fmt.Errorf("%s: order %d misplaced in %s level %s", b.Symbol, o.ID, side, l.Price)
					return false
				}
				if b.orders[o.ID] != o {
					err = fmt.Errorf("%s: order %d queued but not indexed", b.Symbol, o.ID)
					return false
				}
				if o.next != nil && o.next.InsertSeq <= o.InsertSeq {
					err = fmt.Errorf("%s: level %s out of FIFO order at %d", b.Symbol, l.Price, o.ID)
					return false
				}
				sum += o.Remaining
				n++
			}
			if sum != l.Volume || n != l.Count {
				err = fmt.Errorf("%s: level %s aggregate %d/%d, queue %d/%d", b.Symbol, l.Price, l.Volume, l.Count, sum, n)
				return false
			}
			seen += n
			return true
		}
	}

	b.bids.Ascend(check(event.SideBuy))
	if err != nil {
		return err
	}
	b.asks.Ascend(check(event.SideSell))
	if err != nil {
		return err
	}
	if seen != len(b.orders) {
		return fmt.Errorf("%s: %d orders indexed, %d queued", b.Symbol, len(b.orders), seen)
	}
	return nil
}

// LevelDump is the serializable form of one price level.
type LevelDump struct {
	Price  quant.PriceMicros `json:"price"`
	Volume quant.Qty         `json:"volume"`
	Orders []uint64          `json:"orders"`
}

// BookDump is the serializable state of a Book, used for post-mortem dumps.
type BookDump struct {
	Symbol string      `json:"symbol"`
	Bids   []LevelDump `json:"bids"`
	Asks   []LevelDump `json:"asks"`
	Stats  Stats       `json:"stats"`
}

func (b *Book) Dump() BookDump {
	d := BookDump{Symbol: b.Symbol, Stats: b.stats}
	b.bids.Ascend(func(l *PriceLevel) bool {
		d.Bids = append(d.Bids, LevelDump{Price: l.Price, Volume: l.Volume, Orders: l.OrderIDs()})
		return true
	})
	b.asks.Ascend(func(l *PriceLevel) bool {
		d.Asks = append(d.Asks, LevelDump{Price: l.Price, Volume: l.Volume, Orders: l.OrderIDs()})
		return true
	})
	return d
}
