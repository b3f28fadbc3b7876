package engine

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"tick_book/internal/domain"
	"tick_book/internal/event"
	"tick_book/internal/snapshot"
	"tick_book/pkg/quant"
)

func px(f float64) quant.PriceMicros { return quant.ToPriceMicros(f) }

func add(id uint64, side event.Side, price float64, vol int64) event.Event {
	return event.Event{Symbol: "TEST", Kind: event.KindAdd, OrderID: id, Side: side, Price: px(price), Volume: quant.Qty(vol)}
}

func cancel(id uint64) event.Event {
	return event.Event{Symbol: "TEST", Kind: event.KindCancel, OrderID: id}
}

func trade(id uint64, vol int64) event.Event {
	return event.Event{Symbol: "TEST", Kind: event.KindTrade, OrderID: id, Price: px(1), Volume: quant.Qty(vol)}
}

func mustApply(t *testing.T, b *Book, evs ...event.Event) []Outcome {
	t.Helper()
	outs := make([]Outcome, 0, len(evs))
	for _, ev := range evs {
		out, err := b.Apply(ev)
		if err != nil {
			t.Fatalf("Apply(%v): %v", ev, err)
		}
		if err := b.CheckInvariants(); err != nil {
			t.Fatalf("invariants after %v: %v", ev, err)
		}
		outs = append(outs, out)
	}
	return outs
}

func levels(t *testing.T, b *Book) (bids, asks []domain.Level) {
	t.Helper()
	snap, dropped := snapshot.Project(b, b.Symbol, 0, 0)
	if dropped != 0 {
		t.Fatalf("book exposed %d zero-volume levels", dropped)
	}
	if !snap.Sorted() {
		t.Fatalf("snapshot not sorted: %+v", snap)
	}
	return snap.Bids, snap.Asks
}

func assertLevels(t *testing.T, name string, got []domain.Level, want ...domain.Level) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s = %+v, want %+v", name, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s[%d] = %+v, want %+v", name, i, got[i], want[i])
		}
	}
}

func lvl(price float64, vol int64) domain.Level {
	return domain.Level{Price: px(price), Volume: quant.Qty(vol)}
}

func TestBook_Scenarios(t *testing.T) {
	t.Run("add, partial trade, cancel", func(t *testing.T) {
		b := NewBook("TEST")

		mustApply(t, b, add(1, event.SideBuy, 10.0, 100), add(2, event.SideSell, 10.2, 100))
		bids, asks := levels(t, b)
		assertLevels(t, "bids", bids, lvl(10.0, 100))
		assertLevels(t, "asks", asks, lvl(10.2, 100))

		mustApply(t, b, trade(2, 40))
		bids, asks = levels(t, b)
		assertLevels(t, "asks", asks, lvl(10.2, 60))
		assertLevels(t, "bids", bids, lvl(10.0, 100))

		mustApply(t, b, cancel(1))
		bids, _ = levels(t, b)
		assertLevels(t, "bids", bids)
		if _, ok := b.Level(event.SideBuy, px(10.0)); ok {
			t.Error("bid level 10.0 should be deleted")
		}
	})

	t.Run("FIFO attribution", func(t *testing.T) {
		b := NewBook("TEST")
		mustApply(t, b, add(1, event.SideBuy, 10.0, 50), add(2, event.SideBuy, 10.0, 50), trade(1, 50))

		l, ok := b.Level(event.SideBuy, px(10.0))
		if !ok || l.Volume != 50 {
			t.Fatalf("level 10.0 = %+v, want aggregate 50", l)
		}
		if ids := l.OrderIDs(); len(ids) != 1 || ids[0] != 2 {
			t.Errorf("queue = %v, want [2]", ids)
		}
		if _, ok := b.Order(1); ok {
			t.Error("order 1 should be gone")
		}
	})

	t.Run("overfill", func(t *testing.T) {
		b := NewBook("TEST")
		outs := mustApply(t, b, add(1, event.SideSell, 20.0, 50), trade(1, 80))

		if outs[1].Result != ResultOverfill || outs[1].AppliedVolume != 50 {
			t.Errorf("outcome = %+v, want overfill clamped to 50", outs[1])
		}
		_, asks := levels(t, b)
		assertLevels(t, "asks", asks)
		if b.Stats().Overfills != 1 {
			t.Errorf("overfills = %d", b.Stats().Overfills)
		}
	})
}

func TestBook_UnknownReferences(t *testing.T) {
	b := NewBook("TEST")
	outs := mustApply(t, b, add(1, event.SideBuy, 10.0, 10), cancel(99), trade(98, 5))

	for _, o := range outs[1:] {
		if o.Result != ResultUnknownOrder || o.Mutated() {
			t.Errorf("outcome = %+v, want unknown no-op", o)
		}
	}
	if o, _ := b.Order(1); o.Remaining != 10 {
		t.Errorf("order 1 remaining = %d", o.Remaining)
	}
	st := b.Stats()
	if st.UnknownCancels != 1 || st.UnknownTrades != 1 || st.Anomalies() != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestBook_DuplicateAdd(t *testing.T) {
	b := NewBook("TEST")
	outs := mustApply(t, b, add(1, event.SideBuy, 10.0, 10), add(1, event.SideSell, 11.0, 99))

	if outs[1].Result != ResultDuplicateAdd {
		t.Fatalf("result = %v, want duplicate_add", outs[1].Result)
	}
	o, _ := b.Order(1)
	if o.Side != event.SideBuy || o.Remaining != 10 {
		t.Errorf("first order overwritten: %+v", o)
	}
	if bids, asks := b.Depth(); bids != 1 || asks != 0 {
		t.Errorf("depth = %d/%d", bids, asks)
	}
}

func TestBook_SideIsolation(t *testing.T) {
	b := NewBook("TEST")
	mustApply(t, b, add(1, event.SideSell, 10.5, 30), add(2, event.SideSell, 10.6, 40))
	_, before := levels(t, b)

	mustApply(t, b, add(3, event.SideBuy, 10.4, 5), add(4, event.SideBuy, 10.3, 7))
	_, after := levels(t, b)
	assertLevels(t, "asks", after, before...)
}

func TestBook_TradePassivity(t *testing.T) {
	b := NewBook("TEST")
	mustApply(t, b, add(1, event.SideBuy, 10.0, 100), add(2, event.SideSell, 10.1, 100))

	ev := event.Event{Symbol: "TEST", Kind: event.KindTrade, Side: event.SideBuy, BuyID: 77, SellID: 2, Price: px(10.1), Volume: 30}
	out := mustApply(t, b, ev)[0]
	if out.OrderID != 2 || out.Side != event.SideSell {
		t.Fatalf("resolved %d/%s, want sell order 2", out.OrderID, out.Side)
	}
	bids, asks := levels(t, b)
	assertLevels(t, "bids", bids, lvl(10.0, 100))
	assertLevels(t, "asks", asks, lvl(10.1, 70))
}

func TestBook_ResolveWithoutAggressor(t *testing.T) {
	b := NewBook("TEST")
	mustApply(t, b, add(5, event.SideSell, 10.1, 10), add(6, event.SideBuy, 10.1, 10))

	ev := event.Event{Symbol: "TEST", Kind: event.KindTrade, BuyID: 6, SellID: 5, Price: px(10.1), Volume: 4}
	out := mustApply(t, b, ev)[0]
	if out.OrderID != 5 {
		t.Errorf("resolved %d, want earliest resident 5", out.OrderID)
	}

	ev.SellID = 404
	out = mustApply(t, b, ev)[0]
	if out.OrderID != 6 {
		t.Errorf("resolved %d, want the only resident 6", out.OrderID)
	}
}

func TestBook_PartialFillKeepsQueuePosition(t *testing.T) {
	b := NewBook("TEST")
	mustApply(t, b,
		add(1, event.SideSell, 10.0, 10),
		add(2, event.SideSell, 10.0, 20),
		add(3, event.SideSell, 10.0, 30),
	)
	mustApply(t, b, trade(2, 5))

	o, _ := b.Order(2)
	if o.Remaining != 15 {
		t.Errorf("remaining = %d, want 15", o.Remaining)
	}
	pos, ahead, ok := b.QueuePosition(2)
	if !ok || pos != 1 || ahead != 10 {
		t.Errorf("QueuePosition(2) = %d,%d,%v want 1,10,true", pos, ahead, ok)
	}
	pos, ahead, _ = b.QueuePosition(3)
	if pos != 2 || ahead != 25 {
		t.Errorf("QueuePosition(3) = %d,%d want 2,25", pos, ahead)
	}
	if _, _, ok := b.QueuePosition(42); ok {
		t.Error("unknown order has no position")
	}
}

func TestBook_FIFOIsolation(t *testing.T) {
	b := NewBook("TEST")
	mustApply(t, b, add(1, event.SideBuy, 9.9, 10), add(2, event.SideBuy, 9.9, 20))

	mustApply(t, b, cancel(1))
	o, ok := b.Order(2)
	if !ok || o.Remaining != 20 {
		t.Fatalf("order 2 = %+v", o)
	}
	if pos, _, _ := b.QueuePosition(2); pos != 0 {
		t.Errorf("order 2 position = %d, want head", pos)
	}

	mustApply(t, b, add(3, event.SideBuy, 9.9, 5), trade(3, 5))
	if o, _ := b.Order(2); o.Remaining != 20 {
		t.Errorf("order 2 touched by trade on 3: %+v", o)
	}
}

func TestBook_BestPrices(t *testing.T) {
	b := NewBook("TEST")
	if _, _, ok := b.BestBid(); ok {
		t.Error("empty book has no best bid")
	}
	mustApply(t, b,
		add(1, event.SideBuy, 10.0, 1), add(2, event.SideBuy, 10.2, 2), add(3, event.SideBuy, 9.8, 3),
		add(4, event.SideSell, 10.5, 4), add(5, event.SideSell, 10.3, 5),
	)
	if p, v, _ := b.BestBid(); p != px(10.2) || v != 2 {
		t.Errorf("BestBid = %s/%d", p, v)
	}
	if p, v, _ := b.BestAsk(); p != px(10.3) || v != 5 {
		t.Errorf("BestAsk = %s/%d", p, v)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		ev   event.Event
	}{
		{"add without id", add(0, event.SideBuy, 10, 1)},
		{"add without side", add(1, event.SideUnknown, 10, 1)},
		{"add zero price", add(1, event.SideBuy, 0, 1)},
		{"add zero volume", add(1, event.SideBuy, 10, 0)},
		{"cancel without id", cancel(0)},
		{"trade without ids", trade(0, 1)},
		{"trade zero volume", trade(1, 0)},
		{"unknown kind", event.Event{OrderID: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBook("TEST")
			_, err := b.Apply(tt.ev)
			if !errors.Is(err, domain.ErrSchemaViolation) {
				t.Errorf("Apply() error = %v, want schema violation", err)
			}
			if b.Orders() != 0 {
				t.Error("invalid event mutated the book")
			}
		})
	}

	if err := Validate(cancel(7)); err != nil {
		t.Errorf("cancel without price should be valid: %v", err)
	}
}

func TestBook_LevelVolumeOverflow(t *testing.T) {
	b := NewBook("TEST")
	half := int64(math.MaxInt64/2 + 1)
	mustApply(t, b, add(1, event.SideBuy, 10, half))

	_, err := b.Apply(add(2, event.SideBuy, 10, half))
	if !errors.Is(err, domain.ErrSchemaViolation) {
		t.Fatalf("Apply() error = %v, want schema violation", err)
	}
	if _, ok := b.Order(2); ok {
		t.Error("rejected ADD became resident")
	}
	if _, v, _ := b.BestBid(); v != quant.Qty(half) {
		t.Errorf("level volume = %d, want %d", v, half)
	}

	// Same volume at another price or on the other side is fine.
	mustApply(t, b, add(3, event.SideBuy, 11, half), add(4, event.SideSell, 10, half))
}

func TestSequencer_OverflowHaltsOnlyItsSymbol(t *testing.T) {
	seq := NewSequencer(0, snapshot.Config{Cadence: snapshot.CadenceFinalize, Depth: 5}, nil, nil)
	half := int64(math.MaxInt64/2 + 1)
	big := func(id uint64, symbol string, n uint64) event.Event {
		ev := add(id, event.SideBuy, 10, half)
		ev.Symbol, ev.Seq = symbol, n
		return ev
	}

	if err := seq.ReplayEvent(big(1, "X", 1)); err != nil {
		t.Fatal(err)
	}
	if err := seq.ReplayEvent(big(2, "X", 2)); !errors.Is(err, domain.ErrSchemaViolation) {
		t.Fatalf("second ADD error = %v, want schema violation", err)
	}
	if err := seq.ReplayEvent(big(1, "Y", 3)); err != nil {
		t.Errorf("other symbol affected: %v", err)
	}
	if seq.Failed("X") == nil || seq.Failed("Y") != nil {
		t.Errorf("Failed: X=%v Y=%v", seq.Failed("X"), seq.Failed("Y"))
	}
}

// randomEvents builds a reproducible stream with unknown references,
// overfills and price collisions.
func randomEvents(seed int64, n int) []event.Event {
	r := rand.New(rand.NewSource(seed))
	evs := make([]event.Event, 0, n)
	var nextID uint64
	for i := 0; i < n; i++ {
		var ev event.Event
		switch k := r.Intn(10); {
		case k < 5 || nextID == 0:
			nextID++
			side := event.SideBuy
			base := 100.0
			if r.Intn(2) == 0 {
				side = event.SideSell
				base = 101.0
			}
			ev = add(nextID, side, base+float64(r.Intn(5))/10, int64(1+r.Intn(100)))
		case k < 7:
			ev = cancel(uint64(1 + r.Intn(int(nextID)+3)))
		default:
			ev = trade(uint64(1+r.Intn(int(nextID)+3)), int64(1+r.Intn(120)))
		}
		ev.Ts = quant.TimeStamp(i)
		evs = append(evs, ev)
	}
	return evs
}

func TestBook_RandomStreamInvariants(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		b := NewBook("TEST")
		for _, ev := range randomEvents(seed, 2000) {
			if _, err := b.Apply(ev); err != nil {
				t.Fatalf("seed %d: %v", seed, err)
			}
		}
		if err := b.CheckInvariants(); err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		levels(t, b)
	}
}

func BenchmarkBook_Apply(b *testing.B) {
	evs := randomEvents(7, 10000)
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		book := NewBook("BENCH")
		for _, ev := range evs {
			book.apply(ev)
		}
	}
}
