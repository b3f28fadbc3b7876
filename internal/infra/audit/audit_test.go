package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tick_book/internal/domain"
	"tick_book/internal/engine"
	"tick_book/internal/event"
	"tick_book/internal/snapshot"
	"tick_book/pkg/quant"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func rawStream() []event.Event {
	evs := []event.Event{
		{Ts: 1, Symbol: "X", Kind: event.KindAdd, OrderID: 1, Side: event.SideBuy, Price: 10_000000, Volume: 100},
		{Ts: 2, Symbol: "X", Kind: event.KindAdd, OrderID: 2, Side: event.SideSell, Price: 10_010000, Volume: 50},
		{Ts: 3, Symbol: "X", Kind: event.KindCancel, OrderID: 99},
		{Ts: 4, Symbol: "X", Kind: event.KindTrade, Side: event.SideSell, BuyID: 1, SellID: 7, Price: 10_000000, Volume: 150},
		{Ts: 5, Symbol: "X", Kind: event.KindAdd, OrderID: 3, Side: event.SideBuy, Price: 9_990000, Volume: 40},
		{Ts: 6, Symbol: "X", Kind: event.KindCancel, OrderID: 3},
	}
	for i := range evs {
		evs[i].Seq = uint64(i + 1)
	}
	return evs
}

func TestRecorder_RoundTrip(t *testing.T) {
	s := openStore(t)
	rec := s.Recorder("20240105")

	seq := engine.NewSequencer(16, snapshot.Config{Cadence: snapshot.CadenceFinalize}, rec, nil)
	for _, ev := range rawStream() {
		require.NoError(t, seq.ReplayEvent(ev))
	}
	require.NoError(t, seq.Finalize())
	assert.Equal(t, uint64(5), rec.Written(), "unknown cancel is not recorded")

	got, err := s.Events("X", "20240105")
	require.NoError(t, err)
	require.Len(t, got, 5)

	trade := got[2]
	assert.Equal(t, event.KindTrade, trade.Kind)
	assert.Equal(t, uint64(1), trade.OrderID, "passive order resolved")
	assert.Equal(t, quant.Qty(100), trade.Volume, "overfill clamped")

	// Replaying the derived stream rebuilds the same book.
	again := engine.NewSequencer(16, snapshot.Config{Cadence: snapshot.CadenceFinalize}, nil, nil)
	for i, ev := range got {
		ev.Seq = uint64(i + 1)
		require.NoError(t, again.ReplayEvent(ev))
	}
	want, _ := seq.Book("X")
	have, _ := again.Book("X")
	assert.Equal(t, want.Dump().Bids, have.Dump().Bids)
	assert.Equal(t, want.Dump().Asks, have.Dump().Asks)
}

func TestStore_ResetAndIsolation(t *testing.T) {
	s := openStore(t)
	rec := s.Recorder("20240105")
	require.NoError(t, rec.Record(event.Event{Seq: 1, Symbol: "X", Kind: event.KindAdd}))
	require.NoError(t, rec.Record(event.Event{Seq: 1, Symbol: "XY", Kind: event.KindAdd}))
	require.NoError(t, rec.Flush())

	x, err := s.Events("X", "20240105")
	require.NoError(t, err)
	assert.Len(t, x, 1)

	require.NoError(t, s.Reset("X", "20240105"))
	x, err = s.Events("X", "20240105")
	require.NoError(t, err)
	assert.Empty(t, x)

	xy, err := s.Events("XY", "20240105")
	require.NoError(t, err)
	assert.Len(t, xy, 1)
}

func TestKeyOrder(t *testing.T) {
	assert.Less(t, string(key("X", "d", 255)), string(key("X", "d", 256)))
}

func TestRecorder_CloseDropsPending(t *testing.T) {
	s := openStore(t)

	rec := s.Recorder("20240105")
	require.NoError(t, rec.Record(event.Event{Seq: 1, Symbol: "X", Kind: event.KindAdd}))
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	assert.ErrorIs(t, rec.Record(event.Event{Seq: 2, Symbol: "X", Kind: event.KindAdd}), domain.ErrSinkClosed)
	assert.ErrorIs(t, rec.Flush(), domain.ErrSinkClosed)
	assert.Equal(t, uint64(0), rec.Written())

	evs, err := s.Events("X", "20240105")
	require.NoError(t, err)
	assert.Empty(t, evs)
}
