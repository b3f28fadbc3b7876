package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tick_book/internal/domain"
	"tick_book/internal/event"
	"tick_book/internal/normalize"
	"tick_book/internal/replay"
	"tick_book/pkg/quant"
)

const (
	szseOrders = "ApplSeqNum,TransactTime,Price,OrderQty,Side,OrderType\n" +
		"1,93000000,10.00,300,1,2\n" +
		"2,93000500,10.01,200,2,2\n" +
		"3,93000600,0,100,1,1\n"
	szseTrades = "TransactTime,LastPx,LastQty,ExecType,BidApplSeqNum,OfferApplSeqNum\n" +
		"93000550,10.00,100,F,1,4\n" +
		"93000700,0,200,4,0,2\n"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func szseOpener(t *testing.T, dir string) Opener {
	t.Helper()
	ms, err := normalize.Resolve(normalize.BuiltinMappings(), nil)
	require.NoError(t, err)
	return Opener{Dir: dir, Format: domain.FormatRawCSV, Exchange: "SZSE", TradeDate: "20240105", Mappings: ms}
}

func drain(t *testing.T, s replay.Stream) []event.Event {
	t.Helper()
	evs, err := replay.Collect(s)
	require.NoError(t, err)
	return evs
}

func TestOpener_RawCSVMergesCategories(t *testing.T) {
	dir := t.TempDir()
	o := szseOpener(t, dir)
	writeFile(t, o.CSVPath("000001", normalize.CategoryOrder), szseOrders)
	writeFile(t, o.CSVPath("000001", normalize.CategoryTrade), szseTrades)

	var drops []string
	o.OnDrop = func(mapping, reason string) { drops = append(drops, mapping+":"+reason) }

	s, err := o.Open("000001")
	require.NoError(t, err)
	defer s.Close()

	evs := drain(t, s)
	require.Len(t, evs, 4)

	kinds := make([]event.Kind, len(evs))
	for i, ev := range evs {
		kinds[i] = ev.Kind
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "000001", ev.Symbol)
	}
	assert.Equal(t, []event.Kind{event.KindAdd, event.KindAdd, event.KindTrade, event.KindCancel}, kinds)

	assert.Equal(t, uint64(1), evs[2].OrderID, "sell id 4 is the later order, so the buy rests")
	assert.Equal(t, uint64(2), evs[3].OrderID)
	assert.Equal(t, event.SideSell, evs[3].Side)

	assert.Equal(t, map[string]uint64{"kind": 1}, s.Dropped())
	assert.Equal(t, []string{"szse/order:kind"}, drops)
}

func TestOpener_EqualTimestampsOrdersFirst(t *testing.T) {
	dir := t.TempDir()
	o := szseOpener(t, dir)
	writeFile(t, o.CSVPath("000002", normalize.CategoryOrder),
		"ApplSeqNum,TransactTime,Price,OrderQty,Side,OrderType\n"+
			"1,93000000,10.00,100,2,2\n"+
			"2,93000000,10.01,100,2,2\n")
	writeFile(t, o.CSVPath("000002", normalize.CategoryTrade),
		"TransactTime,LastPx,LastQty,ExecType,BidApplSeqNum,OfferApplSeqNum\n"+
			"93000000,10.01,100,F,3,2\n"+
			"93000000,0,100,4,0,1\n")

	s, err := o.Open("000002")
	require.NoError(t, err)
	defer s.Close()

	evs := drain(t, s)
	require.Len(t, evs, 4)
	kinds := make([]event.Kind, len(evs))
	for i, ev := range evs {
		kinds[i] = ev.Kind
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
	assert.Equal(t, []event.Kind{event.KindAdd, event.KindAdd, event.KindTrade, event.KindCancel}, kinds)
	assert.Equal(t, uint64(2), evs[2].OrderID)
	assert.Equal(t, uint64(1), evs[3].OrderID)
}

func TestOpener_MissingFile(t *testing.T) {
	o := szseOpener(t, t.TempDir())
	_, err := o.Open("000001")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCSVSource_SchemaErrors(t *testing.T) {
	dir := t.TempDir()
	o := szseOpener(t, dir)

	t.Run("missing column", func(t *testing.T) {
		writeFile(t, o.CSVPath("A", normalize.CategoryOrder), "ApplSeqNum,TransactTime,Price\n1,93000000,10\n")
		writeFile(t, o.CSVPath("A", normalize.CategoryTrade), szseTrades)
		_, err := o.Open("A")
		assert.ErrorIs(t, err, domain.ErrSchemaViolation)
		assert.True(t, domain.IsFatal(err))
	})

	t.Run("empty file", func(t *testing.T) {
		writeFile(t, o.CSVPath("B", normalize.CategoryOrder), "")
		writeFile(t, o.CSVPath("B", normalize.CategoryTrade), szseTrades)
		_, err := o.Open("B")
		assert.ErrorIs(t, err, domain.ErrSchemaViolation)
	})

	t.Run("malformed row", func(t *testing.T) {
		writeFile(t, o.CSVPath("C", normalize.CategoryOrder), szseOrders+"4,93000900,abc,100,1,2\n")
		writeFile(t, o.CSVPath("C", normalize.CategoryTrade), szseTrades)
		s, err := o.Open("C")
		require.NoError(t, err)
		defer s.Close()
		_, err = replay.Collect(s)
		assert.ErrorIs(t, err, domain.ErrSchemaViolation)
		assert.Contains(t, err.Error(), "line 5")
	})
}

func TestParquetSource_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := []event.Event{
		{Ts: 10, Kind: event.KindAdd, OrderID: 1, Side: event.SideBuy, Price: 10_010000, Volume: 300},
		{Ts: 20, Kind: event.KindTrade, Side: event.SideSell, BuyID: 1, SellID: 9, Price: 10_010000, Volume: 100},
		{Ts: 30, Kind: event.KindCancel, OrderID: 1},
	}
	o := Opener{Dir: dir, Format: domain.FormatParquet}
	require.NoError(t, WriteEvents(o.ParquetPath("600000"), in))

	s, err := o.Open("600000")
	require.NoError(t, err)
	defer s.Close()

	got := drain(t, s)
	require.Len(t, got, 3)
	for i := range in {
		want := in[i]
		want.Seq = uint64(i + 1)
		want.Symbol = "600000"
		assert.Equal(t, want, got[i])
	}
}

func TestParquetSource_UnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.parquet")
	require.NoError(t, WriteEvents(path, []event.Event{{Ts: 1, Kind: event.KindUnknown}}))

	src, err := OpenParquet(path, "X")
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next()
	assert.ErrorIs(t, err, domain.ErrSchemaViolation)
}

func TestFeed_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.parquet")
	fw, err := CreateFeed(path)
	require.NoError(t, err)

	var want []event.Event
	for i := range 2500 {
		sym := "A"
		if i%3 == 0 {
			sym = "B"
		}
		ev := event.Event{
			Seq: uint64(i + 1), Ts: quant.TimeStamp(i), Symbol: sym,
			Kind: event.KindAdd, OrderID: uint64(i + 1), Side: event.SideBuy,
			Price: 1_000000, Volume: 10,
		}
		want = append(want, ev)
		require.NoError(t, fw.Write(ev))
	}
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, int64(2500), fw.Rows())
	require.NoError(t, fw.Close())

	src, err := OpenFeed(path)
	require.NoError(t, err)
	defer src.Close()

	got, err := replay.Collect(src)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}
