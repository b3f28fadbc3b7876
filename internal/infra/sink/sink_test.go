package sink

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tick_book/internal/domain"
	"tick_book/pkg/quant"
)

func testSnap(ts int64) domain.Snapshot {
	return domain.Snapshot{
		Ts:     quant.TimeStamp(ts),
		Symbol: "000001",
		Bids:   []domain.Level{{Price: 10_000000, Volume: 300}, {Price: 9_990000, Volume: 100}},
		Asks:   []domain.Level{{Price: 10_010000, Volume: 200}},
	}
}

var testKey = domain.JobKey{RunID: "run-a", Symbol: "000001", TradeDate: "20240105"}

func TestParquetSink_CommitRenames(t *testing.T) {
	ctx := context.Background()
	s, err := NewParquetSink(t.TempDir())
	require.NoError(t, err)

	b, err := s.Begin(ctx, testKey)
	require.NoError(t, err)
	require.NoError(t, b.Write(ctx, testSnap(100)))
	require.NoError(t, b.Write(ctx, testSnap(200)))

	path := s.Path("000001", "20240105")
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file must not exist before commit")

	require.NoError(t, b.Commit(ctx))

	rows, err := parquet.ReadFile[SnapshotRecord](path)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, SnapshotRecord{
		Timestamp: 100, Symbol: "000001", Side: "bid", Level: 1,
		Price: 10, PriceMicros: 10_000000, Volume: 300,
	}, rows[0])
	assert.Equal(t, "ask", rows[2].Side)
	assert.Equal(t, int64(200), rows[5].Timestamp)

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	assert.Empty(t, leftovers)

	assert.ErrorIs(t, b.Write(ctx, testSnap(300)), domain.ErrSinkClosed)
}

func TestParquetSink_AbortLeavesPreviousOutput(t *testing.T) {
	ctx := context.Background()
	s, err := NewParquetSink(t.TempDir())
	require.NoError(t, err)

	first, err := s.Begin(ctx, testKey)
	require.NoError(t, err)
	require.NoError(t, first.Write(ctx, testSnap(100)))
	require.NoError(t, first.Commit(ctx))

	key := testKey
	key.RunID = "run-b"
	second, err := s.Begin(ctx, key)
	require.NoError(t, err)
	require.NoError(t, second.Write(ctx, testSnap(100)))
	require.NoError(t, second.Write(ctx, testSnap(200)))
	require.NoError(t, second.Abort(ctx))
	require.NoError(t, second.Abort(ctx))

	rows, err := parquet.ReadFile[SnapshotRecord](s.Path("000001", "20240105"))
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(s.Path("000001", "20240105")), "*.tmp"))
	assert.Empty(t, leftovers)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink_PublishesOnCommit(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{}
	s := newKafkaSink(w)

	b, err := s.Begin(ctx, testKey)
	require.NoError(t, err)
	for i := range 3 {
		require.NoError(t, b.Write(ctx, testSnap(int64(i+1))))
	}
	assert.Empty(t, w.msgs)

	require.NoError(t, b.Commit(ctx))
	require.Len(t, w.msgs, 3)
	assert.Equal(t, "000001", string(w.msgs[0].Key))

	var msg SnapshotMessage
	require.NoError(t, json.Unmarshal(w.msgs[2].Value, &msg))
	assert.Equal(t, "run-a", msg.RunID)
	assert.Equal(t, "20240105", msg.TradeDate)
	assert.Equal(t, quant.TimeStamp(3), msg.Snapshot.Ts)
	assert.Equal(t, testSnap(3), msg.Snapshot)

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_AbortPublishesNothing(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{}
	b, err := newKafkaSink(w).Begin(ctx, testKey)
	require.NoError(t, err)
	require.NoError(t, b.Write(ctx, testSnap(1)))
	require.NoError(t, b.Abort(ctx))
	assert.Empty(t, w.msgs)
}

func TestKafkaSink_CommitError(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{err: errors.New("broker down")}
	b, err := newKafkaSink(w).Begin(ctx, testKey)
	require.NoError(t, err)
	require.NoError(t, b.Write(ctx, testSnap(1)))
	assert.ErrorContains(t, b.Commit(ctx), "broker down")
}

type recordingSink struct {
	name      string
	commitErr error
	log       *[]string
}

func (r *recordingSink) Name() string { return r.name }
func (r *recordingSink) Close() error { return nil }
func (r *recordingSink) Begin(context.Context, domain.JobKey) (domain.SnapshotBatch, error) {
	return &recordingBatch{sink: r}, nil
}

type recordingBatch struct{ sink *recordingSink }

func (b *recordingBatch) Write(context.Context, domain.Snapshot) error {
	*b.sink.log = append(*b.sink.log, b.sink.name+":write")
	return nil
}

func (b *recordingBatch) Commit(context.Context) error {
	if b.sink.commitErr != nil {
		return b.sink.commitErr
	}
	*b.sink.log = append(*b.sink.log, b.sink.name+":commit")
	return nil
}

func (b *recordingBatch) Abort(context.Context) error {
	*b.sink.log = append(*b.sink.log, b.sink.name+":abort")
	return nil
}

func TestMulti_FanOut(t *testing.T) {
	ctx := context.Background()
	var log []string
	m := NewMulti(&recordingSink{name: "a", log: &log}, &recordingSink{name: "b", log: &log})

	b, err := m.Begin(ctx, testKey)
	require.NoError(t, err)
	require.NoError(t, b.Write(ctx, testSnap(1)))
	require.NoError(t, b.Commit(ctx))
	assert.Equal(t, []string{"a:write", "b:write", "a:commit", "b:commit"}, log)
}

func TestMulti_CommitFailureAbortsRest(t *testing.T) {
	ctx := context.Background()
	var log []string
	m := NewMulti(
		&recordingSink{name: "a", log: &log, commitErr: errors.New("disk full")},
		&recordingSink{name: "b", log: &log},
	)

	b, err := m.Begin(ctx, testKey)
	require.NoError(t, err)
	err = b.Commit(ctx)
	assert.ErrorContains(t, err, "a: commit: disk full")
	assert.Equal(t, []string{"b:abort"}, log)
}
