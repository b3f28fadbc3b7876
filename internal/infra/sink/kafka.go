package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"tick_book/internal/domain"
)

const publishChunk = 1000

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SnapshotMessage is the JSON value published per snapshot.
type SnapshotMessage struct {
	RunID     string          `json:"run_id"`
	TradeDate string          `json:"trade_date"`
	Snapshot  domain.Snapshot `json:"snapshot"`
}

// KafkaSink publishes a job's snapshots keyed by symbol once the job commits.
// Nothing is sent for aborted jobs.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return newKafkaSink(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	})
}

func newKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func (s *KafkaSink) Begin(_ context.Context, key domain.JobKey) (domain.SnapshotBatch, error) {
	return &kafkaBatch{sink: s, key: key}, nil
}

type kafkaBatch struct {
	sink *KafkaSink
	key  domain.JobKey
	msgs []kafka.Message
	done bool
}

func (b *kafkaBatch) Write(_ context.Context, snap domain.Snapshot) error {
	if b.done {
		return domain.ErrSinkClosed
	}
	value, err := json.Marshal(SnapshotMessage{RunID: b.key.RunID, TradeDate: b.key.TradeDate, Snapshot: snap})
	if err != nil {
		return err
	}
	b.msgs = append(b.msgs, kafka.Message{Key: []byte(snap.Symbol), Value: value})
	return nil
}

func (b *kafkaBatch) Commit(ctx context.Context) error {
	if b.done {
		return domain.ErrSinkClosed
	}
	b.done = true
	for start := 0; start < len(b.msgs); start += publishChunk {
		end := min(start+publishChunk, len(b.msgs))
		if err := b.sink.writer.WriteMessages(ctx, b.msgs[start:end]...); err != nil {
			return fmt.Errorf("publish %s snapshots %d-%d: %w", b.key.Symbol, start, end, err)
		}
	}
	b.msgs = nil
	return nil
}

func (b *kafkaBatch) Abort(_ context.Context) error {
	b.done = true
	b.msgs = nil
	return nil
}
