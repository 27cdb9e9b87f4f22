package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/kafka"
)

// Fetcher is the part of the Kafka consumer a KafkaSource reads from.
type Fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource reads JSON documents from a topic. The topic has no end, so
// the source reports io.EOF after idle passes without a message.
type KafkaSource struct {
	consumer Fetcher
	idle     time.Duration
	// pending holds the last fetched message of every partition, which is
	// all a commit needs.
	pending map[int]kafka.Message
}

func NewKafkaSource(consumer Fetcher, idle time.Duration) *KafkaSource {
	if idle <= 0 {
		idle = 10 * time.Second
	}
	return &KafkaSource{consumer: consumer, idle: idle, pending: make(map[int]kafka.Message)}
}

func (s *KafkaSource) Next(ctx context.Context) (Document, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.idle)
	defer cancel()
	msg, err := s.consumer.Fetch(fetchCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return Document{}, io.EOF
		}
		return Document{}, err
	}
	if last, ok := s.pending[msg.Partition]; !ok || msg.Offset > last.Offset {
		s.pending[msg.Partition] = msg.Checkpoint()
	}
	doc, err := Decode(msg.Value)
	if err != nil {
		return Document{}, fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
	}
	return doc, nil
}

// Commit acknowledges every message read so far. The job calls it once the
// indexes built from them are closed.
func (s *KafkaSource) Commit(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(s.pending))
	for _, m := range s.pending {
		msgs = append(msgs, m)
	}
	if err := s.consumer.Commit(ctx, msgs...); err != nil {
		return err
	}
	clear(s.pending)
	return nil
}

// Pending returns the number of partition checkpoints awaiting Commit.
func (s *KafkaSource) Pending() int {
	return len(s.pending)
}

func (s *KafkaSource) Close() error {
	return s.consumer.Close()
}
