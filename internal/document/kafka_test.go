package document

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/kafka"
)

type fakeFetcher struct {
	msgs      []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (f *fakeFetcher) Fetch(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeFetcher) Commit(_ context.Context, msgs ...kafka.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeFetcher) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSourceEndsWhenIdle(t *testing.T) {
	f := &fakeFetcher{msgs: []kafka.Message{
		{Value: []byte(`{"id":1,"subject":"s1","fields":{"subject":["a"]}}`), Offset: 0},
		{Value: []byte(`not json`), Offset: 1},
		{Value: []byte(`{"id":2,"subject":"s2","fields":{"subject":["b"]}}`), Offset: 2},
	}}
	src := NewKafkaSource(f, 10*time.Millisecond)
	ctx := context.Background()

	doc, err := src.Next(ctx)
	if err != nil || doc.ID != 1 {
		t.Fatalf("expected document 1, got %+v %v", doc, err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, apperrors.ErrMalformedDocument) {
		t.Fatalf("expected malformed document, got %v", err)
	}
	if doc, err := src.Next(ctx); err != nil || doc.ID != 2 {
		t.Fatalf("expected document 2, got %+v %v", doc, err)
	}
	if _, err := src.Next(ctx); err != io.EOF {
		t.Fatalf("expected io.EOF after idle timeout, got %v", err)
	}

	if err := src.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(f.committed) != 1 || f.committed[0].Offset != 2 {
		t.Errorf("expected one checkpoint at offset 2, got %+v", f.committed)
	}
	if src.Pending() != 0 {
		t.Errorf("pending after commit = %d", src.Pending())
	}
	src.Close()
	if !f.closed {
		t.Error("consumer not closed")
	}
}

func TestKafkaSourceHonoursCancellation(t *testing.T) {
	src := NewKafkaSource(&fakeFetcher{}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestKafkaSourceRetainsOneCheckpointPerPartition(t *testing.T) {
	const partitions, perPartition = 3, 2000
	f := &fakeFetcher{}
	for i := 0; i < perPartition; i++ {
		for p := 0; p < partitions; p++ {
			f.msgs = append(f.msgs, kafka.Message{
				Partition: p,
				Offset:    int64(i),
				Value:     []byte(`{"id":1,"subject":"s","fields":{"subject":["some","longer","terms"]}}`),
			})
		}
	}
	src := NewKafkaSource(f, 10*time.Millisecond)
	ctx := context.Background()
	for {
		_, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if src.Pending() > partitions {
			t.Fatalf("retaining %d checkpoints for %d partitions", src.Pending(), partitions)
		}
	}
	for _, m := range src.pending {
		if m.Value != nil {
			t.Fatalf("checkpoint of partition %d kept its payload", m.Partition)
		}
	}

	if err := src.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(f.committed) != partitions {
		t.Fatalf("committed %d messages, want %d", len(f.committed), partitions)
	}
	for _, m := range f.committed {
		if m.Offset != perPartition-1 {
			t.Errorf("partition %d committed at %d, want %d", m.Partition, m.Offset, perPartition-1)
		}
	}
}
