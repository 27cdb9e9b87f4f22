package counters

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/metrics"
)

type fakeHash struct {
	key    string
	deltas map[string]int64
	err    error
}

func (f *fakeHash) IncrementHash(_ context.Context, key string, deltas map[string]int64) error {
	if f.err != nil {
		return f.err
	}
	f.key = key
	if f.deltas == nil {
		f.deltas = make(map[string]int64)
	}
	for k, v := range deltas {
		f.deltas[k] += v
	}
	return nil
}

func (f *fakeHash) ReadHash(_ context.Context, key string) (map[string]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if key != f.key {
		return map[string]int64{}, nil
	}
	return f.deltas, nil
}

func TestAdd(t *testing.T) {
	var total Counters
	total.Add(Counters{RecordsProcessed: 2, IndexedOccurrences: 10, FailedParsing: 1})
	total.Add(Counters{RecordsProcessed: 3, IndexedOccurrences: 6, PostingsTerms: 4})
	if total.RecordsProcessed != 5 || total.IndexedOccurrences != 16 || total.FailedParsing != 1 || total.PostingsTerms != 4 {
		t.Errorf("unexpected totals %+v", total)
	}
}

func TestRedisSinkAggregatesTasks(t *testing.T) {
	fake := &fakeHash{}
	sink := NewRedisSink(fake, "job-1")
	ctx := context.Background()
	if err := sink.Publish(ctx, "emit-0", Counters{RecordsProcessed: 4, IndexedOccurrences: 11}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Publish(ctx, "emit-1", Counters{RecordsProcessed: 1, FailedParsing: 2}); err != nil {
		t.Fatal(err)
	}
	if fake.key != "rdx:job:job-1:counters" {
		t.Errorf("key = %q", fake.key)
	}
	if fake.deltas[RecordsProcessed] != 5 || fake.deltas[FailedParsing] != 2 || fake.deltas["tasks_completed"] != 2 {
		t.Errorf("deltas = %v", fake.deltas)
	}
}

func TestPrometheusSink(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	sink := NewPrometheusSink(m)
	if err := sink.Publish(context.Background(), "emit-0", Counters{RecordsProcessed: 3, BlacklistedTriples: 2}); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.RecordsProcessed); got != 3 {
		t.Errorf("records processed = %v", got)
	}
	if got := testutil.ToFloat64(m.TriplesTotal.WithLabelValues("blacklisted")); got != 2 {
		t.Errorf("blacklisted = %v", got)
	}
}

func TestMultiSinkReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	ok := &fakeHash{}
	sinks := MultiSink{NewRedisSink(&fakeHash{err: boom}, "j"), NewRedisSink(ok, "j")}
	err := sinks.Publish(context.Background(), "t", Counters{RecordsProcessed: 1})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if ok.deltas[RecordsProcessed] != 1 {
		t.Errorf("second sink should still receive counters")
	}
}

func TestMultiSinkTotalsReadsAggregatedHash(t *testing.T) {
	fake := &fakeHash{}
	m := metrics.New(prometheus.NewRegistry())
	sinks := MultiSink{NewPrometheusSink(m), NewRedisSink(fake, "job-2")}
	ctx := context.Background()
	for _, task := range []string{"emit-0", "merge-0"} {
		if err := sinks.Publish(ctx, task, Counters{RecordsProcessed: 2}); err != nil {
			t.Fatal(err)
		}
	}
	totals, err := sinks.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals[RecordsProcessed] != 4 || totals["tasks_completed"] != 2 {
		t.Errorf("totals = %v", totals)
	}

	none, err := MultiSink{NewPrometheusSink(m)}.Totals(ctx)
	if none != nil || err != nil {
		t.Errorf("sink without totals returned %v, %v", none, err)
	}

	boom := errors.New("connection reset")
	if _, err := NewRedisSink(&fakeHash{err: boom}, "job-2").Totals(ctx); !errors.Is(err, boom) {
		t.Errorf("expected wrapped read error, got %v", err)
	}
}
