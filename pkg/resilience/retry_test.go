package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
)

func fastConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "flaky", fastConfig(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("broker unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryGivesUp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), "down", fastConfig(), func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	for _, perm := range []error{
		apperrors.Invariant(apperrors.ErrDuplicateRecord, "subject", "x", 1, "repeated"),
		apperrors.ErrInvalidConfig,
		apperrors.ErrOutputExists,
	} {
		calls := 0
		err := Retry(context.Background(), "permanent", fastConfig(), func(context.Context) error {
			calls++
			return perm
		})
		if !errors.Is(err, perm) {
			t.Errorf("expected %v, got %v", perm, err)
		}
		if calls != 1 {
			t.Errorf("%v: expected a single call, got %d", perm, calls)
		}
	}
}

func TestRetryAttemptTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	cfg.AttemptTimeout = 5 * time.Millisecond
	err := Retry(context.Background(), "slow", cfg, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestComputeDelayIsCapped(t *testing.T) {
	cfg := defaultRetryConfig()
	cfg.MaxDelay = 300 * time.Millisecond
	if d := computeDelay(10, cfg); d > cfg.MaxDelay {
		t.Errorf("delay %v above cap %v", d, cfg.MaxDelay)
	}
}
