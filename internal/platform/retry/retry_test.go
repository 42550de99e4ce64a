package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pocus/internal/platform/retry"
)

type recordingClock struct {
	sleeps []time.Duration
}

func (c *recordingClock) Now() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
func (c *recordingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	return ctx.Err()
}

func TestDoRetriesUntilSuccessWithDoublingBackoff(t *testing.T) {
	t.Parallel()
	clk := &recordingClock{}
	policy := retry.Policy{Attempts: 4, Backoff: 100 * time.Millisecond, Clock: clk}
	calls := 0
	err := policy.Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(clk.sleeps) != 2 || clk.sleeps[0] != 100*time.Millisecond || clk.sleeps[1] != 200*time.Millisecond {
		t.Fatalf("unexpected sleeps: %v", clk.sleeps)
	}
}

func TestDoStopsAfterBudgetAndReturnsLastError(t *testing.T) {
	t.Parallel()
	clk := &recordingClock{}
	policy := retry.Policy{Attempts: 3, Backoff: time.Second, MaxBackoff: 1500 * time.Millisecond, Clock: clk}
	calls := 0
	err := policy.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		return errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if clk.sleeps[1] != 1500*time.Millisecond {
		t.Fatalf("expected backoff clamp, got %v", clk.sleeps)
	}
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("rejected")
	calls := 0
	err := retry.Policy{Attempts: 5, Clock: &recordingClock{}}.Do(context.Background(), func(context.Context, int) error {
		calls++
		return retry.Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if retry.IsPermanent(err) {
		t.Fatalf("permanent wrapper should be stripped")
	}
	if calls != 1 {
		t.Fatalf("permanent error must not retry, got %d calls", calls)
	}
}
