package oauth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerTicksAndStops(t *testing.T) {
	var validations atomic.Int32
	mgr := NewManager(
		Credential{AccessToken: "A1", RefreshToken: "R1"},
		func(ctx context.Context, token string) (time.Duration, []string, error) {
			validations.Add(1)
			return time.Hour, requiredScopes, nil
		},
		nil, nil, requiredScopes)

	ctx, cancel := context.WithCancel(context.Background())
	StartScheduler(ctx, mgr, 20*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for validations.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("scheduler ticked %d times, want >= 2", validations.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	// After cancellation no further ticks should land.
	time.Sleep(50 * time.Millisecond)
	seen := validations.Load()
	time.Sleep(100 * time.Millisecond)
	if got := validations.Load(); got != seen {
		t.Errorf("scheduler kept ticking after cancel: %d -> %d", seen, got)
	}
}

func TestSchedulerContinuesAfterFailure(t *testing.T) {
	var refreshes atomic.Int32
	mgr := NewManager(
		Credential{AccessToken: "A1", RefreshToken: "R1"},
		func(ctx context.Context, token string) (time.Duration, []string, error) {
			return 0, nil, nil
		},
		func(ctx context.Context, refreshToken string) (Credential, error) {
			refreshes.Add(1)
			return Credential{}, context.DeadlineExceeded
		},
		nil, requiredScopes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartScheduler(ctx, mgr, 20*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for refreshes.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("scheduler retried %d times after failures, want >= 2", refreshes.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
