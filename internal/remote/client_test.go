package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	restore := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	defer func() { sleep = restore }()

	attempts := 0
	result, err := Do(context.Background(), zerolog.Nop(), Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}, "test", func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", Transient(503, "service unavailable", nil)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result = %q, want ok", result)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if len(delays) != 2 {
		t.Fatalf("delays = %d, want 2", len(delays))
	}
	if delays[0] != 100*time.Millisecond || delays[1] != 200*time.Millisecond {
		t.Fatalf("delays = %v, want increasing 100ms then 200ms", delays)
	}
}

func TestDoSurfacesLastErrorAfterExhaustion(t *testing.T) {
	restore := sleep
	sleep = func(ctx context.Context, d time.Duration) error { return nil }
	defer func() { sleep = restore }()

	last := Transient(429, "rate limited", nil)
	attempts := 0
	_, err := Do(context.Background(), zerolog.Nop(), Policy{MaxAttempts: 3}, "test", func(ctx context.Context) (int, error) {
		attempts++
		return 0, last
	})
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if !errors.Is(err, last) {
		t.Fatalf("err = %v, want last transient error surfaced unchanged", err)
	}
}

func TestDoStopsImmediatelyOnPermanentError(t *testing.T) {
	attempts := 0
	perm := Permanent(400, "bad request", nil)
	_, err := Do(context.Background(), zerolog.Nop(), Policy{MaxAttempts: 5}, "test", func(ctx context.Context) (int, error) {
		attempts++
		return 0, perm
	})
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if !errors.Is(err, perm) {
		t.Fatalf("err = %v, want permanent error", err)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	restore := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	defer func() { sleep = restore }()

	transient := Transient(0, "timeout", nil)
	_, err := Do(ctx, zerolog.Nop(), Policy{MaxAttempts: 3}, "test", func(ctx context.Context) (int, error) {
		return 0, transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("err = %v, want last error after cancellation", err)
	}
}

func TestPolicyDelayCapsAtMax(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 4 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 4 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Fatalf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestIsTransientClassification(t *testing.T) {
	if IsTransient(nil) {
		t.Fatal("nil must not be transient")
	}
	if !IsTransient(Transient(503, "unavailable", nil)) {
		t.Fatal("transient Error must be transient")
	}
	if IsTransient(Permanent(401, "auth", nil)) {
		t.Fatal("permanent Error must not be transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded must be transient")
	}
	if IsTransient(errors.New("unknown")) {
		t.Fatal("unclassified errors must default to permanent")
	}
}
