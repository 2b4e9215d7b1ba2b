package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func immediateRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		JitterFraction: 0,
	}
}

func TestDoVal_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), immediateRetry(3), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoVal_RecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), immediateRetry(3), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("flaky"), 503)
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoVal_BudgetExhausted(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), immediateRetry(3), func(context.Context) (int, error) {
		calls++
		return 7, NewTransientError(errors.New("still down"), 502)
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if got != 0 {
		t.Errorf("got %d, want zero value on failure", got)
	}
}

func TestDoVal_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), immediateRetry(5), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for a permanent error", calls)
	}
}

func TestDoVal_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := DoVal(ctx, immediateRetry(5), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(errors.New("flaky"), 500)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 after cancellation", calls)
	}
}

func TestDoVal_CustomShouldRetry(t *testing.T) {
	sentinel := errors.New("retry me")
	cfg := immediateRetry(3)
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, sentinel) }

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, sentinel
		}
		return 0, errors.New("give up")
	})
	if err == nil || err.Error() != "give up" {
		t.Fatalf("err = %v, want give up", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoVal_OnRetryReceivesFailedAttempts(t *testing.T) {
	var seen []int
	cfg := immediateRetry(3)
	cfg.OnRetry = func(attempt int, err error) { seen = append(seen, attempt) }

	_, _ = DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, NewTransientError(errors.New("flaky"), 500)
	})

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", seen)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 500ms", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", cfg.MaxBackoff)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", cfg.Multiplier)
	}
}

func TestNormalized_FillsZeroValues(t *testing.T) {
	cfg := RetryConfig{JitterFraction: -1}.normalized()
	if cfg.MaxAttempts != defaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, defaultMaxAttempts)
	}
	if cfg.InitialBackoff != defaultInitialBackoff {
		t.Errorf("InitialBackoff = %v, want %v", cfg.InitialBackoff, defaultInitialBackoff)
	}
	if cfg.JitterFraction != 0 {
		t.Errorf("JitterFraction = %v, want 0 after clamping", cfg.JitterFraction)
	}
}

func TestJittered_ZeroFractionIsExact(t *testing.T) {
	if got := jittered(100*time.Millisecond, 0); got != 100*time.Millisecond {
		t.Errorf("jittered = %v, want 100ms", got)
	}
}

func TestJittered_StaysWithinSpread(t *testing.T) {
	base := time.Second
	lo, hi := 500*time.Millisecond, 1500*time.Millisecond
	for i := 0; i < 100; i++ {
		got := jittered(base, 0.5)
		if got < lo || got > hi {
			t.Fatalf("jittered = %v, want within [%v, %v]", got, lo, hi)
		}
	}
}

func TestDoVal_DelayGrowthCapsAtMax(t *testing.T) {
	// Three retries with multiplier 10 would reach 100ms uncapped; the cap
	// keeps the total under a loose bound.
	cfg := RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     10,
		JitterFraction: 0,
	}
	start := time.Now()
	_, _ = DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, NewTransientError(errors.New("flaky"), 500)
	})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("elapsed = %v, want well under 100ms with capped delays", elapsed)
	}
}

func TestRetryLogger_DoesNotPanic(t *testing.T) {
	fn := RetryLogger("registry", "search")
	fn(1, errors.New("boom"))
}

func TestSleep_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleep(ctx, time.Minute) {
		t.Error("sleep returned true for a cancelled context")
	}
}
