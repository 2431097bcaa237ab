package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func failing(context.Context) error    { return errors.New("smtp unavailable") }
func succeeding(context.Context) error { return nil }

func newTestBreaker(maxFailures int, openTimeout time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: maxFailures, OpenTimeout: openTimeout})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failing); err == nil || errors.Is(err, ErrCircuitBreakerOpen) {
			t.Fatalf("call %d: expected the function error, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitBreakerOpen) || called {
		t.Fatalf("open breaker must reject without calling, err=%v called=%v", err, called)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestBreaker(2, time.Minute)

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, succeeding)
	_ = cb.Execute(ctx, failing)
	if cb.State() != StateClosed || cb.Failures() != 1 {
		t.Fatalf("state=%s failures=%d", cb.State(), cb.Failures())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	ctx := context.Background()
	cb, now := newTestBreaker(1, time.Second)

	_ = cb.Execute(ctx, failing)
	*now = now.Add(2 * time.Second)

	if err := cb.Execute(ctx, failing); errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatal("probe should run after the open timeout")
	}
	if cb.State() != StateOpen {
		t.Fatalf("failed probe must reopen, state=%s", cb.State())
	}

	*now = now.Add(2 * time.Second)
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("successful probe must close, state=%s", cb.State())
	}
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %s", cb.State())
	}
}

func TestState_String(t *testing.T) {
	for state, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		if state.String() != want {
			t.Fatalf("%d.String() = %s", state, state.String())
		}
	}
}
