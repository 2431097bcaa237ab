package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when fn does not finish within the timeout.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout runs fn with a deadline. A timeout <= 0 runs fn directly.
//
// fn keeps running in its goroutine after a timeout; it only sees the
// cancelled context. Callers that must not overlap work guard for that.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return timeoutCtx.Err()
	}
}
