package webclient

import (
	"context"
	"time"
)

const maxDelay = 30 * time.Second

// AttemptFunc performs one try. Returning a nil error ends the loop.
type AttemptFunc func(ctx context.Context) error

// Do retries fn while retryable reports the error as transient, doubling the
// delay between tries. The last error is returned when attempts run out.
func Do(ctx context.Context, attempts int, initialDelay time.Duration, retryable func(error) bool, fn AttemptFunc) error {
	if attempts <= 0 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 2 * time.Second
	}
	delay := initialDelay
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 || (retryable != nil && !retryable(err)) {
			return err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		if delay < maxDelay {
			delay *= 2
		}
	}
	return err
}
