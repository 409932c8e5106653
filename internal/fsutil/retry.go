package fsutil

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
)

// MaxRetries and BaseDelay control Retry. Tests shrink BaseDelay.
var (
	MaxRetries = 5
	BaseDelay  = 100 * time.Millisecond
)

// Retry runs fn until it succeeds, fails with a non-transient error, or the
// attempts run out. Delay doubles after every transient failure.
func Retry(ctx context.Context, opName string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return fmt.Errorf("%s failed: %w", opName, err)
		}
		if attempt == MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(BaseDelay * (1 << (attempt - 1))):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", opName, MaxRetries, lastErr)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EINTR)
}
