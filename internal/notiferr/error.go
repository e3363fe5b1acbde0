package notiferr

import (
	"fmt"
	"time"
)

// RetryableError marks a failed operation as temporary. Operations returning
// an error that wraps a RetryableError are retried by the notifier.Retryer.
type RetryableError struct {
	// Err is the wrapped original error
	Err error
	// After is the earliest point in time the operation can be retried.
	// When it is zero the retryer chooses the delay.
	After time.Time
}

func NewRetryableError(originalErr error, retryAfter time.Time) *RetryableError {
	return &RetryableError{
		Err:   originalErr,
		After: retryAfter,
	}
}

func NewRetryableAnytimeError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return fmt.Sprintf("retryable error: %s", e.Err)
	}

	return fmt.Sprintf("retryable error (after %s): %s", e.After.Format(time.RFC3339), e.Err)
}
