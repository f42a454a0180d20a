package core

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retryable reports whether err is a transient failure worth another attempt.
// Session and authentication failures never are.
func Retryable(err error) bool {
	if err == nil || InvalidatesSession(err) {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == CodeUnknown && e.Temporary
}

// InvalidatesSession reports whether err means the session's pool can no
// longer be trusted. It only classifies; acting on it is the caller's job.
func InvalidatesSession(err error) bool {
	switch CodeOf(err) {
	case CodeSessionInvalid, CodeAuthenticationFailed, CodeHostUnreachable, CodeDatabaseNotFound:
		return true
	}
	return false
}

// RetryDelay is the pause between read attempts.
var RetryDelay = 200 * time.Millisecond

// RetryRead runs fn up to 1+retries times while it fails with a Retryable
// error. Any other error stops the loop immediately and is returned as is.
func RetryRead(ctx context.Context, retries int, fn func(ctx context.Context) error) error {
	if retries < 0 {
		retries = 0
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewConstant(RetryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if Retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
