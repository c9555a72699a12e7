// Package retry wraps fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds how an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy is used when a caller passes a zero Policy.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Second}

// sleep waits for d or until ctx is done. Tests replace it.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether any error in err's chain declares itself permanent.
func IsPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

// Delay returns the wait before the given 1-indexed attempt:
// 0 for the first, then base, 2*base, 4*base...
func Delay(attempt int, base time.Duration) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return base * time.Duration(1<<(attempt-2))
}

// Execute calls op until it succeeds, returns a permanent error, or MaxAttempts is reached.
// The returned error is always the one produced by the last call of op.
func Execute[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, Delay(attempt, p.BaseDelay)); err != nil {
				return zero, lastErr
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if IsPermanent(err) {
			return zero, unwrapMarker(err)
		}
	}
	return zero, lastErr
}

// Do is Execute for operations without a result.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// unwrapMarker strips a Permanent() wrapper so callers see the operation's own error.
func unwrapMarker(err error) error {
	if p, ok := err.(*permanentError); ok {
		return p.err
	}
	return err
}
