// Package retry runs a fallible call under a bounded attempt budget with a
// per-attempt timeout and linear backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Policy bounds one retried call. Retries is the number of extra attempts
// after the first. The wait before attempt n+1 is BaseDelay*n. A zero
// Timeout leaves each attempt bounded only by the parent context.
type Policy struct {
	Retries   int
	BaseDelay time.Duration
	Timeout   time.Duration
}

// Attempts returns the total attempt budget, never less than one.
func (p Policy) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Delay returns the wait after the given 1-based failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempt)
}

// Error reports an exhausted attempt budget. Err is the last failure.
type Error struct {
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("failed after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type options struct {
	op     string
	logger *slog.Logger
	sleep  SleepFunc
}

// Option configures Do.
type Option func(*options)

// WithLogger logs every retry at warn level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithOp names the call in logs and errors.
func WithOp(op string) Option {
	return func(o *options) { o.op = op }
}

// WithSleep replaces the backoff wait, mostly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, the attempt budget runs out, the error is
// marked Permanent, or ctx is done. Exhaustion returns an *Error wrapping
// the last failure.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	var lastErr error
	attempts := p.Attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := call(ctx, p.Timeout, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if IsPermanent(err) || ctx.Err() != nil {
			return zero, &Error{Op: o.op, Attempts: attempt, Err: lastErr}
		}
		if attempt == attempts {
			break
		}

		wait := p.Delay(attempt)
		if o.logger != nil {
			o.logger.WarnContext(ctx, "retrying call",
				"op", o.op,
				"attempt", attempt,
				"max_attempts", attempts,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
		}
		if err := o.sleep(ctx, wait); err != nil {
			return zero, &Error{Op: o.op, Attempts: attempt, Err: lastErr}
		}
	}

	return zero, &Error{Op: o.op, Attempts: attempts, Err: lastErr}
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}
