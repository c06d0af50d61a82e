// Package retry runs an operation with exponential backoff and jitter.
// The API process uses it to wait for PostgreSQL and Redis on startup.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// PermanentError stops the retry loop: the wrapped error is returned as is.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying, e.g. bad credentials.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}

// OnRetryFunc is called before sleeping ahead of the next attempt.
type OnRetryFunc func(attempt int, err error, delay time.Duration)

// Policy describes how often and how long to retry.
type Policy struct {
	// Attempts counts the first call. Values below 1 mean a single call.
	Attempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Jitter spreads each delay by up to ±Jitter of its value (0..1).
	Jitter float64

	OnRetry OnRetryFunc
}

// Retrier executes operations under a Policy.
type Retrier struct {
	policy Policy
}

// New returns a Retrier for p, filling unset fields.
func New(p Policy) *Retrier {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return &Retrier{policy: p}
}

// StartupRetrier waits for a backing service that may still be booting.
// Every error except a Permanent one is retried.
func StartupRetrier(attempts int, onRetry OnRetryFunc) *Retrier {
	return New(Policy{
		Attempts:     attempts,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
		OnRetry:      onRetry,
	})
}

// Do calls operation until it succeeds, returns a Permanent error, the
// attempts run out or ctx is done. The last operation error wins over the
// context error once at least one attempt was made.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		lastErr = err

		if attempt == r.policy.Attempts {
			break
		}

		delay := r.delay(attempt)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// delay is InitialDelay*Multiplier^(attempt-1), capped at MaxDelay, with jitter.
func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter > 0 {
		d += d * r.policy.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, 0))
}
