// Package retry runs an operation with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Policy describes how often and how patiently to retry.
type Policy struct {
	Attempts  int           // total calls, at least one
	BaseDelay time.Duration // wait before the second call
	MaxDelay  time.Duration // cap on a single wait, zero means uncapped

	// OnRetry, when set, is told about each failed call that will be retried.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Run calls fn until it succeeds, returns a PermanentError, the attempts
// run out or ctx is done. Waits double from BaseDelay with up to 25%
// jitter either way. The last error is returned unwrapped from any
// PermanentError.
func (p Policy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == attempts {
			return err
		}

		wait := p.backoff(delay)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}

func (p Policy) backoff(delay time.Duration) time.Duration {
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	spread := int64(delay / 4)
	if spread <= 0 {
		return delay
	}
	return delay - time.Duration(spread) + time.Duration(rand.Int64N(2*spread+1))
}
