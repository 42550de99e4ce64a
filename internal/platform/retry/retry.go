// Package retry is the explicit, bounded retry boundary used by callers that
// own a retry decision. Repository adapters never retry on their own.
package retry

import (
	"context"
	"errors"
	"time"

	"pocus/internal/platform/clock"
)

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Policy runs a function up to Attempts times with doubling backoff.
type Policy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Clock      clock.Clock
	// OnRetry is called before each sleep with the failed attempt number (1-based).
	OnRetry func(attempt int, err error)
}

func (p Policy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Do calls fn until it succeeds, returns a permanent error, the context ends or
// the attempt budget is spent. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	var err error
	for attempt := 1; attempt <= p.attempts(); attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == p.attempts() {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if sleepErr := clk.Sleep(ctx, p.delay(attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}
