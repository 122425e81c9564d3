// Package retry runs an operation under a bounded retry policy. Only errors
// the policy classifies as retryable are retried; cancellation and other
// errors return immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted wraps the last error once every attempt failed with a
// retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

// DefaultDelays is the wait before the first, second and third retry.
var DefaultDelays = []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second}

// DefaultAttempts is one call plus one retry per default delay.
const DefaultAttempts = 4

// Policy bounds how an operation is retried.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	// Delays[n] is waited before retry n+1. The last delay repeats when
	// there are more retries than delays.
	Delays []time.Duration
	// Retryable classifies an error as transient. A nil Retryable retries
	// nothing.
	Retryable func(error) bool
	// OnRetry, if set, is called before each wait.
	OnRetry func(err error, wait time.Duration)
}

// DefaultPolicy returns 4 attempts spaced 1s, 2s then 3s.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		Attempts:  DefaultAttempts,
		Delays:    DefaultDelays,
		Retryable: retryable,
	}
}

// schedule is a backoff.BackOff walking a fixed list of delays.
type schedule struct {
	delays []time.Duration
	n      int
}

func (s *schedule) NextBackOff() time.Duration {
	if len(s.delays) == 0 {
		return 0
	}
	i := s.n
	if i >= len(s.delays) {
		i = len(s.delays) - 1
	}
	s.n++
	return s.delays[i]
}

func (s *schedule) Reset() { s.n = 0 }

// Do calls op until it succeeds, returns a non-retryable error, the context
// is done, or the attempt budget is spent.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff = &schedule{delays: p.Delays}
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	var (
		tries     int
		transient bool
	)
	operation := func() error {
		tries++
		err := op(ctx)
		if err == nil {
			return nil
		}
		transient = ctx.Err() == nil && !isCancellation(err) && p.Retryable != nil && p.Retryable(err)
		if !transient {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = p.OnRetry
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	if transient && tries == attempts {
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, tries, err)
	}
	return err
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
