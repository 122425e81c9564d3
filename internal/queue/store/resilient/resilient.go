// Package resilient decorates a store.Store so that the operations run from
// commit, abort and renewal survive transient infrastructure faults.
package resilient

import (
	"context"
	"time"

	"github.com/aridsondez/sqlease/internal/metrics"
	"github.com/aridsondez/sqlease/internal/queue"
	"github.com/aridsondez/sqlease/internal/queue/store"
	"github.com/aridsondez/sqlease/internal/retry"
)

var _ store.Store = (*Store)(nil)

// Store retries Delete, Renew and Release under a retry.Policy. Send and
// Claim pass straight through: a claim is not idempotent and a partially
// flushed send must not be replayed.
type Store struct {
	next   store.Store
	policy retry.Policy
}

func New(next store.Store, policy retry.Policy) *Store {
	return &Store{next: next, policy: policy}
}

func (s *Store) Send(ctx context.Context, msgs []queue.Addressed) (int, error) {
	return s.next.Send(ctx, msgs)
}

func (s *Store) Claim(ctx context.Context, table string, opts queue.ClaimOptions) (*queue.Message, error) {
	return s.next.Claim(ctx, table, opts)
}

// Renew retries with the same absolute leasedUntil on every attempt.
func (s *Store) Renew(ctx context.Context, table string, id int64, leasedUntil time.Time) error {
	return retry.Do(ctx, s.policyFor("renew"), func(ctx context.Context) error {
		return s.next.Renew(ctx, table, id, leasedUntil)
	})
}

func (s *Store) Release(ctx context.Context, table string, id int64) error {
	return retry.Do(ctx, s.policyFor("release"), func(ctx context.Context) error {
		return s.next.Release(ctx, table, id)
	})
}

func (s *Store) Delete(ctx context.Context, table string, id int64) error {
	return retry.Do(ctx, s.policyFor("delete"), func(ctx context.Context) error {
		return s.next.Delete(ctx, table, id)
	})
}

func (s *Store) policyFor(op string) retry.Policy {
	p := s.policy
	notify := p.OnRetry
	p.OnRetry = func(err error, wait time.Duration) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
		if notify != nil {
			notify(err, wait)
		}
	}
	return p
}
