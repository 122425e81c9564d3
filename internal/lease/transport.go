package lease

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aridsondez/sqlease/internal/metrics"
	"github.com/aridsondez/sqlease/internal/queue"
	"github.com/aridsondez/sqlease/internal/queue/store"
	"github.com/aridsondez/sqlease/internal/scheduler"
	"github.com/aridsondez/sqlease/internal/uow"
)

// Transport receives and sends messages through a store.Store under lease
// semantics. Wrap the store with resilient.New to retry the delete, renew
// and release statements.
type Transport struct {
	store     store.Store
	opts      Options
	sched     Scheduler
	ownsSched *scheduler.Scheduler
	log       logrus.FieldLogger
}

func New(s store.Store, opts Options) (*Transport, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	t := &Transport{
		store: s,
		opts:  opts,
		sched: opts.Scheduler,
		log:   opts.Logger,
	}
	if t.sched == nil && opts.AutomaticLeaseRenewalInterval > 0 {
		t.ownsSched = scheduler.New()
		t.sched = t.ownsSched
	}
	return t, nil
}

// Options returns the effective options.
func (t *Transport) Options() Options { return t.opts }

// Receive leases the best eligible message of address and binds it to u:
// committing u deletes the message, aborting u releases the lease. It
// returns nil, nil when the queue has nothing eligible.
func (t *Transport) Receive(ctx context.Context, u *uow.UnitOfWork, address string) (*queue.Message, error) {
	if u.Done() {
		return nil, uow.ErrCompleted
	}

	leasedBy := t.opts.Identity.CurrentIdentity()
	m, err := t.store.Claim(ctx, address, queue.ClaimOptions{
		Now:           t.opts.Clock.Now(),
		LeaseInterval: t.opts.LeaseInterval,
		Tolerance:     t.opts.LeaseTolerance,
		LeasedBy:      leasedBy,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("receive from %s cancelled: %w: %w", address, ctxErr, err)
		}
		return nil, fmt.Errorf("receive from %s: %w", address, err)
	}
	if m == nil {
		metrics.ClaimMisses.WithLabelValues(address).Inc()
		return nil, nil
	}
	metrics.MessagesClaimed.WithLabelValues(address).Inc()

	// The renewer stops before any other commit hook runs, so a failed
	// flush still leaves the lease to expire. The buffer registers its flush
	// before the delete hook, so outgoing messages are inserted before the
	// received one is removed.
	renewer := t.startRenewer(u, address, m.ID)
	t.outbound(u)
	t.applyTransactionSemantics(u, address, m.ID, renewer)

	t.log.WithFields(logrus.Fields{
		"queue":      address,
		"message_id": m.ID,
		"leased_by":  leasedBy,
	}).Debug("message leased")
	return m, nil
}

// RenewLease extends the lease of message id to now plus the lease
// interval.
func (t *Transport) RenewLease(ctx context.Context, address string, id int64) error {
	until := t.opts.Clock.Now().Add(t.opts.LeaseInterval)
	if err := t.store.Renew(ctx, address, id, until); err != nil {
		return fmt.Errorf("renew lease of message %d: %w", id, err)
	}
	return nil
}

// Close stops the renewal scheduler if the transport created it.
func (t *Transport) Close() {
	if t.ownsSched != nil {
		t.ownsSched.Close()
	}
}
