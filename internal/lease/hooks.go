package lease

import (
	"context"
	"fmt"

	"github.com/aridsondez/sqlease/internal/metrics"
	"github.com/aridsondez/sqlease/internal/uow"
)

// startRenewer starts automatic renewal when enabled and registers a commit
// hook stopping it. It returns nil when renewal is disabled.
func (t *Transport) startRenewer(u *uow.UnitOfWork, address string, id int64) *Renewer {
	if t.opts.AutomaticLeaseRenewalInterval <= 0 {
		return nil
	}
	renewer := newRenewer(t, address, id)
	renewer.unit = u
	u.OnCommitted(func(context.Context) error {
		renewer.Stop()
		return nil
	})
	renewer.Start()
	return renewer
}

// applyTransactionSemantics resolves the leased row when u ends: commit
// deletes it, abort releases the lease. Abort stops the renewer first.
func (t *Transport) applyTransactionSemantics(u *uow.UnitOfWork, address string, id int64, renewer *Renewer) {
	u.OnAborted(func(ctx context.Context) error {
		renewer.Stop()
		if err := t.store.Release(ctx, address, id); err != nil {
			return fmt.Errorf("release lease of message %d: %w", id, err)
		}
		metrics.MessagesAborted.WithLabelValues(address).Inc()
		return nil
	})

	u.OnCommitted(func(ctx context.Context) error {
		if err := t.store.Delete(ctx, address, id); err != nil {
			return fmt.Errorf("delete message %d: %w", id, err)
		}
		metrics.MessagesCommitted.WithLabelValues(address).Inc()
		return nil
	})
}
