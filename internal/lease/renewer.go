package lease

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aridsondez/sqlease/internal/metrics"
	"github.com/aridsondez/sqlease/internal/scheduler"
	"github.com/aridsondez/sqlease/internal/uow"
)

type renewerState int

const (
	renewerIdle renewerState = iota
	renewerActive
	renewerStopped
)

// Renewer periodically extends the lease of one message while it is being
// handled. A failed renewal is logged and left to the next tick.
type Renewer struct {
	t        *Transport
	address  string
	id       int64
	interval time.Duration
	log      logrus.FieldLogger
	// unit, when set, stops the renewer on the first tick after it ended.
	unit *uow.UnitOfWork

	mu    sync.Mutex
	state renewerState
	task  scheduler.Task
}

func newRenewer(t *Transport, address string, id int64) *Renewer {
	return &Renewer{
		t:        t,
		address:  address,
		id:       id,
		interval: t.opts.AutomaticLeaseRenewalInterval,
		log:      t.log.WithFields(logrus.Fields{"queue": address, "message_id": id}),
	}
}

// Start schedules the renewals. It only has an effect on an idle renewer.
func (r *Renewer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != renewerIdle {
		return
	}
	r.state = renewerActive
	r.task = r.t.sched.Schedule(r.renew, r.interval, r.interval)
}

// Stop cancels future renewals. It is safe on a nil or stopped renewer.
func (r *Renewer) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.state == renewerStopped {
		r.mu.Unlock()
		return
	}
	r.state = renewerStopped
	task := r.task
	r.mu.Unlock()

	if task != nil {
		task.Stop()
	}
}

func (r *Renewer) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == renewerActive
}

func (r *Renewer) renew(ctx context.Context) {
	if !r.active() {
		return
	}
	if r.unit != nil && r.unit.Done() {
		r.Stop()
		return
	}

	until := r.t.opts.Clock.Now().Add(r.t.opts.LeaseInterval)
	err := r.t.store.Renew(ctx, r.address, r.id, until)
	if !r.active() {
		return
	}
	if err != nil {
		metrics.LeaseRenewals.WithLabelValues(r.address, "error").Inc()
		r.log.WithError(err).Warn("lease renewal failed")
		return
	}
	metrics.LeaseRenewals.WithLabelValues(r.address, "ok").Inc()
	r.log.WithField("leased_until", until).Debug("lease renewed")
}
