package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aridsondez/sqlease/internal/clock"
	"github.com/aridsondez/sqlease/internal/uow"
)

// receipt is a unit of work held open on behalf of an HTTP consumer.
type receipt struct {
	u       *uow.UnitOfWork
	queue   string
	id      int64
	touched time.Time
}

// Receipts maps opaque receipt strings to open units of work. A receipt not
// acked, released or renewed within the idle period is aborted by Sweep.
type Receipts struct {
	idle  time.Duration
	clock clock.Clock
	log   logrus.FieldLogger

	mu   sync.Mutex
	open map[string]*receipt
}

func NewReceipts(idle time.Duration, clk clock.Clock, log logrus.FieldLogger) *Receipts {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Receipts{idle: idle, clock: clk, log: log, open: make(map[string]*receipt)}
}

func (r *Receipts) add(u *uow.UnitOfWork, queue string, id int64) string {
	key := uuid.NewString()
	r.mu.Lock()
	r.open[key] = &receipt{u: u, queue: queue, id: id, touched: r.clock.Now()}
	r.mu.Unlock()
	return key
}

// take removes the receipt so exactly one caller can complete it.
func (r *Receipts) take(key string) (*receipt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.open[key]
	if ok {
		delete(r.open, key)
	}
	return rec, ok
}

func (r *Receipts) touch(key string) (*receipt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.open[key]
	if ok {
		rec.touched = r.clock.Now()
	}
	return rec, ok
}

// Len returns the number of open receipts.
func (r *Receipts) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// Sweep aborts every receipt idle since before now minus the idle period
// and returns how many it removed.
func (r *Receipts) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-r.idle)
	return r.abortWhere(ctx, func(rec *receipt) bool { return rec.touched.Before(cutoff) })
}

// AbortAll releases every open receipt. Used on shutdown.
func (r *Receipts) AbortAll(ctx context.Context) int {
	return r.abortWhere(ctx, func(*receipt) bool { return true })
}

func (r *Receipts) abortWhere(ctx context.Context, match func(*receipt) bool) int {
	r.mu.Lock()
	var stale []*receipt
	for key, rec := range r.open {
		if match(rec) {
			stale = append(stale, rec)
			delete(r.open, key)
		}
	}
	r.mu.Unlock()

	for _, rec := range stale {
		if err := rec.u.Abort(ctx); err != nil {
			r.log.WithFields(logrus.Fields{
				"queue":      rec.queue,
				"message_id": rec.id,
			}).WithError(err).Warn("abort of stale receipt failed")
		}
	}
	return len(stale)
}
