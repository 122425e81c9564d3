package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aridsondez/sqlease/internal/lease"
	"github.com/aridsondez/sqlease/internal/queue"
	"github.com/aridsondez/sqlease/internal/uow"
)

// HandlerFunc processes a message and returns an error if processing failed.
// Returning nil commits the unit of work: the message is deleted and every
// message sent through the Delivery is inserted.
// Returning an error aborts it: the lease is released and sends are dropped.
type HandlerFunc func(ctx context.Context, d *Delivery) error

// Delivery is a leased message together with the unit of work it belongs to.
type Delivery struct {
	*queue.Message
	Queue string

	unit      *uow.UnitOfWork
	transport *lease.Transport
}

// Send stages a message that is inserted only if the handler succeeds.
func (d *Delivery) Send(address string, msg queue.Outgoing) error {
	return d.transport.Send(d.unit, address, msg)
}

// RenewLease extends the lease of the delivery by one lease interval.
func (d *Delivery) RenewLease(ctx context.Context) error {
	return d.transport.RenewLease(ctx, d.Queue, d.ID)
}

// Worker receives messages from one queue with a fixed number of
// concurrent loops.
type Worker struct {
	transport   *lease.Transport
	queue       string
	concurrency int
	pollDelay   time.Duration
	log         logrus.FieldLogger
	handler     HandlerFunc
}

// Config for creating a new worker
type Config struct {
	Transport   *lease.Transport
	Queue       string
	Concurrency int           // Parallel receive loops (default: 1)
	PollDelay   time.Duration // Wait after an empty receive or an error (default: 1s)
	Logger      logrus.FieldLogger
}

// New creates a new Worker with the given configuration
func New(cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &Worker{
		transport:   cfg.Transport,
		queue:       cfg.Queue,
		concurrency: cfg.Concurrency,
		pollDelay:   cfg.PollDelay,
		log:         cfg.Logger.WithField("queue", cfg.Queue),
	}
}

// Handle registers the handler
func (w *Worker) Handle(handler HandlerFunc) {
	w.handler = handler
}

// Run starts the receive loops and blocks until ctx is cancelled. A
// message being handled at cancellation is still committed or aborted.
func (w *Worker) Run(ctx context.Context) error {
	if w.handler == nil {
		return errors.New("no handler registered")
	}
	if w.transport == nil || w.queue == "" {
		return errors.New("worker needs a transport and a queue")
	}

	w.log.WithField("concurrency", w.concurrency).Info("worker starting")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			w.loop(gctx)
			return nil
		})
	}
	err := g.Wait()
	w.log.Info("worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context) {
	for ctx.Err() == nil {
		handled, err := w.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.WithError(err).Error("receive failed")
		}
		if handled {
			continue
		}
		timer := time.NewTimer(w.pollDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// ProcessOne receives and handles at most one message. It reports whether
// a message was received.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	u := uow.New()
	m, err := w.transport.Receive(ctx, u, w.queue)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}

	log := w.log.WithField("message_id", m.ID)
	herr := w.invoke(ctx, &Delivery{Message: m, Queue: w.queue, unit: u, transport: w.transport})

	// Completion must run even when ctx was cancelled during the handler.
	cctx := context.WithoutCancel(ctx)
	if herr != nil {
		log.WithError(herr).Warn("handler failed, releasing message")
		if err := u.Abort(cctx); err != nil {
			log.WithError(err).Error("abort failed")
		}
		return true, nil
	}
	if err := u.Commit(cctx); err != nil {
		log.WithError(err).Error("commit failed, message will reappear after its lease")
		return true, nil
	}
	log.Debug("message handled")
	return true, nil
}

func (w *Worker) invoke(ctx context.Context, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, d)
}
