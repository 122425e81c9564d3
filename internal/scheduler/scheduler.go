// Package scheduler runs periodic background actions that can be stopped
// from any goroutine.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Action is one tick of a scheduled task. ctx is cancelled when the
// scheduler closes.
type Action func(ctx context.Context)

// Task is a scheduled periodic action.
type Task interface {
	// Stop cancels pending and future ticks. Once Stop returns no new tick
	// starts; a tick already running is allowed to finish.
	Stop()
}

// Scheduler owns the goroutines of the tasks it schedules.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, cancel: cancel}
}

// Schedule runs action after initialDelay and then every period, measured
// from the end of the previous tick.
func (s *Scheduler) Schedule(action Action, initialDelay, period time.Duration) Task {
	t := &task{stop: make(chan struct{})}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.run(s.ctx, action, initialDelay, period)
	}()

	return t
}

// Close stops every task, cancels running ticks and waits for them.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

type task struct {
	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
	once    sync.Once
}

func (t *task) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.once.Do(func() { close(t.stop) })
}

// begin reports whether a tick may start.
func (t *task) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}

func (t *task) run(ctx context.Context, action Action, initialDelay, period time.Duration) {
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !t.begin() {
			return
		}
		action(ctx)
		timer.Reset(period)
	}
}
