package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aridsondez/sqlease/internal/clock"
	"github.com/aridsondez/sqlease/internal/metrics"
)

// Target is swept on every tick. *api.Receipts satisfies it.
type Target interface {
	Sweep(ctx context.Context, now time.Time) int
}

type Sweeper struct {
	target   Target
	interval time.Duration
	clock    clock.Clock
	log      logrus.FieldLogger
	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(target Target, interval time.Duration, clk clock.Clock, log logrus.FieldLogger) *Sweeper {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		clock:    clk,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval).Info("sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped (context cancelled)")
			return

		case <-s.stopCh:
			s.log.Info("sweeper stopped (stop signal)")
			return

		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) int {
	start := time.Now()
	count := s.target.Sweep(ctx, s.clock.Now())
	metrics.SweeperDuration.Observe(time.Since(start).Seconds())
	if count > 0 {
		metrics.ReceiptsSwept.Add(float64(count))
		s.log.WithField("count", count).Info("sweeper aborted idle receipts")
	}
	return count
}

// Stop ends Start. Calling it more than once is safe.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
