package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aridsondez/sqlease/internal/api"
	"github.com/aridsondez/sqlease/internal/clock"
	"github.com/aridsondez/sqlease/internal/config"
	"github.com/aridsondez/sqlease/internal/lease"
	"github.com/aridsondez/sqlease/internal/queue"
	pgstore "github.com/aridsondez/sqlease/internal/queue/store/postgres"
	"github.com/aridsondez/sqlease/internal/queue/store/resilient"
	"github.com/aridsondez/sqlease/internal/queue/sweeper"
	"github.com/aridsondez/sqlease/internal/retry"
	"github.com/aridsondez/sqlease/pkg/worker"
)

// app is what both commands share: config, pool, store and transport.
type app struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	pg        *pgstore.PostgresStore
	transport *lease.Transport
}

func setup(ctx context.Context, logger *logrus.Logger) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.DBConnectionTimeout)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}

	clk := clock.System{}
	pg := pgstore.New(pool, clk)
	policy := retry.DefaultPolicy(pgstore.IsTransient)
	policy.Attempts = cfg.RetryAttempts
	policy.Delays = cfg.RetryDelays
	policy.OnRetry = func(err error, wait time.Duration) {
		logger.WithError(err).WithField("wait", wait).Warn("transient store error, retrying")
	}
	s := resilient.New(pg, policy)

	var identity lease.Identity = lease.HostIdentity{}
	if cfg.LeasedBy != "" {
		identity = lease.StaticIdentity(cfg.LeasedBy)
	}
	t, err := lease.New(s, lease.Options{
		LeaseInterval:                 cfg.LeaseInterval,
		LeaseTolerance:                cfg.LeaseTolerance,
		AutomaticLeaseRenewal:         cfg.LeaseRenewal,
		AutomaticLeaseRenewalInterval: cfg.LeaseRenewalInterval,
		Identity:                      identity,
		Clock:                         clk,
		Logger:                        logger,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &app{cfg: cfg, pool: pool, pg: pg, transport: t}, nil
}

func (rt *app) close() {
	rt.transport.Close()
	rt.pool.Close()
}

func runServe(ctx context.Context, logger *logrus.Logger, createTables bool, queues []string) error {
	rt, err := setup(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	if createTables {
		if len(queues) == 0 {
			queues = []string{rt.cfg.Queue}
		}
		for _, q := range queues {
			if err := rt.pg.CreateTable(ctx, q); err != nil {
				return err
			}
			logger.WithField("queue", q).Info("queue table ready")
		}
	}

	receipts := api.NewReceipts(rt.cfg.LeaseInterval, clock.System{}, logger)
	swp := sweeper.New(receipts, rt.cfg.ReceiptSweepInterval, clock.System{}, logger)

	addr := fmt.Sprintf(":%d", rt.cfg.Port)
	httpSrv := api.NewServer(addr, rt.transport, receipts, clock.System{}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		swp.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", addr).Info("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		if n := receipts.AbortAll(shutdownCtx); n > 0 {
			logger.WithField("count", n).Info("released open receipts")
		}
		return err
	})
	return g.Wait()
}

func runWork(ctx context.Context, logger *logrus.Logger, forward string) error {
	rt, err := setup(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	w := worker.New(worker.Config{
		Transport:   rt.transport,
		Queue:       rt.cfg.Queue,
		Concurrency: rt.cfg.Workers,
		PollDelay:   rt.cfg.PollDelay,
		Logger:      logger,
	})
	w.Handle(func(ctx context.Context, d *worker.Delivery) error {
		logger.WithFields(logrus.Fields{
			"queue":      d.Queue,
			"message_id": d.ID,
			"bytes":      len(d.Body),
		}).Info("message received")
		if forward == "" {
			return nil
		}
		return d.Send(forward, queue.Outgoing{
			Headers:  d.Headers,
			Body:     d.Body,
			Priority: d.Priority,
		})
	})
	return w.Run(ctx)
}
