package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/sqlease/internal/lease"
	"github.com/aridsondez/sqlease/internal/queue"
	"github.com/aridsondez/sqlease/internal/queue/store/memory"
	"github.com/aridsondez/sqlease/internal/uow"
)

func setup(t *testing.T, concurrency int) (*Worker, *lease.Transport, *memory.Store) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s := memory.New(nil)
	for _, q := range []string{"in", "out"} {
		require.NoError(t, s.CreateTable(context.Background(), q))
	}
	tr, err := lease.New(s, lease.Options{Logger: logger, Identity: lease.StaticIdentity("worker-test")})
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	w := New(Config{Transport: tr, Queue: "in", Concurrency: concurrency, PollDelay: 5 * time.Millisecond, Logger: logger})
	return w, tr, s
}

func seed(t *testing.T, tr *lease.Transport, n int) {
	t.Helper()
	u := uow.New()
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Send(u, "in", queue.Outgoing{Body: []byte{byte(i)}}))
	}
	require.NoError(t, u.Commit(context.Background()))
}

func TestProcessOneCommitsAndForwards(t *testing.T) {
	w, tr, s := setup(t, 1)
	seed(t, tr, 1)

	w.Handle(func(ctx context.Context, d *Delivery) error {
		return d.Send("out", queue.Outgoing{Body: d.Body})
	})

	handled, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Zero(t, s.Len("in"))
	assert.Equal(t, 1, s.Len("out"))
}

func TestProcessOneAbortsOnError(t *testing.T) {
	w, tr, s := setup(t, 1)
	seed(t, tr, 1)

	w.Handle(func(ctx context.Context, d *Delivery) error {
		require.NoError(t, d.Send("out", queue.Outgoing{Body: d.Body}))
		return errors.New("boom")
	})

	handled, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 1, s.Len("in"))
	assert.Zero(t, s.Len("out"))

	// released immediately, so it is receivable again
	handled, err = w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, handled)
}

func TestPanicIsTreatedAsFailure(t *testing.T) {
	w, tr, s := setup(t, 1)
	seed(t, tr, 1)

	w.Handle(func(context.Context, *Delivery) error { panic("handler bug") })

	handled, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 1, s.Len("in"))
}

func TestProcessOneEmptyQueue(t *testing.T) {
	w, _, _ := setup(t, 1)
	w.Handle(func(context.Context, *Delivery) error { return nil })

	handled, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestRunDrainsQueueConcurrently(t *testing.T) {
	w, tr, s := setup(t, 4)
	seed(t, tr, 40)

	var (
		mu    sync.Mutex
		seen  = make(map[int64]int)
		total atomic.Int32
	)
	w.Handle(func(ctx context.Context, d *Delivery) error {
		mu.Lock()
		seen[d.ID]++
		mu.Unlock()
		total.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Len("in") == 0 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.EqualValues(t, 40, total.Load())
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %d handled %d times", id, n)
	}
}

func TestCancelledHandlerStillReleases(t *testing.T) {
	w, tr, s := setup(t, 1)
	seed(t, tr, 1)

	ctx, cancel := context.WithCancel(context.Background())
	w.Handle(func(hctx context.Context, d *Delivery) error {
		cancel()
		return hctx.Err()
	})

	handled, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, handled)

	assert.Nil(t, s.Get("in", 1).LeasedBy)
}

func TestRunWithoutHandler(t *testing.T) {
	w, _, _ := setup(t, 1)
	assert.Error(t, w.Run(context.Background()))
}
