package postgres

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/sqlease/internal/clock"
	"github.com/aridsondez/sqlease/internal/queue"
)

// setupTestStore connects to TEST_DATABASE_URL and creates a fresh queue
// table. Tests are skipped when no database is reachable.
func setupTestStore(t *testing.T) (*PostgresStore, *pgxpool.Pool, string) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("skipping: TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skipping: cannot connect to DB: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skipping: DB not reachable: %v", err)
	}

	table := "lease_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	store := New(pool, clock.System{})
	require.NoError(t, store.CreateTable(ctx, table))

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
		pool.Close()
	})
	return store, pool, table
}

func send(t *testing.T, s *PostgresStore, table string, msgs ...queue.Outgoing) {
	t.Helper()
	batch := make([]queue.Addressed, 0, len(msgs))
	for _, m := range msgs {
		batch = append(batch, queue.Addressed{Address: table, Message: m})
	}
	n, err := s.Send(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, len(msgs), n)
}

func claimOpts(now time.Time, by string) queue.ClaimOptions {
	return queue.ClaimOptions{
		Now:           now,
		LeaseInterval: 5 * time.Minute,
		Tolerance:     30 * time.Second,
		LeasedBy:      by,
	}
}

func TestClaimLeaseLifecycle(t *testing.T) {
	s, _, table := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	send(t, s, table, queue.Outgoing{
		Headers:  map[string]string{"type": "order"},
		Body:     []byte(`{"id":1}`),
		Priority: 5,
		TTL:      time.Hour,
	})

	m, err := s.Claim(ctx, table, claimOpts(now, "A"))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "order", m.Headers["type"])
	assert.Equal(t, []byte(`{"id":1}`), m.Body)
	require.NotNil(t, m.LeasedUntil)
	assert.WithinDuration(t, now.Add(5*time.Minute), *m.LeasedUntil, time.Millisecond)
	assert.Equal(t, "A", *m.LeasedBy)

	// leased: B sees nothing until leaseduntil + tolerance has passed
	other, err := s.Claim(ctx, table, claimOpts(now, "B"))
	require.NoError(t, err)
	assert.Nil(t, other)

	other, err = s.Claim(ctx, table, claimOpts(now.Add(5*time.Minute+29*time.Second), "B"))
	require.NoError(t, err)
	assert.Nil(t, other)

	later := now.Add(5*time.Minute + 31*time.Second)
	other, err = s.Claim(ctx, table, claimOpts(later, "B"))
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, m.ID, other.ID)
	assert.Equal(t, "B", *other.LeasedBy)

	// release makes it immediately claimable by anyone
	require.NoError(t, s.Release(ctx, table, m.ID))
	again, err := s.Claim(ctx, table, claimOpts(later, "A"))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, m.ID, again.ID)

	// delete is terminal and idempotent
	require.NoError(t, s.Delete(ctx, table, m.ID))
	require.NoError(t, s.Delete(ctx, table, m.ID))
	gone, err := s.Claim(ctx, table, claimOpts(later.Add(time.Hour), "A"))
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestClaimOrdering(t *testing.T) {
	s, _, table := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	send(t, s, table,
		queue.Outgoing{Body: []byte("low"), Priority: 1},
		queue.Outgoing{Body: []byte("high-late"), Priority: 9, VisibleAt: now.Add(-time.Second)},
		queue.Outgoing{Body: []byte("high-early"), Priority: 9, VisibleAt: now.Add(-time.Minute)},
		queue.Outgoing{Body: []byte("future"), Priority: 99, VisibleAt: now.Add(time.Hour)},
		queue.Outgoing{Body: []byte("expired"), Priority: 99, VisibleAt: now.Add(-2 * time.Hour), TTL: time.Nanosecond},
	)

	var got []string
	for {
		m, err := s.Claim(ctx, table, claimOpts(now.Add(time.Second), "A"))
		require.NoError(t, err)
		if m == nil {
			break
		}
		got = append(got, string(m.Body))
	}
	assert.Equal(t, []string{"high-early", "high-late", "low"}, got)
}

func TestRenewSetsAbsoluteLease(t *testing.T) {
	s, _, table := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	send(t, s, table, queue.Outgoing{Body: []byte("x")})
	m, err := s.Claim(ctx, table, claimOpts(now, "A"))
	require.NoError(t, err)
	require.NotNil(t, m)

	until := now.Add(time.Hour)
	require.NoError(t, s.Renew(ctx, table, m.ID, until))
	require.NoError(t, s.Renew(ctx, table, m.ID, until))

	other, err := s.Claim(ctx, table, claimOpts(now.Add(10*time.Minute), "B"))
	require.NoError(t, err)
	assert.Nil(t, other, "renewed lease must still hold")
}

func TestNoDoubleClaim(t *testing.T) {
	s, _, table := setupTestStore(t)
	ctx := context.Background()

	const rows, claimers = 10, 25
	msgs := make([]queue.Outgoing, rows)
	for i := range msgs {
		msgs[i] = queue.Outgoing{Body: []byte("m")}
	}
	send(t, s, table, msgs...)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = make(map[int64]string)
		dups []int64
	)
	now := time.Now().UTC()
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			m, err := s.Claim(ctx, table, claimOpts(now, worker))
			assert.NoError(t, err)
			if m == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if _, ok := seen[m.ID]; ok {
				dups = append(dups, m.ID)
			}
			seen[m.ID] = worker
		}(uuid.NewString())
	}
	wg.Wait()

	assert.Empty(t, dups)
	assert.Len(t, seen, rows)
}

func TestSendPartialFlush(t *testing.T) {
	s, pool, table := setupTestStore(t)
	ctx := context.Background()

	n, err := s.Send(ctx, []queue.Addressed{
		{Address: table, Message: queue.Outgoing{Body: []byte("first")}},
		{Address: table + "_missing", Message: queue.Outgoing{Body: []byte("second")}},
		{Address: table, Message: queue.Outgoing{Body: []byte("third")}},
	})
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, IsTransient(err))

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestClaimCancelled(t *testing.T) {
	s, _, table := setupTestStore(t)
	send(t, s, table, queue.Outgoing{Body: []byte("x")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, err := s.Claim(ctx, table, claimOpts(time.Now().UTC(), "A"))
	assert.Error(t, err)
	assert.Nil(t, m)

	// the row was not claimed
	m, err = s.Claim(context.Background(), table, claimOpts(time.Now().UTC(), "B"))
	require.NoError(t, err)
	assert.NotNil(t, m)
}
