// Package memory is an in-process store.Store with the same claim
// semantics as the PostgreSQL store. It backs tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aridsondez/sqlease/internal/clock"
	"github.com/aridsondez/sqlease/internal/queue"
	"github.com/aridsondez/sqlease/internal/queue/store"
)

var _ store.Store = (*Store)(nil)

const defaultTolerance = 15 * time.Second

type Store struct {
	mu     sync.Mutex
	clock  clock.Clock
	nextID int64
	tables map[string]map[int64]*queue.Message
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{clock: clk, tables: make(map[string]map[int64]*queue.Message)}
}

// CreateTable registers an empty queue. Sending to an unknown queue fails.
func (s *Store) CreateTable(_ context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table]; !ok {
		s.tables[table] = make(map[int64]*queue.Message)
	}
	return nil
}

func (s *Store) Send(ctx context.Context, msgs []queue.Addressed) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for i, m := range msgs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		rows, ok := s.tables[m.Address]
		if !ok {
			return i, fmt.Errorf("send to %s: queue does not exist", m.Address)
		}
		visible, expiration := m.Message.Row(now)
		s.nextID++
		rows[s.nextID] = &queue.Message{
			ID:         s.nextID,
			Headers:    copyHeaders(m.Message.Headers),
			Body:       append([]byte(nil), m.Message.Body...),
			Priority:   m.Message.Priority,
			Visible:    visible,
			Expiration: expiration,
		}
	}
	return len(msgs), nil
}

func (s *Store) Claim(ctx context.Context, table string, opts queue.ClaimOptions) (*queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("claim from %s: queue does not exist", table)
	}

	var eligible []*queue.Message
	for _, m := range rows {
		if m.Visible.After(opts.Now) || !m.Expiration.After(opts.Now) {
			continue
		}
		if m.LeasedUntil != nil && !m.LeasedUntil.Add(tolerance).Before(opts.Now) {
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.Visible.Equal(b.Visible) {
			return a.Visible.Before(b.Visible)
		}
		return a.ID < b.ID
	})

	m := eligible[0]
	until := opts.Now.Add(opts.LeaseInterval)
	at := opts.Now
	by := queue.TruncateLeasedBy(opts.LeasedBy)
	m.LeasedUntil, m.LeasedAt, m.LeasedBy = &until, &at, &by

	return clone(m), nil
}

func (s *Store) Renew(ctx context.Context, table string, id int64, leasedUntil time.Time) error {
	return s.update(ctx, table, id, func(m *queue.Message) {
		if m.LeasedBy == nil {
			return
		}
		until := leasedUntil
		m.LeasedUntil = &until
	})
}

func (s *Store) Release(ctx context.Context, table string, id int64) error {
	return s.update(ctx, table, id, func(m *queue.Message) {
		m.LeasedUntil, m.LeasedAt, m.LeasedBy = nil, nil, nil
	})
}

func (s *Store) Delete(ctx context.Context, table string, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables[table], id)
	return nil
}

// Get returns a copy of row id, or nil when it does not exist.
func (s *Store) Get(table string, id int64) *queue.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tables[table][id]
	if !ok {
		return nil
	}
	return clone(m)
}

// Len returns the number of rows in table.
func (s *Store) Len(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

func (s *Store) update(ctx context.Context, table string, id int64, fn func(*queue.Message)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.tables[table][id]; ok {
		fn(m)
	}
	return nil
}

// clone returns a copy sharing no memory with the stored row.
func clone(m *queue.Message) *queue.Message {
	out := *m
	out.Headers = copyHeaders(m.Headers)
	out.Body = append([]byte(nil), m.Body...)
	out.LeasedUntil = copyTime(m.LeasedUntil)
	out.LeasedAt = copyTime(m.LeasedAt)
	if m.LeasedBy != nil {
		by := *m.LeasedBy
		out.LeasedBy = &by
	}
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
