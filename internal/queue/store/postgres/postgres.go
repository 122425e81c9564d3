package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"

	"github.com/aridsondez/sqlease/internal/clock"
	"github.com/aridsondez/sqlease/internal/queue"
	"github.com/aridsondez/sqlease/internal/queue/store"
)

// Ensure *PostgresStore implements store.Store at compile time.
var _ store.Store = (*PostgresStore)(nil)

// DefaultLeaseTolerance applies when a claim is made without a tolerance.
const DefaultLeaseTolerance = 15 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ConnProvider hands out short-lived pooled connections. *pgxpool.Pool
// satisfies it.
type ConnProvider interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

type PostgresStore struct {
	conns ConnProvider
	clock clock.Clock
}

func New(conns ConnProvider, clk clock.Clock) *PostgresStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &PostgresStore{conns: conns, clock: clk}
}

// SQL templates; %[1]s is the quoted table name.
const (
	sqlInsert = `
INSERT INTO %[1]s (headers, body, priority, visible, expiration)
VALUES ($1, $2, $3, $4, $5);`

	// Pick and lease in one statement. SKIP LOCKED keeps concurrent
	// claimers from blocking on, or double-claiming, the same row.
	sqlClaim = `
WITH picked AS (
  SELECT id
  FROM %[1]s
  WHERE visible <= $1
    AND expiration > $1
    AND (leaseduntil IS NULL OR leaseduntil < $2)
  ORDER BY priority DESC, visible ASC, id ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
UPDATE %[1]s m
SET leaseduntil = $3,
    leasedby    = $4,
    leasedat    = $1
FROM picked
WHERE m.id = picked.id
RETURNING m.id, m.headers, m.body, m.priority, m.visible, m.expiration,
          m.leaseduntil, m.leasedby, m.leasedat;`

	// A released row keeps its NULL lease even if a renewal races the release.
	sqlRenew = `UPDATE %[1]s SET leaseduntil = $2 WHERE id = $1 AND leasedby IS NOT NULL;`

	sqlRelease = `
UPDATE %[1]s
SET leaseduntil = NULL,
    leasedby    = NULL,
    leasedat    = NULL
WHERE id = $1;`

	sqlDelete = `DELETE FROM %[1]s WHERE id = $1;`
)

// Send inserts msgs in order over a single connection. Each insert commits
// on its own, so a failure leaves the earlier messages in place.
func (p *PostgresStore) Send(ctx context.Context, msgs []queue.Addressed) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	conn, err := p.conns.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	now := p.clock.Now()
	for i, m := range msgs {
		table, err := quoteTable(m.Address)
		if err != nil {
			return i, err
		}
		headers, err := json.Marshal(m.Message.Headers)
		if err != nil {
			return i, fmt.Errorf("encode headers: %w", err)
		}
		visible, expiration := m.Message.Row(now)

		_, err = conn.Exec(ctx, fmt.Sprintf(sqlInsert, table),
			headers,
			m.Message.Body,
			m.Message.Priority,
			visible,
			expiration,
		)
		if err != nil {
			return i, fmt.Errorf("send to %s: %w", m.Address, err)
		}
	}
	return len(msgs), nil
}

// Claim leases the best eligible row of table.
func (p *PostgresStore) Claim(ctx context.Context, table string, opts queue.ClaimOptions) (*queue.Message, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}
	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultLeaseTolerance
	}

	conn, err := p.conns.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, fmt.Sprintf(sqlClaim, quoted),
		opts.Now,                         // $1 now
		opts.Now.Add(-tolerance),         // $2 reclaimable when leaseduntil is before this
		opts.Now.Add(opts.LeaseInterval), // $3 new leaseduntil
		queue.TruncateLeasedBy(opts.LeasedBy),
	)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", table, err)
	}
	return m, nil
}

// Renew sets an absolute leaseduntil, so repeating it is harmless.
func (p *PostgresStore) Renew(ctx context.Context, table string, id int64, leasedUntil time.Time) error {
	return p.exec(ctx, table, sqlRenew, "renew", id, leasedUntil)
}

// Release makes row id immediately eligible again.
func (p *PostgresStore) Release(ctx context.Context, table string, id int64) error {
	return p.exec(ctx, table, sqlRelease, "release", id)
}

// Delete removes row id.
func (p *PostgresStore) Delete(ctx context.Context, table string, id int64) error {
	return p.exec(ctx, table, sqlDelete, "delete", id)
}

func (p *PostgresStore) exec(ctx context.Context, table, tmpl, op string, args ...any) error {
	quoted, err := quoteTable(table)
	if err != nil {
		return err
	}

	conn, err := p.conns.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf(tmpl, quoted), args...); err != nil {
		return fmt.Errorf("%s in %s: %w", op, table, err)
	}
	return nil
}

func scanMessage(row pgx.Row) (*queue.Message, error) {
	var (
		m       queue.Message
		headers []byte
	)
	// NOTE: column order must match the RETURNING list of sqlClaim.
	err := row.Scan(
		&m.ID,
		&headers,
		&m.Body,
		&m.Priority,
		&m.Visible,
		&m.Expiration,
		&m.LeasedUntil,
		&m.LeasedBy,
		&m.LeasedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &m.Headers); err != nil {
			return nil, fmt.Errorf("decode headers of message %d: %w", m.ID, err)
		}
	}

	m.Visible = m.Visible.UTC()
	m.Expiration = m.Expiration.UTC()
	m.LeasedUntil = utc(m.LeasedUntil)
	m.LeasedAt = utc(m.LeasedAt)
	return &m, nil
}

// quoteTable turns "name" or "schema.name" into a quoted identifier.
func quoteTable(address string) (string, error) {
	parts := strings.Split(address, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid queue address %q", address)
	}
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("invalid queue address %q", address)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
