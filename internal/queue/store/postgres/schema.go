package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/aridsondez/sqlease/internal/queue"
)

const (
	sqlCreateTable = `
CREATE TABLE IF NOT EXISTS %[1]s (
  id          bigserial PRIMARY KEY,
  headers     bytea,
  body        bytea,
  priority    integer NOT NULL DEFAULT 0,
  visible     timestamptz NOT NULL,
  expiration  timestamptz NOT NULL,
  leaseduntil timestamptz NULL,
  leasedby    varchar(%[2]d) NULL,
  leasedat    timestamptz NULL
);`

	sqlCreateReceiveIndex = `
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s
  (priority DESC, visible ASC, id ASC, expiration ASC, leaseduntil ASC);`

	sqlCreateDeleteIndex = `CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (id ASC);`
)

// CreateTable creates the queue table and its receive and delete indexes
// if they do not exist.
func (p *PostgresStore) CreateTable(ctx context.Context, address string) error {
	table, err := quoteTable(address)
	if err != nil {
		return err
	}
	flat := strings.ReplaceAll(address, ".", "_")
	receiveIdx := pgx.Identifier{"idx_receive_lease_" + flat}.Sanitize()
	deleteIdx := pgx.Identifier{"idx_delete_lease_" + flat}.Sanitize()

	conn, err := p.conns.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	stmts := []string{
		fmt.Sprintf(sqlCreateTable, table, queue.LeasedByMaxLength),
		fmt.Sprintf(sqlCreateReceiveIndex, table, receiveIdx),
		fmt.Sprintf(sqlCreateDeleteIndex, table, deleteIdx),
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", address, err)
		}
	}
	return nil
}
