package store

import (
	"context"
	"time"

	"github.com/aridsondez/sqlease/internal/queue"
)

// Store is the base queue capability the lease transport composes. Table
// names are queue addresses, either "name" or "schema.name".
type Store interface {
	// Send inserts every message in order, each as its own statement, over
	// one connection. It returns how many were inserted before any error.
	Send(ctx context.Context, msgs []queue.Addressed) (int, error)

	// Claim atomically leases the best eligible row of table. It returns
	// nil, nil when no row is eligible.
	Claim(ctx context.Context, table string, opts queue.ClaimOptions) (*queue.Message, error)

	// Renew sets leaseduntil of row id to leasedUntil.
	Renew(ctx context.Context, table string, id int64, leasedUntil time.Time) error

	// Release clears every lease column of row id.
	Release(ctx context.Context, table string, id int64) error

	// Delete removes row id. Deleting a missing row is not an error.
	Delete(ctx context.Context, table string, id int64) error
}
