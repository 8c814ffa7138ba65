package store

import (
	"context"

	"github.com/xraph/docket/job"
	"github.com/xraph/docket/lease"
)

// Store is the aggregate persistence interface.
// A single backend (memory, mongo, postgres) implements every subsystem
// contract so that jobs and the control lease live in the same database.
type Store interface {
	job.Store
	lease.Store

	// Migrate creates or updates the schema and indexes.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
