// Package store defines the aggregate persistence interface. The job and
// deadletter subsystems each define their own store interface; the composite
// Store composes them with lifecycle operations. Backends: Postgres, Redis,
// and Memory.
package store

import (
	"context"

	"github.com/timottowitz/conveyor/deadletter"
	"github.com/timottowitz/conveyor/job"
)

// Store is the aggregate persistence interface. A single backend implements
// all subsystem contracts plus lifecycle.
type Store interface {
	job.Store
	deadletter.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
