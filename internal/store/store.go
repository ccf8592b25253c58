// Package store provides storage backends for IngestPipe.
//
// It defines the MessageRepo and JobRepo interfaces together with SQLite and
// PostgreSQL implementations. The durable uniqueness constraint on
// (tenant_id, channel, idempotency_key) is the sole arbiter of cross-process
// deduplication races.
package store

import (
	"context"

	"github.com/OmniRelay/IngestPipe/internal/models"
)

// MessageRepo defines the interface for durable message deduplication.
type MessageRepo interface {
	// InsertMessageIfAbsent attempts to durably insert msg. If no record with
	// the same (TenantID, Channel, IdempotencyKey) exists, the new record is
	// inserted and returned with created = true. If a record already exists,
	// the pre-existing record is returned with created = false. Both outcomes
	// are successful, non-error results; only genuine storage faults are
	// returned as errors, always as *StorageError.
	InsertMessageIfAbsent(ctx context.Context, msg models.Message) (models.Message, bool, error)

	// GetMessageByKey retrieves a message by its deduplication scope.
	// Returns nil without error when no record exists.
	GetMessageByKey(ctx context.Context, tenantID string, channel models.Channel, idempotencyKey string) (*models.Message, error)
}

// Store is the full persistence surface a backend provides.
type Store interface {
	MessageRepo
	JobRepo

	// Close releases the underlying database resources.
	Close() error
}

// Opts holds configuration options for store constructors.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store constructors.
type Option func(*Opts)

// WithDSN sets the database DSN (a file path for SQLite, a connection URL
// for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
