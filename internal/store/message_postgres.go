package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/OmniRelay/IngestPipe/internal/models"
	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements MessageRepo.
var _ MessageRepo = (*PostgresStore)(nil)

// Postgres error codes consumed for typed classification.
const (
	pgUniqueViolation      = pq.ErrorCode("23505")
	pgSerializationFailure = pq.ErrorCode("40001")
	pgDeadlockDetected     = pq.ErrorCode("40P01")
	pgConnectionClass      = pq.ErrorClass("08")
	pgInsufficientClass    = pq.ErrorClass("53")
)

// classifyPostgresError maps a lib/pq error onto a typed StorageError.
func classifyPostgresError(op string, err error) *StorageError {
	if kind := classifyDriverError(err); kind != "" {
		return NewError(kind, op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pgUniqueViolation:
			return NewError(KindConflict, op, err)
		case pqErr.Code == pgSerializationFailure, pqErr.Code == pgDeadlockDetected:
			return NewError(KindSerialization, op, err)
		case pqErr.Code.Class() == pgConnectionClass, pqErr.Code.Class() == pgInsufficientClass:
			return NewError(KindUnavailable, op, err)
		}
	}
	return NewError(KindInternal, op, err)
}

func (s *PostgresStore) InsertMessageIfAbsent(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, tenant_id, channel, idempotency_key, sender, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.TenantID, string(msg.Channel), msg.IdempotencyKey, msg.Sender, msg.Content, msg.CreatedAt,
	)
	if err == nil {
		slog.Debug("PostgresStore.InsertMessageIfAbsent: created", "id", msg.ID, "tenantID", msg.TenantID, "key", msg.IdempotencyKey)
		return msg, true, nil
	}

	serr := classifyPostgresError("insert message", err)
	if serr.Kind != KindConflict {
		slog.Error("PostgresStore.InsertMessageIfAbsent failed", "error", err, "tenantID", msg.TenantID, "key", msg.IdempotencyKey)
		return models.Message{}, false, serr
	}

	// A committed winner exists; read it back. Postgres raises the unique
	// violation only after the winning transaction committed, so a read on
	// the same pool observes it under read committed.
	existing, err := s.GetMessageByKey(ctx, msg.TenantID, msg.Channel, msg.IdempotencyKey)
	if err != nil {
		return models.Message{}, false, err
	}
	if existing == nil {
		return models.Message{}, false, NewError(KindSerialization, "read after conflict", sql.ErrNoRows)
	}
	slog.Debug("PostgresStore.InsertMessageIfAbsent: duplicate", "id", existing.ID, "tenantID", msg.TenantID, "key", msg.IdempotencyKey)
	return *existing, false, nil
}

func (s *PostgresStore) GetMessageByKey(ctx context.Context, tenantID string, channel models.Channel, idempotencyKey string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, channel, idempotency_key, sender, content, created_at
		 FROM messages WHERE tenant_id = $1 AND channel = $2 AND idempotency_key = $3`,
		tenantID, string(channel), idempotencyKey,
	)
	msg, err := scanMessageRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetMessageByKey failed", "error", err, "tenantID", tenantID, "key", idempotencyKey)
		return nil, classifyPostgresError("get message by key", err)
	}
	return &msg, nil
}
