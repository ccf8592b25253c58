package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/OmniRelay/IngestPipe/internal/models"
	"github.com/mattn/go-sqlite3"
)

// Compile-time check that SQLiteStore implements MessageRepo.
var _ MessageRepo = (*SQLiteStore)(nil)

// classifySQLiteError maps a SQLite driver error onto a typed StorageError.
func classifySQLiteError(op string, err error) *StorageError {
	if kind := classifyDriverError(err); kind != "" {
		return NewError(kind, op, err)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return NewError(KindConflict, op, err)
		case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
			return NewError(KindSerialization, op, err)
		case sqliteErr.Code == sqlite3.ErrCantOpen:
			return NewError(KindUnavailable, op, err)
		}
	}
	return NewError(KindInternal, op, err)
}

func (s *SQLiteStore) InsertMessageIfAbsent(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, tenant_id, channel, idempotency_key, sender, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TenantID, string(msg.Channel), msg.IdempotencyKey, msg.Sender, msg.Content, msg.CreatedAt,
	)
	if err == nil {
		slog.Debug("SQLiteStore.InsertMessageIfAbsent: created", "id", msg.ID, "tenantID", msg.TenantID, "key", msg.IdempotencyKey)
		return msg, true, nil
	}

	serr := classifySQLiteError("insert message", err)
	if serr.Kind != KindConflict {
		slog.Error("SQLiteStore.InsertMessageIfAbsent failed", "error", err, "tenantID", msg.TenantID, "key", msg.IdempotencyKey)
		return models.Message{}, false, serr
	}

	// A committed winner exists; read it back.
	existing, err := s.GetMessageByKey(ctx, msg.TenantID, msg.Channel, msg.IdempotencyKey)
	if err != nil {
		return models.Message{}, false, err
	}
	if existing == nil {
		// Conflict reported but the winning row is not visible. SQLite commits
		// are immediately visible to other connections, so this indicates
		// contention worth re-attempting.
		return models.Message{}, false, NewError(KindSerialization, "read after conflict", sql.ErrNoRows)
	}
	slog.Debug("SQLiteStore.InsertMessageIfAbsent: duplicate", "id", existing.ID, "tenantID", msg.TenantID, "key", msg.IdempotencyKey)
	return *existing, false, nil
}

func (s *SQLiteStore) GetMessageByKey(ctx context.Context, tenantID string, channel models.Channel, idempotencyKey string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, channel, idempotency_key, sender, content, created_at
		 FROM messages WHERE tenant_id = ? AND channel = ? AND idempotency_key = ?`,
		tenantID, string(channel), idempotencyKey,
	)
	msg, err := scanMessageRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetMessageByKey failed", "error", err, "tenantID", tenantID, "key", idempotencyKey)
		return nil, classifySQLiteError("get message by key", err)
	}
	return &msg, nil
}
