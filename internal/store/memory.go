package store

import (
	"context"
	"sync"

	"github.com/OmniRelay/IngestPipe/internal/models"
)

// InMemoryStore is a MessageRepo backed by a process-local map. It enforces
// the same uniqueness invariant as the SQL backends and is used in tests and
// ephemeral deployments. It provides no durability.
type InMemoryStore struct {
	mu       sync.Mutex
	messages map[string]models.Message
}

// Compile-time check that InMemoryStore implements MessageRepo.
var _ MessageRepo = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory message store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{messages: make(map[string]models.Message)}
}

func memoryKey(tenantID string, channel models.Channel, idempotencyKey string) string {
	return tenantID + "\x00" + string(channel) + "\x00" + idempotencyKey
}

func (s *InMemoryStore) InsertMessageIfAbsent(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, false, NewError(KindTimeout, "insert message", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey(msg.TenantID, msg.Channel, msg.IdempotencyKey)
	if existing, ok := s.messages[k]; ok {
		return existing, false, nil
	}
	s.messages[k] = msg
	return msg, true, nil
}

func (s *InMemoryStore) GetMessageByKey(ctx context.Context, tenantID string, channel models.Channel, idempotencyKey string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindTimeout, "get message by key", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg, ok := s.messages[memoryKey(tenantID, channel, idempotencyKey)]; ok {
		return &msg, nil
	}
	return nil, nil
}

// Len returns the number of stored messages (for tests).
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
