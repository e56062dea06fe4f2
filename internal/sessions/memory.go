package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

// MemoryStore is an in-process Store for single-instance deployments and
// tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
	}
}

// CreateConversation implements Store.
func (s *MemoryStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	conv.UpdatedAt = conv.CreatedAt
	stored := *conv
	s.conversations[conv.ID] = &stored
	return nil
}

// GetConversation implements Store.
func (s *MemoryStore) GetConversation(_ context.Context, userID, conversationID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, ErrNotFound
	}
	out := *conv
	return &out, nil
}

// History implements Store.
func (s *MemoryStore) History(_ context.Context, userID, conversationID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, ErrNotFound
	}
	msgs := s.messages[conversationID]
	out := make([]*models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// AppendMessages implements Store.
func (s *MemoryStore) AppendMessages(_ context.Context, conversationID string, msgs ...*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.ConversationID = conversationID
		s.messages[conversationID] = append(s.messages[conversationID], m)
	}
	if conv, ok := s.conversations[conversationID]; ok {
		conv.UpdatedAt = now
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
