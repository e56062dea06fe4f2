// Package sessions persists conversations and their message history.
//
// The store is an external collaborator from the orchestrator's point of
// view: history is read at the start of a turn and new messages are appended
// at the end. The orchestrator never mutates stored history in place.
package sessions

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/pkg/models"
)

// ErrNotFound is returned for lookups of conversations that do not exist or
// belong to another user.
var ErrNotFound = errors.New("conversation not found")

// Store persists conversations and messages.
type Store interface {
	// CreateConversation creates a conversation owned by a user.
	CreateConversation(ctx context.Context, conv *models.Conversation) error

	// GetConversation fetches a conversation, scoped to its owner. Requests
	// for another user's conversation return ErrNotFound, not a permission
	// error, so conversation ids are not probeable.
	GetConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error)

	// History returns the conversation's messages in chronological order.
	History(ctx context.Context, userID, conversationID string) ([]*models.Message, error)

	// AppendMessages appends messages to a conversation.
	AppendMessages(ctx context.Context, conversationID string, msgs ...*models.Message) error

	Close() error
}
