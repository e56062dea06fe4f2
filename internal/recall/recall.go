// Package recall retrieves long-term memory and document snippets relevant to
// the current user message. Snippets feed context assembly under their own
// token sub-budgets.
package recall

import (
	"context"
	"time"
)

// Snippet is one retrieved unit of text with a relevance score.
type Snippet struct {
	ID        string    `json:"id"`
	Source    string    `json:"source,omitempty"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryStore retrieves long-term memory snippets for a user.
type MemoryStore interface {
	// Recall returns up to limit snippets relevant to query, highest score
	// first.
	Recall(ctx context.Context, userID, query string, limit int) ([]Snippet, error)

	// Remember stores a new memory snippet for the user.
	Remember(ctx context.Context, userID string, snippet Snippet) error
}

// DocumentStore retrieves snippets from documents the user has saved.
type DocumentStore interface {
	// Search returns up to limit document snippets relevant to query,
	// highest score first.
	Search(ctx context.Context, userID, query string, limit int) ([]Snippet, error)

	// Save chunks and stores a document under the given title.
	Save(ctx context.Context, userID, title, content string) (string, error)
}
