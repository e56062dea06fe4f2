package tools

import (
	"context"

	"github.com/parleyhq/parley/pkg/models"
)

type sessionContextKey struct{}

// WithSession attaches the turn's session to the context so tool handlers
// can reach session-scoped resources (the sandbox, the user identity).
func WithSession(ctx context.Context, session *models.Session) context.Context {
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFromContext retrieves the turn's session.
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*models.Session)
	return s, ok
}
