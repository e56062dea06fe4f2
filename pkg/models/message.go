package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the unified message format for conversation history.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	ToolCalls      []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult   `json:"tool_results,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// SummaryMetadataKey marks a message as a rolling summary of older history.
// Summary messages are injected ahead of raw history during context assembly
// and are skipped when reading history normally.
const SummaryMetadataKey = "parley_summary"

// IsSummary reports whether the message is a rolling-summary marker.
func (m *Message) IsSummary() bool {
	if m == nil || m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[SummaryMetadataKey]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution. It is fed back into
// the conversation as a synthetic tool message and recorded in the audit trail.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Content    string        `json:"content"`
	IsError    bool          `json:"is_error,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Conversation represents a chat thread owned by a single user.
type Conversation struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// User represents an authenticated user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one chat turn's execution context. It is created at request
// entry, owned exclusively by the orchestrator for the lifetime of the
// request, and destroyed when the response completes or times out.
type Session struct {
	ID             string    `json:"id"`
	User           *User     `json:"user"`
	ConversationID string    `json:"conversation_id"`
	Model          string    `json:"model,omitempty"`
	StartedAt      time.Time `json:"started_at"`
}
