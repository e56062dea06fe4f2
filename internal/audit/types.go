package audit

import "time"

// EventType classifies audit events.
type EventType string

const (
	EventTurnStarted   EventType = "turn_started"
	EventTurnCompleted EventType = "turn_completed"
	EventTurnFailed    EventType = "turn_failed"

	EventToolInvocation EventType = "tool_invocation"
	EventToolCompletion EventType = "tool_completion"
	EventToolDenied     EventType = "tool_denied"

	EventRateLimited EventType = "rate_limited"

	EventSandboxProvisioned EventType = "sandbox_provisioned"
	EventSandboxDestroyed   EventType = "sandbox_destroyed"
)

// Event is one append-only audit record.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Action    string         `json:"action,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Config configures the audit logger.
type Config struct {
	Enabled bool

	// Output is "stdout", "stderr", or "file:<path>".
	Output string

	// BufferSize is the async buffer capacity.
	BufferSize int

	// MaxFieldSize truncates tool inputs and outputs recorded in details.
	MaxFieldSize int
}
