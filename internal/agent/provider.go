// Package agent implements the chat turn orchestrator: rate limiting,
// context assembly, provider streaming, tool dispatch, and persistence.
package agent

import (
	"context"
	"encoding/json"

	"github.com/parleyhq/parley/pkg/models"
)

// LLMProvider is the interface for streaming LLM backends.
//
// Implementations must be safe for concurrent use; each Complete call
// creates an independent stream.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The
	// returned channel is closed when the stream ends. Errors that occur
	// before the stream starts are returned directly; errors during
	// streaming arrive as chunks with Error set.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name, e.g. "anthropic".
	Name() string
}

// ToolSchema describes a tool offered to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// CompletionRequest contains all parameters for one provider call.
type CompletionRequest struct {
	// Model selects the model. Empty means the provider default.
	Model string `json:"model"`

	// System is the system prompt, handled separately from messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools lists the tools the model may call this turn.
	Tools []ToolSchema `json:"tools,omitempty"`

	// MaxTokens limits the generated response. 0 means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is a single message in provider-neutral form.
// Role is "user", "assistant", or "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is one element of a streaming response. A chunk carries
// partial text, a complete tool call, a terminal error, or the done signal
// with token usage.
type CompletionChunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`

	// InputTokens and OutputTokens are populated on the final chunk when
	// the provider reports usage.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// historyToCompletion converts stored history messages into the
// provider-neutral request form.
func historyToCompletion(msgs []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}
