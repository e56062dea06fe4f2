// Package audit writes the append-only trail of turn, tool, and limiter
// events. Writes are buffered and asynchronous so the hot path never blocks
// on the audit sink; Close drains the buffer.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/observability"
)

// Logger records audit events.
type Logger struct {
	config  Config
	output  io.WriteCloser
	slogger *slog.Logger
	buffer  chan *Event
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewLogger creates an audit logger. A disabled logger accepts and discards
// events.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.MaxFieldSize == 0 {
		config.MaxFieldSize = 1024
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}

	l := &Logger{
		config: config,
		output: output,
		buffer: make(chan *Event, config.BufferSize),
		done:   make(chan struct{}),
	}
	l.slogger = slog.New(slog.NewJSONHandler(output, nil)).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Close flushes buffered events and closes the output.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log records an event. If the buffer is full the write happens inline
// rather than dropping the record.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if !l.config.Enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.TraceID == "" {
		event.TraceID = observability.TraceID(ctx)
	}

	select {
	case l.buffer <- event:
	default:
		l.writeEvent(event)
	}
}

// ToolInvoked records a tool dispatch with its (truncated) input.
func (l *Logger) ToolInvoked(ctx context.Context, sessionID, userID, toolName, toolCallID string, input json.RawMessage) {
	l.Log(ctx, &Event{
		Type:      EventToolInvocation,
		UserID:    userID,
		SessionID: sessionID,
		ToolName:  toolName,
		Action:    "tool_invoked",
		Details: map[string]any{
			"tool_call_id": toolCallID,
			"input":        l.truncate(string(input)),
		},
	})
}

// ToolCompleted records a tool result.
func (l *Logger) ToolCompleted(ctx context.Context, sessionID, userID, toolName, toolCallID string, success bool, output string, duration time.Duration) {
	l.Log(ctx, &Event{
		Type:      EventToolCompletion,
		UserID:    userID,
		SessionID: sessionID,
		ToolName:  toolName,
		Action:    "tool_completed",
		Duration:  duration,
		Details: map[string]any{
			"tool_call_id": toolCallID,
			"success":      success,
			"output":       l.truncate(output),
		},
	})
}

// ToolDenied records a tool dispatch blocked before execution.
func (l *Logger) ToolDenied(ctx context.Context, sessionID, userID, toolName, reason string) {
	l.Log(ctx, &Event{
		Type:      EventToolDenied,
		UserID:    userID,
		SessionID: sessionID,
		ToolName:  toolName,
		Action:    "tool_denied",
		Details:   map[string]any{"reason": reason},
	})
}

// RateLimited records a denied request.
func (l *Logger) RateLimited(ctx context.Context, userID, scope string, storeError bool) {
	l.Log(ctx, &Event{
		Type:   EventRateLimited,
		UserID: userID,
		Action: "request_denied",
		Details: map[string]any{
			"scope":       scope,
			"store_error": storeError,
		},
	})
}

func (l *Logger) truncate(s string) string {
	if len(s) > l.config.MaxFieldSize {
		return s[:l.config.MaxFieldSize] + "...(truncated)"
	}
	return s
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-l.done:
			for {
				select {
				case event := <-l.buffer:
					l.writeEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.Action != "" {
		attrs = append(attrs, "action", event.Action)
	}
	if event.UserID != "" {
		attrs = append(attrs, "user_id", event.UserID)
	}
	if event.SessionID != "" {
		attrs = append(attrs, "session_id", event.SessionID)
	}
	if event.ToolName != "" {
		attrs = append(attrs, "tool_name", event.ToolName)
	}
	if event.TraceID != "" {
		attrs = append(attrs, "trace_id", event.TraceID)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}
	l.slogger.Info("audit", attrs...)
}
