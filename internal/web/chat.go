package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/sessions"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	Model          string `json:"model,omitempty"`
	Stream         bool   `json:"stream,omitempty"`
}

// envelope is the non-streaming response shape. Error text is always the
// safe client-facing message; internal detail stays server-side.
type envelope struct {
	OK             bool           `json:"ok"`
	Answer         string         `json:"answer,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Error          string         `json:"error,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		s.writeError(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "request body must be JSON with a message field")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "message must not be empty")
		return
	}

	events, err := s.orchestrator.Run(r.Context(), &agent.TurnRequest{
		User:           user,
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Model:          req.Model,
	})
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}

	if req.Stream || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamEvents(w, r, events)
		return
	}
	s.bufferEvents(w, r, events)
}

// streamEvents relays turn events as server-sent events. Errors are their
// own event type so partial assistant text is never silently merged with a
// failure notice.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan *agent.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		payload := map[string]any{"type": event.Type}
		switch event.Type {
		case agent.EventDelta:
			payload["text"] = event.Text
		case agent.EventTool:
			payload["tool_name"] = event.ToolName
			payload["status"] = event.ToolStatus
		case agent.EventDone:
			payload["answer"] = event.Answer
			payload["conversation_id"] = event.ConversationID
			if event.InputTokens > 0 || event.OutputTokens > 0 {
				payload["usage"] = map[string]int{
					"input_tokens":  event.InputTokens,
					"output_tokens": event.OutputTokens,
				}
			}
		case agent.EventError:
			payload["code"] = event.Err.Code
			payload["error"] = event.Err.Message
			if event.Err.TraceID != "" {
				payload["trace_id"] = event.Err.TraceID
			}
		}

		data, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		if _, err := w.Write([]byte("event: " + string(event.Type) + "\ndata: " + string(data) + "\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

// bufferEvents consumes the whole turn and answers with one JSON envelope.
func (s *Server) bufferEvents(w http.ResponseWriter, r *http.Request, events <-chan *agent.Event) {
	var done *agent.Event
	var failure *agent.TurnError
	for event := range events {
		switch event.Type {
		case agent.EventDone:
			done = event
		case agent.EventError:
			failure = event.Err
		}
	}

	if failure != nil {
		s.writeTurnError(w, r, failure)
		return
	}
	if done == nil {
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", "turn produced no result")
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{
		OK:             true,
		Answer:         done.Answer,
		ConversationID: done.ConversationID,
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		s.writeError(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	conversationID := r.PathValue("id")
	history, err := s.store.History(r.Context(), user.ID, conversationID)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		s.logger.Error("failed to load history", "conversation_id", conversationID, "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load messages")
		return
	}

	// Optional ?limit=N keeps only the most recent messages.
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.writeError(w, r, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		if len(history) > limit {
			history = history[len(history)-limit:]
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"messages": history,
	})
}

func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	var turnErr *agent.TurnError
	if !errors.As(err, &turnErr) {
		s.logger.Error("unexpected turn failure", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", "request failed")
		return
	}

	status := http.StatusInternalServerError
	switch turnErr.Code {
	case agent.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case agent.CodeRateLimited:
		status = http.StatusTooManyRequests
		if turnErr.RetryAfter > 0 {
			seconds := int(turnErr.RetryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
	case agent.CodeNotFound:
		status = http.StatusNotFound
	case agent.CodeBudgetExceeded:
		status = http.StatusRequestEntityTooLarge
	case agent.CodeProviderError, agent.CodeToolLoopExceeded:
		status = http.StatusBadGateway
	}

	if turnErr.Err != nil {
		s.logger.Error("turn failed", "code", turnErr.Code, "error", turnErr.Err)
	}
	s.writeError(w, r, status, turnErr.Code, turnErr.Message)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	details := map[string]any{"code": code}
	if traceID := observability.TraceID(r.Context()); traceID != "" {
		details["trace_id"] = traceID
	}
	s.writeJSON(w, status, envelope{
		OK:      false,
		Error:   message,
		Details: details,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
