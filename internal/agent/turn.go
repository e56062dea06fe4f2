package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/parleyhq/parley/internal/audit"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/prompt"
	"github.com/parleyhq/parley/internal/ratelimit"
	"github.com/parleyhq/parley/internal/sandbox"
	"github.com/parleyhq/parley/internal/sessions"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/pkg/models"
)

// EventType classifies turn stream events.
type EventType string

const (
	// EventDelta carries a fragment of assistant text.
	EventDelta EventType = "delta"

	// EventTool reports a completed tool dispatch.
	EventTool EventType = "tool"

	// EventError reports a turn failure. It is always a distinct event,
	// never concatenated into assistant text.
	EventError EventType = "error"

	// EventDone closes a successful turn and carries the full answer.
	EventDone EventType = "done"
)

// Event is one element of a turn's output stream.
type Event struct {
	Type EventType `json:"type"`

	// Text is the delta fragment for EventDelta.
	Text string `json:"text,omitempty"`

	// ToolName and ToolStatus describe an EventTool dispatch.
	ToolName   string `json:"tool_name,omitempty"`
	ToolStatus string `json:"tool_status,omitempty"`

	// Answer is the complete assistant text, set on EventDone.
	Answer         string `json:"answer,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	InputTokens    int    `json:"input_tokens,omitempty"`
	OutputTokens   int    `json:"output_tokens,omitempty"`

	// Err is set on EventError.
	Err *TurnError `json:"error,omitempty"`
}

// TurnRequest is one inbound chat message from an authenticated user.
type TurnRequest struct {
	User *models.User

	// ConversationID selects an existing conversation. Empty starts a new
	// one.
	ConversationID string

	Message string

	// Model overrides the configured default model when set.
	Model string
}

// Config holds the orchestrator's tuning parameters.
type Config struct {
	SystemPrompt string
	Model        string
	MaxTokens    int

	// ChatPolicy is the global per-user request limit.
	ChatPolicy ratelimit.Policy

	// MaxToolIterations bounds provider round trips per turn.
	MaxToolIterations int

	// TurnTimeout bounds a whole turn's wall time.
	TurnTimeout time.Duration
}

// Orchestrator runs chat turns: admission, context assembly, provider
// streaming, tool dispatch, and persistence.
type Orchestrator struct {
	provider  LLMProvider
	registry  *tools.Registry
	limiter   *ratelimit.Limiter
	store     sessions.Store
	assembler *prompt.Assembler
	sandboxes *sandbox.Manager
	audit     *audit.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
	cfg       Config
}

// NewOrchestrator wires a turn orchestrator. sandboxes, metrics, and tracer
// may be nil.
func NewOrchestrator(
	provider LLMProvider,
	registry *tools.Registry,
	limiter *ratelimit.Limiter,
	store sessions.Store,
	assembler *prompt.Assembler,
	sandboxes *sandbox.Manager,
	auditLog *audit.Logger,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 10
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 5 * time.Minute
	}
	return &Orchestrator{
		provider:  provider,
		registry:  registry,
		limiter:   limiter,
		store:     store,
		assembler: assembler,
		sandboxes: sandboxes,
		audit:     auditLog,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger.With("component", "orchestrator"),
		cfg:       cfg,
	}
}

// Run executes one chat turn. Failures before any streaming begins are
// returned as a *TurnError so callers can map them to a status code; once
// the event channel is returned, failures arrive as EventError events.
func (o *Orchestrator) Run(ctx context.Context, req *TurnRequest) (<-chan *Event, error) {
	if req.User == nil || req.User.ID == "" {
		return nil, &TurnError{Code: CodeUnauthenticated, Message: "authentication required"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, &TurnError{Code: CodeInternal, Message: "message must not be empty"}
	}

	decision := o.limiter.Check(ctx, req.User.ID, o.cfg.ChatPolicy)
	o.countLimit("chat", decision)
	if !decision.Allowed {
		o.audit.RateLimited(ctx, req.User.ID, "chat", decision.StoreError != nil)
		return nil, &TurnError{
			Code:       CodeRateLimited,
			Message:    "rate limit exceeded",
			RetryAfter: decision.RetryAfter,
			TraceID:    observability.TraceID(ctx),
			Err:        decision.StoreError,
		}
	}

	conv, history, err := o.loadConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	userMsg := &models.Message{Role: models.RoleUser, Content: req.Message}
	assembled, err := o.assembler.Assemble(ctx, prompt.Request{
		UserID:      req.User.ID,
		SystemText:  o.cfg.SystemPrompt,
		History:     history,
		UserMessage: userMsg,
	})
	if err != nil {
		var budgetErr *prompt.BudgetExceededError
		if errors.As(err, &budgetErr) {
			return nil, &TurnError{
				Code:    CodeBudgetExceeded,
				Message: "request does not fit the context budget",
				TraceID: observability.TraceID(ctx),
				Err:     err,
			}
		}
		return nil, &TurnError{
			Code:    CodeInternal,
			Message: "failed to prepare request",
			TraceID: observability.TraceID(ctx),
			Err:     err,
		}
	}

	model := o.cfg.Model
	if req.Model != "" {
		model = req.Model
	}
	session := &models.Session{
		ID:             uuid.NewString(),
		User:           req.User,
		ConversationID: conv.ID,
		Model:          model,
		StartedAt:      time.Now(),
	}

	events := make(chan *Event)
	go o.runTurn(ctx, session, conv, assembled, userMsg, events)
	return events, nil
}

func (o *Orchestrator) loadConversation(ctx context.Context, req *TurnRequest) (*models.Conversation, []*models.Message, error) {
	if req.ConversationID == "" {
		conv := &models.Conversation{UserID: req.User.ID, Title: truncateTitle(req.Message)}
		if err := o.store.CreateConversation(ctx, conv); err != nil {
			return nil, nil, &TurnError{Code: CodeInternal, Message: "failed to create conversation", Err: err}
		}
		return conv, nil, nil
	}

	conv, err := o.store.GetConversation(ctx, req.User.ID, req.ConversationID)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return nil, nil, &TurnError{Code: CodeNotFound, Message: "conversation not found"}
		}
		return nil, nil, &TurnError{Code: CodeInternal, Message: "failed to load conversation", Err: err}
	}
	history, err := o.store.History(ctx, req.User.ID, req.ConversationID)
	if err != nil {
		return nil, nil, &TurnError{Code: CodeInternal, Message: "failed to load history", Err: err}
	}
	return conv, history, nil
}

// runTurn drives the provider/tool loop and owns the session's sandbox
// lifetime. The deferred release covers every exit path, including client
// disconnects that cancel ctx.
func (o *Orchestrator) runTurn(ctx context.Context, session *models.Session, conv *models.Conversation, assembled *prompt.Prompt, userMsg *models.Message, events chan<- *Event) {
	defer close(events)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	if o.sandboxes != nil {
		defer func() {
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer releaseCancel()
			o.sandboxes.Release(releaseCtx, session.ID)
		}()
	}

	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.TraceTurn(ctx, conv.ID)
		defer span.End()
	}

	ctx = tools.WithSession(ctx, session)
	started := time.Now()
	o.audit.Log(ctx, &audit.Event{
		Type:      audit.EventTurnStarted,
		UserID:    session.User.ID,
		SessionID: session.ID,
		Details:   map[string]any{"conversation_id": conv.ID},
	})

	messages := historyToCompletion(assembled.Messages)
	var answer strings.Builder
	var inputTokens, outputTokens int
	var turnMsgs []*models.Message

	for iteration := 0; iteration < o.cfg.MaxToolIterations; iteration++ {
		chunks, err := o.provider.Complete(ctx, &CompletionRequest{
			Model:     session.Model,
			System:    assembled.System,
			Messages:  messages,
			Tools:     o.toolSchemas(),
			MaxTokens: o.cfg.MaxTokens,
		})
		if err != nil {
			o.failTurn(ctx, session, events, started, &TurnError{
				Code:    CodeProviderError,
				Message: "language model request failed",
				TraceID: observability.TraceID(ctx),
				Err:     err,
			})
			return
		}

		var iterText strings.Builder
		var toolCalls []models.ToolCall
		for chunk := range chunks {
			switch {
			case chunk.Error != nil:
				o.failTurn(ctx, session, events, started, &TurnError{
					Code:    CodeProviderError,
					Message: "language model stream failed",
					TraceID: observability.TraceID(ctx),
					Err:     chunk.Error,
				})
				return
			case chunk.Text != "":
				iterText.WriteString(chunk.Text)
				answer.WriteString(chunk.Text)
				select {
				case events <- &Event{Type: EventDelta, Text: chunk.Text}:
				case <-ctx.Done():
				}
			case chunk.ToolCall != nil:
				toolCalls = append(toolCalls, *chunk.ToolCall)
			case chunk.Done:
				inputTokens += chunk.InputTokens
				outputTokens += chunk.OutputTokens
			}
		}
		if ctx.Err() != nil {
			o.failTurn(ctx, session, events, started, &TurnError{
				Code:    CodeProviderError,
				Message: "turn cancelled",
				TraceID: observability.TraceID(ctx),
				Err:     ctx.Err(),
			})
			return
		}

		if len(toolCalls) == 0 {
			turnMsgs = append(turnMsgs,
				&models.Message{Role: models.RoleAssistant, Content: iterText.String()},
			)
			o.completeTurn(ctx, session, conv, userMsg, turnMsgs, events, started, answer.String(), inputTokens, outputTokens)
			return
		}

		// Dispatch sequentially; results keep the order the calls arrived in.
		var results []models.ToolResult
		for i := range toolCalls {
			result := o.dispatchTool(ctx, session, &toolCalls[i])
			results = append(results, *result)
			status := "ok"
			if result.IsError {
				status = "error"
			}
			select {
			case events <- &Event{Type: EventTool, ToolName: toolCalls[i].Name, ToolStatus: status}:
			case <-ctx.Done():
			}
		}

		turnMsgs = append(turnMsgs,
			&models.Message{Role: models.RoleAssistant, Content: iterText.String(), ToolCalls: toolCalls},
			&models.Message{Role: models.RoleTool, ToolResults: results},
		)
		messages = append(messages,
			CompletionMessage{Role: "assistant", Content: iterText.String(), ToolCalls: toolCalls},
			CompletionMessage{Role: "tool", ToolResults: results},
		)
	}

	loopErr := &ToolLoopExceededError{Iterations: o.cfg.MaxToolIterations}
	o.failTurn(ctx, session, events, started, &TurnError{
		Code:    CodeToolLoopExceeded,
		Message: "tool loop exceeded the configured iteration cap",
		TraceID: observability.TraceID(ctx),
		Err:     loopErr,
	})
}

// dispatchTool resolves, admits, validates, and executes a single tool call.
// Every failure becomes an error result fed back to the model; the turn
// itself never fails because a tool did.
func (o *Orchestrator) dispatchTool(ctx context.Context, session *models.Session, call *models.ToolCall) *models.ToolResult {
	errResult := func(msg string) *models.ToolResult {
		return &models.ToolResult{ToolCallID: call.ID, Content: msg, IsError: true}
	}

	desc, err := o.registry.Resolve(call.Name)
	if err != nil {
		o.audit.ToolDenied(ctx, session.ID, session.User.ID, call.Name, err.Error())
		o.countTool(call.Name, "error")
		return errResult("Tool not available: " + call.Name)
	}

	if desc.RateLimit != nil {
		policy := ratelimit.Policy{
			Name:     "tool:" + desc.Name,
			Requests: desc.RateLimit.Requests,
			Window:   desc.RateLimit.Window,
		}
		decision := o.limiter.Check(ctx, session.User.ID, policy)
		o.countLimit("tool", decision)
		if !decision.Allowed {
			o.audit.ToolDenied(ctx, session.ID, session.User.ID, call.Name, "rate limited")
			o.countTool(call.Name, "error")
			return errResult("Tool rate limit exceeded for " + call.Name)
		}
	}

	if err := desc.ValidateInput(call.Input); err != nil {
		o.audit.ToolDenied(ctx, session.ID, session.User.ID, call.Name, "invalid input")
		o.countTool(call.Name, "error")
		return errResult("Invalid input: " + err.Error())
	}

	o.audit.ToolInvoked(ctx, session.ID, session.User.ID, call.Name, call.ID, call.Input)

	execCtx := ctx
	if o.tracer != nil {
		var span trace.Span
		execCtx, span = o.tracer.TraceToolExecution(ctx, call.Name)
		defer span.End()
	}

	start := time.Now()
	result, err := desc.Handler(execCtx, call.Input)
	elapsed := time.Since(start)

	if o.metrics != nil {
		o.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(elapsed.Seconds())
		if desc.CostUnits > 0 {
			o.metrics.ToolCostUnits.WithLabelValues(call.Name).Add(float64(desc.CostUnits))
		}
	}
	if err != nil {
		o.logger.Error("tool handler failed", "tool", call.Name, "error", err)
		o.audit.ToolCompleted(ctx, session.ID, session.User.ID, call.Name, call.ID, false, err.Error(), elapsed)
		o.countTool(call.Name, "error")
		return errResult("Tool execution failed: " + call.Name)
	}

	status := "success"
	if result.IsError {
		status = "error"
	}
	o.audit.ToolCompleted(ctx, session.ID, session.User.ID, call.Name, call.ID, !result.IsError, result.Content, elapsed)
	o.countTool(call.Name, status)

	return &models.ToolResult{
		ToolCallID: call.ID,
		Content:    result.Content,
		IsError:    result.IsError,
		Duration:   elapsed,
	}
}

func (o *Orchestrator) completeTurn(ctx context.Context, session *models.Session, conv *models.Conversation, userMsg *models.Message, turnMsgs []*models.Message, events chan<- *Event, started time.Time, answer string, inputTokens, outputTokens int) {
	persisted := append([]*models.Message{userMsg}, turnMsgs...)
	if err := o.store.AppendMessages(ctx, conv.ID, persisted...); err != nil {
		o.logger.Error("failed to persist turn", "conversation_id", conv.ID, "error", err)
	}

	elapsed := time.Since(started)
	o.audit.Log(ctx, &audit.Event{
		Type:      audit.EventTurnCompleted,
		UserID:    session.User.ID,
		SessionID: session.ID,
		Duration:  elapsed,
		Details: map[string]any{
			"conversation_id": conv.ID,
			"input_tokens":    inputTokens,
			"output_tokens":   outputTokens,
		},
	})
	if o.metrics != nil {
		o.metrics.TurnCounter.WithLabelValues("completed").Inc()
		o.metrics.TurnDuration.Observe(elapsed.Seconds())
		if inputTokens > 0 {
			o.metrics.LLMTokensUsed.WithLabelValues(o.provider.Name(), session.Model, "prompt").Add(float64(inputTokens))
		}
		if outputTokens > 0 {
			o.metrics.LLMTokensUsed.WithLabelValues(o.provider.Name(), session.Model, "completion").Add(float64(outputTokens))
		}
	}

	select {
	case events <- &Event{
		Type:           EventDone,
		Answer:         answer,
		ConversationID: conv.ID,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
	}:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) failTurn(ctx context.Context, session *models.Session, events chan<- *Event, started time.Time, turnErr *TurnError) {
	o.logger.Error("turn failed",
		"session_id", session.ID,
		"code", turnErr.Code,
		"error", turnErr.Err)
	o.audit.Log(ctx, &audit.Event{
		Type:      audit.EventTurnFailed,
		UserID:    session.User.ID,
		SessionID: session.ID,
		Error:     turnErr.Code,
		Duration:  time.Since(started),
	})
	if o.metrics != nil {
		o.metrics.TurnCounter.WithLabelValues("failed").Inc()
	}

	// ctx may already be cancelled here, so the delivery wait is bounded by
	// a grace period instead.
	select {
	case events <- &Event{Type: EventError, Err: turnErr}:
	case <-time.After(time.Second):
	}
}

func (o *Orchestrator) toolSchemas() []ToolSchema {
	available := o.registry.ListAvailable()
	schemas := make([]ToolSchema, 0, len(available))
	for _, d := range available {
		schemas = append(schemas, ToolSchema{
			Name:        d.Name,
			Description: d.Description,
			Schema:      d.Schema,
		})
	}
	return schemas
}

func (o *Orchestrator) countLimit(scope string, decision ratelimit.Decision) {
	if o.metrics == nil {
		return
	}
	label := "allowed"
	switch {
	case decision.StoreError != nil:
		label = "denied_store_error"
	case !decision.Allowed:
		label = "denied"
	}
	o.metrics.RateLimitDecisions.WithLabelValues(scope, label).Inc()
}

func (o *Orchestrator) countTool(name, status string) {
	if o.metrics != nil {
		o.metrics.ToolExecutionCounter.WithLabelValues(name, status).Inc()
	}
}

func truncateTitle(message string) string {
	title := strings.TrimSpace(message)
	if len(title) <= 80 {
		return title
	}
	// Cut on a rune boundary so the stored title stays valid UTF-8.
	cut := 80
	for cut > 0 && !utf8.RuneStart(title[cut]) {
		cut--
	}
	return title[:cut]
}
