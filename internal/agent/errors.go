package agent

import (
	"fmt"
	"strings"
	"time"
)

// Stable error codes returned to clients. The matching messages are safe to
// expose; internal detail stays in the wrapped error and the logs.
const (
	CodeUnauthenticated  = "unauthenticated"
	CodeRateLimited      = "rate_limited"
	CodeNotFound         = "not_found"
	CodeBudgetExceeded   = "context_budget_exceeded"
	CodeToolLoopExceeded = "tool_loop_exceeded"
	CodeProviderError    = "provider_error"
	CodeInternal         = "internal_error"
)

// TurnError is the client-facing failure of a chat turn. Message is safe for
// clients; the wrapped error carries internal detail for logs only.
type TurnError struct {
	Code       string
	Message    string
	RetryAfter time.Duration
	TraceID    string
	Err        error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TurnError) Unwrap() error { return e.Err }

// ToolLoopExceededError indicates the model kept requesting tools past the
// configured iteration cap.
type ToolLoopExceededError struct {
	Iterations int
}

func (e *ToolLoopExceededError) Error() string {
	return fmt.Sprintf("tool loop exceeded %d iterations", e.Iterations)
}

// classifyProviderError buckets a provider failure by its error content.
// Providers surface wrapped SDK errors whose text carries the HTTP status.
func classifyProviderError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return "timeout"
	}
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return "rate_limit"
	}
	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return "auth"
	}
	if strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return "server_error"
	}
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") {
		return "network"
	}
	return "unknown"
}

// isRetryableProviderError reports whether a failure of the primary provider
// warrants the single fallback attempt against the secondary.
func isRetryableProviderError(err error) bool {
	switch classifyProviderError(err) {
	case "timeout", "rate_limit", "server_error", "network":
		return true
	default:
		return false
	}
}
