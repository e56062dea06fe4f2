package agent

import (
	"errors"
	"testing"
)

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		err  string
		want string
	}{
		{"context deadline exceeded", "timeout"},
		{"request timeout after 30s", "timeout"},
		{"429 too many requests", "rate_limit"},
		{"anthropic: rate_limit_error", "rate_limit"},
		{"401 unauthorized", "auth"},
		{"invalid api key provided", "auth"},
		{"503 service unavailable", "server_error"},
		{"overloaded_error", "server_error"},
		{"dial tcp: connection refused", "network"},
		{"something odd happened", "unknown"},
	}
	for _, tt := range tests {
		if got := classifyProviderError(errors.New(tt.err)); got != tt.want {
			t.Errorf("classifyProviderError(%q) = %q, want %q", tt.err, got, tt.want)
		}
	}
	if got := classifyProviderError(nil); got != "unknown" {
		t.Errorf("classifyProviderError(nil) = %q", got)
	}
}

func TestIsRetryableProviderError(t *testing.T) {
	if !isRetryableProviderError(errors.New("502 bad gateway")) {
		t.Error("server errors should be retryable")
	}
	if !isRetryableProviderError(errors.New("rate limit exceeded")) {
		t.Error("rate limits should be retryable")
	}
	if isRetryableProviderError(errors.New("403 forbidden")) {
		t.Error("auth failures should not be retryable")
	}
	if isRetryableProviderError(errors.New("schema mismatch")) {
		t.Error("unknown failures should not be retryable")
	}
}

func TestTurnErrorUnwrap(t *testing.T) {
	cause := &ToolLoopExceededError{Iterations: 5}
	err := &TurnError{Code: CodeToolLoopExceeded, Message: "tool loop exceeded", Err: cause}

	var loopErr *ToolLoopExceededError
	if !errors.As(err, &loopErr) {
		t.Fatal("TurnError does not unwrap to its cause")
	}
	if loopErr.Iterations != 5 {
		t.Errorf("Iterations = %d, want 5", loopErr.Iterations)
	}
}
