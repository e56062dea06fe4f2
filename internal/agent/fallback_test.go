package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type stubProvider struct {
	name    string
	err     error
	chunks  []*CompletionChunk
	calls   atomic.Int64
	lastReq *CompletionRequest
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.calls.Add(1)
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	out := make(chan *CompletionChunk)
	go func() {
		defer close(out)
		for _, c := range p.chunks {
			out <- c
		}
	}()
	return out, nil
}

func drain(t *testing.T, ch <-chan *CompletionChunk) []*CompletionChunk {
	t.Helper()
	var out []*CompletionChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestFallbackUsesSecondaryOnRetryableError(t *testing.T) {
	primary := &stubProvider{name: "anthropic", err: errors.New("503 service unavailable")}
	secondary := &stubProvider{name: "openai", chunks: []*CompletionChunk{
		{Text: "from secondary"},
		{Done: true},
	}}
	client := NewFallbackClient(primary, secondary, nil, nil)

	chunks, err := client.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got := drain(t, chunks)
	if len(got) != 2 || got[0].Text != "from secondary" {
		t.Fatalf("chunks = %+v", got)
	}
	if primary.calls.Load() != 1 || secondary.calls.Load() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.calls.Load(), secondary.calls.Load())
	}
}

func TestFallbackDoesNotRetryNonRetryableError(t *testing.T) {
	primary := &stubProvider{name: "anthropic", err: errors.New("401 invalid api key")}
	secondary := &stubProvider{name: "openai"}
	client := NewFallbackClient(primary, secondary, nil, nil)

	_, err := client.Complete(context.Background(), &CompletionRequest{})
	if err == nil {
		t.Fatal("Complete() succeeded, want error")
	}
	if secondary.calls.Load() != 0 {
		t.Errorf("secondary called %d times for a non-retryable error", secondary.calls.Load())
	}
}

func TestFallbackRetriesExactlyOnce(t *testing.T) {
	primary := &stubProvider{name: "anthropic", err: errors.New("rate limit exceeded")}
	secondary := &stubProvider{name: "openai", err: errors.New("rate limit exceeded")}
	client := NewFallbackClient(primary, secondary, nil, nil)

	_, err := client.Complete(context.Background(), &CompletionRequest{})
	if err == nil {
		t.Fatal("Complete() succeeded, want error")
	}
	if primary.calls.Load() != 1 || secondary.calls.Load() != 1 {
		t.Errorf("calls = %d/%d, want exactly 1/1", primary.calls.Load(), secondary.calls.Load())
	}
}

func TestFallbackWithoutSecondaryPropagates(t *testing.T) {
	primary := &stubProvider{name: "anthropic", err: errors.New("503 service unavailable")}
	client := NewFallbackClient(primary, nil, nil, nil)

	_, err := client.Complete(context.Background(), &CompletionRequest{})
	if err == nil {
		t.Fatal("Complete() succeeded, want error")
	}
}

func TestFallbackSwitchesOnEarlyStreamError(t *testing.T) {
	primary := &stubProvider{name: "anthropic", chunks: []*CompletionChunk{
		{Error: errors.New("overloaded")},
	}}
	secondary := &stubProvider{name: "openai", chunks: []*CompletionChunk{
		{Text: "recovered"},
		{Done: true},
	}}
	client := NewFallbackClient(primary, secondary, nil, nil)

	chunks, err := client.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got := drain(t, chunks)
	if len(got) != 2 || got[0].Text != "recovered" {
		t.Fatalf("chunks = %+v", got)
	}
}

func TestFallbackCommitsAfterOutput(t *testing.T) {
	// Once the primary has emitted text, a later failure must propagate
	// instead of replaying the request against the secondary.
	primary := &stubProvider{name: "anthropic", chunks: []*CompletionChunk{
		{Text: "partial "},
		{Error: errors.New("503 service unavailable")},
	}}
	secondary := &stubProvider{name: "openai", chunks: []*CompletionChunk{
		{Text: "should not appear"},
		{Done: true},
	}}
	client := NewFallbackClient(primary, secondary, nil, nil)

	chunks, err := client.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got := drain(t, chunks)
	if len(got) != 2 {
		t.Fatalf("chunks = %+v", got)
	}
	if got[0].Text != "partial " || got[1].Error == nil {
		t.Fatalf("stream not committed to primary: %+v", got)
	}
	if secondary.calls.Load() != 0 {
		t.Errorf("secondary called after primary emitted output")
	}
}
