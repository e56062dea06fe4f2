package agent

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/parleyhq/parley/internal/observability"
)

// FallbackClient wraps a primary and an optional secondary provider. A
// retryable failure of the primary gets exactly one attempt against the
// secondary; everything else propagates unchanged. Failures of the secondary
// are terminal.
type FallbackClient struct {
	primary   LLMProvider
	secondary LLMProvider
	metrics   *observability.Metrics
	logger    *slog.Logger

	// primaryFailures counts consecutive failovers, reset by any primary
	// stream that completes without one. Logged as a health signal.
	primaryFailures atomic.Int64
}

// NewFallbackClient builds a fallback client. secondary may be nil, in which
// case the client is a transparent wrapper around primary.
func NewFallbackClient(primary, secondary LLMProvider, metrics *observability.Metrics, logger *slog.Logger) *FallbackClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackClient{
		primary:   primary,
		secondary: secondary,
		metrics:   metrics,
		logger:    logger.With("component", "fallback"),
	}
}

// Name implements LLMProvider.
func (c *FallbackClient) Name() string { return c.primary.Name() }

// Complete implements LLMProvider. Falls over to the secondary when the
// primary fails before producing any output; once the primary has emitted
// text or a tool call the stream is committed and errors propagate as-is.
func (c *FallbackClient) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	primaryChunks, err := c.primary.Complete(ctx, req)
	if err != nil {
		if c.secondary == nil || !isRetryableProviderError(err) {
			return nil, err
		}
		return c.failover(ctx, req, err)
	}

	out := make(chan *CompletionChunk)
	go func() {
		defer close(out)
		emitted := false
		for chunk := range primaryChunks {
			if chunk.Error != nil && !emitted && c.secondary != nil && isRetryableProviderError(chunk.Error) {
				secondaryChunks, ferr := c.failover(ctx, req, chunk.Error)
				if ferr != nil {
					out <- &CompletionChunk{Error: ferr}
					return
				}
				for sc := range secondaryChunks {
					out <- sc
				}
				return
			}
			if chunk.Text != "" || chunk.ToolCall != nil {
				emitted = true
			}
			out <- chunk
		}
		c.primaryFailures.Store(0)
	}()
	return out, nil
}

func (c *FallbackClient) failover(ctx context.Context, req *CompletionRequest, cause error) (<-chan *CompletionChunk, error) {
	streak := c.primaryFailures.Add(1)
	c.logger.Warn("primary provider failed, trying fallback",
		"primary", c.primary.Name(),
		"fallback", c.secondary.Name(),
		"consecutive_failures", streak,
		"error", cause)
	if c.metrics != nil {
		c.metrics.ProviderFailovers.WithLabelValues(c.primary.Name(), c.secondary.Name()).Inc()
	}
	return c.secondary.Complete(ctx, req)
}
