package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Chat turn throughput and outcomes
//   - LLM request performance, token consumption, and failovers
//   - Tool execution patterns and latencies
//   - Rate-limit decisions per scope
//   - Sandbox lifecycle events
//   - HTTP API request latency
type Metrics struct {
	// TurnCounter counts chat turns by outcome.
	// Labels: outcome (completed|failed)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures full turn latency in seconds.
	TurnDuration prometheus.Histogram

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ProviderFailovers counts fallbacks from primary to secondary provider.
	// Labels: from, to
	ProviderFailovers *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolCostUnits accumulates declared tool cost units. Observability only;
	// not a billing authority.
	// Labels: tool_name
	ToolCostUnits *prometheus.CounterVec

	// RateLimitDecisions counts rate-limit checks.
	// Labels: scope (chat|tool), decision (allowed|denied|denied_store_error)
	RateLimitDecisions *prometheus.CounterVec

	// SandboxEvents counts sandbox lifecycle transitions.
	// Labels: event (provisioned|reused|executed|destroyed|reaped|provision_error)
	SandboxEvents *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_turns_total",
				Help: "Total number of chat turns by outcome",
			},
			[]string{"outcome"},
		),

		TurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "parley_turn_duration_seconds",
				Help:    "Duration of full chat turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ProviderFailovers: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_provider_failovers_total",
				Help: "Total number of provider fallback attempts",
			},
			[]string{"from", "to"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ToolCostUnits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_tool_cost_units_total",
				Help: "Accumulated declared tool cost units",
			},
			[]string{"tool_name"},
		),

		RateLimitDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_ratelimit_decisions_total",
				Help: "Rate limit check decisions by scope",
			},
			[]string{"scope", "decision"},
		),

		SandboxEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_sandbox_events_total",
				Help: "Sandbox lifecycle events",
			},
			[]string{"event"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}
