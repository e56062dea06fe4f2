package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/agent/providers"
	"github.com/parleyhq/parley/internal/audit"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/prompt"
	"github.com/parleyhq/parley/internal/ratelimit"
	"github.com/parleyhq/parley/internal/recall"
	"github.com/parleyhq/parley/internal/sandbox"
	"github.com/parleyhq/parley/internal/sessions"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/internal/tools/builtin"
	"github.com/parleyhq/parley/internal/web"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Parley server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return runServe(configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	metrics := observability.NewMetrics()

	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
		Endpoint:       tracingEndpoint(cfg),
		EnableInsecure: true,
	})

	// Rate-limit counters. SQLite when a path is configured so limits
	// survive restarts, in-memory otherwise.
	var counterStore ratelimit.CounterStore
	if cfg.Database.CounterPath != "" {
		store, err := ratelimit.NewSQLiteStore(cfg.Database.CounterPath)
		if err != nil {
			return fmt.Errorf("failed to open counter store: %w", err)
		}
		counterStore = store
	} else {
		counterStore = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.NewLimiter(counterStore, logger)

	var sessionStore sessions.Store
	if cfg.Database.URL != "" {
		store, err := sessions.NewPostgresStore(cfg.Database.URL, sessions.PostgresConfig{
			MaxOpenConns:    cfg.Database.MaxConnections,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		sessionStore = store
	} else {
		logger.Warn("no database url configured, conversations are in-memory only")
		sessionStore = sessions.NewMemoryStore()
	}

	recallStore := recall.NewInMemoryStore()
	assembler := prompt.NewAssembler(prompt.Budget{
		Window:         cfg.Context.Window,
		ReservedOutput: cfg.Context.ReservedOutput,
		MemoryTokens:   cfg.Context.MemoryTokens,
		DocumentTokens: cfg.Context.DocumentTokens,
		MaxMessages:    cfg.Context.MaxMessages,
	}, recallStore, recallStore, logger)

	var sandboxManager *sandbox.Manager
	if cfg.Sandbox.Enabled {
		provider := sandbox.NewHTTPProvider(cfg.Sandbox.BaseURL, cfg.Sandbox.Token, cfg.Sandbox.ExecTimeout)
		sandboxManager = sandbox.NewManager(provider, cfg.Sandbox.IdleTimeout, logger)
		sandboxManager.StartReaper()
	}

	registry := tools.NewRegistry()
	if err := registerTools(registry, cfg, sandboxManager, recallStore); err != nil {
		return err
	}

	provider, err := buildProvider(cfg, metrics, logger)
	if err != nil {
		return err
	}

	auditLog, err := audit.NewLogger(audit.Config{
		Enabled:      cfg.Audit.Enabled,
		Output:       cfg.Audit.Output,
		BufferSize:   cfg.Audit.BufferSize,
		MaxFieldSize: cfg.Audit.MaxFieldSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	authSvc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)

	primaryCfg := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
	orchestrator := agent.NewOrchestrator(
		provider,
		registry,
		limiter,
		sessionStore,
		assembler,
		sandboxManager,
		auditLog,
		metrics,
		tracer,
		logger,
		agent.Config{
			SystemPrompt: defaultSystemPrompt,
			Model:        primaryCfg.DefaultModel,
			ChatPolicy: ratelimit.Policy{
				Name:     "chat",
				Requests: cfg.Limits.ChatRequests,
				Window:   cfg.Limits.ChatWindow,
			},
			MaxToolIterations: cfg.Limits.MaxToolIterations,
			TurnTimeout:       cfg.Limits.TurnTimeout,
		},
	)

	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	server := web.NewServer(apiAddr, orchestrator, sessionStore, authSvc, metrics, logger)

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", "error", err)
	}
	if sandboxManager != nil {
		sandboxManager.Close()
	}
	if err := auditLog.Close(); err != nil {
		logger.Error("audit close failed", "error", err)
	}
	if err := sessionStore.Close(); err != nil {
		logger.Error("session store close failed", "error", err)
	}
	if err := counterStore.Close(); err != nil {
		logger.Error("counter store close failed", "error", err)
	}
	if err := tracerShutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}

	return nil
}

const defaultSystemPrompt = "You are Parley, a helpful assistant. Use the available tools when they help you answer accurately, and say so when you do not know something."

func registerTools(registry *tools.Registry, cfg *config.Config, sandboxManager *sandbox.Manager, docs *recall.InMemoryStore) error {
	if sandboxManager != nil {
		execLimit := &tools.RateLimit{
			Requests: cfg.Tools.CodeExecRequests,
			Window:   cfg.Tools.CodeExecWindow,
		}
		enabled := func() bool { return cfg.Sandbox.Enabled }
		if err := registry.Register(builtin.ExecuteCode(sandboxManager, enabled, execLimit, cfg.Sandbox.ExecTimeout)); err != nil {
			return err
		}
	}

	searchLimit := &tools.RateLimit{
		Requests: cfg.Tools.SearchRequests,
		Window:   cfg.Tools.SearchWindow,
	}
	if err := registry.Register(builtin.WebSearch(builtin.SearchConfig{
		Endpoint: cfg.Tools.WebSearch.Endpoint,
		APIKey:   cfg.Tools.WebSearch.APIKey,
	}, searchLimit)); err != nil {
		return err
	}

	return registry.Register(builtin.SaveDocument(docs))
}

// buildProvider assembles the primary provider and, when configured, wraps
// it with the single-retry fallback to the secondary.
func buildProvider(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (agent.LLMProvider, error) {
	primary, err := newProvider(cfg.LLM.DefaultProvider, cfg.LLM.Providers[cfg.LLM.DefaultProvider])
	if err != nil {
		return nil, err
	}

	var secondary agent.LLMProvider
	if cfg.LLM.FallbackProvider != "" {
		secondary, err = newProvider(cfg.LLM.FallbackProvider, cfg.LLM.Providers[cfg.LLM.FallbackProvider])
		if err != nil {
			return nil, err
		}
	}

	return agent.NewFallbackClient(primary, secondary, metrics, logger), nil
}

func newProvider(name string, cfg config.LLMProviderConfig) (agent.LLMProvider, error) {
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

func tracingEndpoint(cfg *config.Config) string {
	if !cfg.Tracing.Enabled {
		return ""
	}
	return cfg.Tracing.Endpoint
}
