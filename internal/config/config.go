// Package config loads and validates the Parley server configuration.
//
// Configuration is a single YAML file with environment variable expansion.
// Validation happens once at startup: anything that would make a request fail
// deterministically later (missing JWT secret, missing credential for a tool
// declared mandatory) is rejected at boot instead of per-request.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Parley.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	LLM      LLMConfig      `yaml:"llm"`
	Context  ContextConfig  `yaml:"context"`
	Limits   LimitsConfig   `yaml:"limits"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Tools    ToolsConfig    `yaml:"tools"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	// URL is a Postgres connection string for conversation storage.
	// Empty means the in-memory store is used.
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// CounterPath is the SQLite file backing rate-limit counters.
	// Empty means counters are kept in process memory.
	CounterPath string `yaml:"counter_path"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type LLMConfig struct {
	// DefaultProvider is the primary provider name (anthropic, openai).
	DefaultProvider string `yaml:"default_provider"`

	// FallbackProvider, when set, receives exactly one retry after a
	// retryable failure of the primary provider.
	FallbackProvider string `yaml:"fallback_provider"`

	Providers map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// ContextConfig holds token-budget parameters for context assembly.
// The numbers are product tuning values, deliberately configuration rather
// than constants.
type ContextConfig struct {
	// Window is the provider context window in tokens.
	Window int `yaml:"window"`

	// ReservedOutput is the token budget reserved for the model's response.
	ReservedOutput int `yaml:"reserved_output"`

	// MemoryTokens is the sub-budget for long-term memory snippets.
	MemoryTokens int `yaml:"memory_tokens"`

	// DocumentTokens is the sub-budget for retrieved document snippets.
	DocumentTokens int `yaml:"document_tokens"`

	// MaxMessages caps the number of history messages per assembly.
	MaxMessages int `yaml:"max_messages"`
}

type LimitsConfig struct {
	// ChatRequests is the global per-user chat limit per window.
	ChatRequests int           `yaml:"chat_requests"`
	ChatWindow   time.Duration `yaml:"chat_window"`

	// MaxToolIterations bounds the provider/tool round-trip loop per turn.
	MaxToolIterations int `yaml:"max_tool_iterations"`

	// TurnTimeout bounds a whole turn's wall time.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

type SandboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`

	// IdleTimeout is the backstop for sandbox release when the explicit
	// release signal is lost.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	ExecTimeout time.Duration `yaml:"exec_timeout"`
}

type ToolsConfig struct {
	WebSearch WebSearchConfig `yaml:"web_search"`

	// Mandatory lists tool names that must be available at boot. A missing
	// credential for a mandatory tool is a startup error, not a per-request
	// discovery.
	Mandatory []string `yaml:"mandatory"`

	// CodeExecRequests / CodeExecWindow is the per-tool limit for execute_code.
	CodeExecRequests int           `yaml:"code_exec_requests"`
	CodeExecWindow   time.Duration `yaml:"code_exec_window"`

	// SearchRequests / SearchWindow is the per-tool limit for web_search.
	SearchRequests int           `yaml:"search_requests"`
	SearchWindow   time.Duration `yaml:"search_window"`
}

type WebSearchConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// Output is "stdout", "stderr", or "file:<path>".
	Output string `yaml:"output"`

	BufferSize   int `yaml:"buffer_size"`
	MaxFieldSize int `yaml:"max_field_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Context.Window == 0 {
		cfg.Context.Window = 128000
	}
	if cfg.Context.ReservedOutput == 0 {
		cfg.Context.ReservedOutput = 4096
	}
	if cfg.Context.MemoryTokens == 0 {
		cfg.Context.MemoryTokens = 2000
	}
	if cfg.Context.DocumentTokens == 0 {
		cfg.Context.DocumentTokens = 4000
	}
	if cfg.Context.MaxMessages == 0 {
		cfg.Context.MaxMessages = 60
	}
	if cfg.Limits.ChatRequests == 0 {
		cfg.Limits.ChatRequests = 60
	}
	if cfg.Limits.ChatWindow == 0 {
		cfg.Limits.ChatWindow = time.Hour
	}
	if cfg.Limits.MaxToolIterations == 0 {
		cfg.Limits.MaxToolIterations = 10
	}
	if cfg.Limits.TurnTimeout == 0 {
		cfg.Limits.TurnTimeout = 5 * time.Minute
	}
	if cfg.Sandbox.IdleTimeout == 0 {
		cfg.Sandbox.IdleTimeout = 5 * time.Minute
	}
	if cfg.Sandbox.ExecTimeout == 0 {
		cfg.Sandbox.ExecTimeout = 30 * time.Second
	}
	if cfg.Tools.CodeExecRequests == 0 {
		cfg.Tools.CodeExecRequests = 100
	}
	if cfg.Tools.CodeExecWindow == 0 {
		cfg.Tools.CodeExecWindow = time.Hour
	}
	if cfg.Tools.SearchRequests == 0 {
		cfg.Tools.SearchRequests = 120
	}
	if cfg.Tools.SearchWindow == 0 {
		cfg.Tools.SearchWindow = time.Hour
	}
	if cfg.Audit.Output == "" {
		cfg.Audit.Output = "stdout"
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 1000
	}
	if cfg.Audit.MaxFieldSize == 0 {
		cfg.Audit.MaxFieldSize = 1024
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for startup-time errors. It fails fast on
// anything that would otherwise surface as a deterministic per-request error.
func Validate(cfg *Config) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required; anonymous access is not supported")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	primary, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
	if !ok || primary.APIKey == "" {
		return fmt.Errorf("llm.providers.%s.api_key is required for the default provider", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.FallbackProvider != "" {
		fallback, ok := cfg.LLM.Providers[cfg.LLM.FallbackProvider]
		if !ok || fallback.APIKey == "" {
			return fmt.Errorf("llm.providers.%s.api_key is required for the fallback provider", cfg.LLM.FallbackProvider)
		}
	}

	if cfg.Context.ReservedOutput >= cfg.Context.Window {
		return fmt.Errorf("context.reserved_output (%d) must be smaller than context.window (%d)",
			cfg.Context.ReservedOutput, cfg.Context.Window)
	}

	for _, name := range cfg.Tools.Mandatory {
		switch name {
		case "execute_code":
			if !cfg.Sandbox.Enabled || cfg.Sandbox.BaseURL == "" {
				return fmt.Errorf("tool %q is mandatory but sandbox.base_url is not configured", name)
			}
		case "web_search":
			if cfg.Tools.WebSearch.Endpoint == "" {
				return fmt.Errorf("tool %q is mandatory but tools.web_search.endpoint is not configured", name)
			}
		case "save_document":
			// Backed by the document store; always available.
		default:
			return fmt.Errorf("unknown mandatory tool %q", name)
		}
	}

	return nil
}
