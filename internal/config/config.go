package config

import (
	"encoding/json"
	"time"
)

// Config represents the main Sundesk configuration
type Config struct {
	// Data directory for databases, sessions and traces
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Model provider profiles
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Orchestrator turn-loop limits and retry policy
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`

	// Guardrail policy
	Guardrail GuardrailConfig `json:"guardrail" mapstructure:"guardrail"`

	// Memory fact store
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Ticket escalation store
	Ticket TicketConfig `json:"ticket" mapstructure:"ticket"`

	// Knowledge base index
	Knowledge KnowledgeConfig `json:"knowledge" mapstructure:"knowledge"`

	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Trace sink
	Trace TraceConfig `json:"trace" mapstructure:"trace"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ModelConfig holds model backend configuration
type ModelConfig struct {
	Profiles       []ModelProfile `json:"profiles" mapstructure:"profiles"`
	Default        string         `json:"default" mapstructure:"default"`
	Temperature    float64        `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int            `json:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSeconds int            `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ModelProfile represents one model provider credential set
type ModelProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"` // optional, for OpenAI-compatible endpoints
	Priority int    `json:"priority" mapstructure:"priority"`
}

// OrchestratorConfig bounds the per-turn tool loop and retry behavior
type OrchestratorConfig struct {
	MaxToolDepth       int `json:"max_tool_depth" mapstructure:"max_tool_depth"`
	ToolTimeoutSeconds int `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
	ModelRetries       int `json:"model_retries" mapstructure:"model_retries"`
	ToolRetries        int `json:"tool_retries" mapstructure:"tool_retries"`
	RetryBackoffMs     int `json:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	IdleTimeoutSeconds int `json:"idle_timeout_seconds" mapstructure:"idle_timeout_seconds"`
	MaxMemoryFacts     int `json:"max_memory_facts" mapstructure:"max_memory_facts"`
}

// ToolTimeout returns the per-tool dispatch timeout
func (o OrchestratorConfig) ToolTimeout() time.Duration {
	return time.Duration(o.ToolTimeoutSeconds) * time.Second
}

// RetryBackoff returns the base backoff between retries
func (o OrchestratorConfig) RetryBackoff() time.Duration {
	return time.Duration(o.RetryBackoffMs) * time.Millisecond
}

// IdleTimeout returns the idle-session timeout
func (o OrchestratorConfig) IdleTimeout() time.Duration {
	return time.Duration(o.IdleTimeoutSeconds) * time.Second
}

// ModelTimeout returns the model invocation timeout
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// GuardrailConfig holds content policy configuration
type GuardrailConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	BlockedKeywords []string `json:"blocked_keywords" mapstructure:"blocked_keywords"`
	BlockedPatterns []string `json:"blocked_patterns" mapstructure:"blocked_patterns"`
	RedactPatterns  []string `json:"redact_patterns" mapstructure:"redact_patterns"`
	RefusalMessage  string   `json:"refusal_message" mapstructure:"refusal_message"`
}

// MemoryConfig holds fact store configuration
type MemoryConfig struct {
	DBPath string `json:"db_path" mapstructure:"db_path"`
}

// TicketConfig holds ticket store configuration
type TicketConfig struct {
	DBPath string `json:"db_path" mapstructure:"db_path"`
}

// KnowledgeConfig holds knowledge base configuration
type KnowledgeConfig struct {
	DocsPath   string `json:"docs_path" mapstructure:"docs_path"`
	DBPath     string `json:"db_path" mapstructure:"db_path"`
	Embeddings bool   `json:"embeddings" mapstructure:"embeddings"`
}

// GatewayConfig holds chat gateway server configuration
type GatewayConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// TraceConfig holds trace sink configuration
type TraceConfig struct {
	File       string `json:"file" mapstructure:"file"`
	BufferSize int    `json:"buffer_size" mapstructure:"buffer_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Default:        "claude-sonnet-4",
			Temperature:    0.3,
			MaxTokens:      4096,
			TimeoutSeconds: 60,
		},
		Orchestrator: OrchestratorConfig{
			MaxToolDepth:       5,
			ToolTimeoutSeconds: 30,
			ModelRetries:       2,
			ToolRetries:        2,
			RetryBackoffMs:     500,
			IdleTimeoutSeconds: 1800,
			MaxMemoryFacts:     20,
		},
		Guardrail: GuardrailConfig{
			Enabled:        true,
			RefusalMessage: "I can't help with that request. Please contact support if you believe this is a mistake.",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Trace: TraceConfig{
			BufferSize: 1024,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
