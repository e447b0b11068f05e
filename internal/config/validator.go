package config

import (
	"fmt"
	"regexp"
)

var validProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
}

// Validate checks if the configuration is valid. It is called once at
// startup; the config is immutable for the process lifetime afterwards.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxToolDepth <= 0 {
		return fmt.Errorf("orchestrator.max_tool_depth must be positive, got %d", c.Orchestrator.MaxToolDepth)
	}
	if c.Orchestrator.ToolTimeoutSeconds <= 0 {
		return fmt.Errorf("orchestrator.tool_timeout_seconds must be positive, got %d", c.Orchestrator.ToolTimeoutSeconds)
	}
	if c.Orchestrator.ModelRetries < 0 {
		return fmt.Errorf("orchestrator.model_retries cannot be negative")
	}
	if c.Orchestrator.ToolRetries < 0 {
		return fmt.Errorf("orchestrator.tool_retries cannot be negative")
	}
	if c.Orchestrator.RetryBackoffMs <= 0 {
		return fmt.Errorf("orchestrator.retry_backoff_ms must be positive")
	}
	if c.Orchestrator.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("orchestrator.idle_timeout_seconds must be positive")
	}
	if c.Orchestrator.MaxMemoryFacts <= 0 {
		return fmt.Errorf("orchestrator.max_memory_facts must be positive")
	}

	if c.Model.Default == "" {
		return fmt.Errorf("model.default cannot be empty")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1, got %v", c.Model.Temperature)
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model.max_tokens must be positive")
	}
	if c.Model.TimeoutSeconds <= 0 {
		return fmt.Errorf("model.timeout_seconds must be positive")
	}
	seen := map[string]bool{}
	for i, p := range c.Model.Profiles {
		if p.ID == "" {
			return fmt.Errorf("model.profiles[%d]: id cannot be empty", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("model.profiles[%d]: duplicate profile id %q", i, p.ID)
		}
		seen[p.ID] = true
		if !validProviders[p.Provider] {
			return fmt.Errorf("model.profiles[%d]: unsupported provider %q", i, p.Provider)
		}
		if p.APIKey == "" {
			return fmt.Errorf("model.profiles[%d]: api_key cannot be empty", i)
		}
	}

	for i, pattern := range c.Guardrail.BlockedPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("guardrail.blocked_patterns[%d]: %w", i, err)
		}
	}
	for i, pattern := range c.Guardrail.RedactPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("guardrail.redact_patterns[%d]: %w", i, err)
		}
	}
	if c.Guardrail.RefusalMessage == "" {
		return fmt.Errorf("guardrail.refusal_message cannot be empty")
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}
	if c.Trace.BufferSize <= 0 {
		return fmt.Errorf("trace.buffer_size must be positive")
	}

	return nil
}
