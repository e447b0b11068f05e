package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.Orchestrator.MaxToolDepth)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.ToolTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.RetryBackoff())
	assert.Equal(t, 30*time.Minute, cfg.Orchestrator.IdleTimeout())
	assert.Equal(t, 60*time.Second, cfg.Model.Timeout())
	assert.True(t, cfg.Guardrail.Enabled)
	assert.NotEmpty(t, cfg.Guardrail.RefusalMessage)
}

func TestValidate_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tool depth", func(c *Config) { c.Orchestrator.MaxToolDepth = 0 }},
		{"zero tool timeout", func(c *Config) { c.Orchestrator.ToolTimeoutSeconds = 0 }},
		{"negative model retries", func(c *Config) { c.Orchestrator.ModelRetries = -1 }},
		{"zero backoff", func(c *Config) { c.Orchestrator.RetryBackoffMs = 0 }},
		{"zero idle timeout", func(c *Config) { c.Orchestrator.IdleTimeoutSeconds = 0 }},
		{"empty default model", func(c *Config) { c.Model.Default = "" }},
		{"temperature out of range", func(c *Config) { c.Model.Temperature = 1.5 }},
		{"bad provider", func(c *Config) {
			c.Model.Profiles = []ModelProfile{{ID: "p1", Provider: "gemini", APIKey: "k"}}
		}},
		{"missing api key", func(c *Config) {
			c.Model.Profiles = []ModelProfile{{ID: "p1", Provider: "openai"}}
		}},
		{"duplicate profile id", func(c *Config) {
			c.Model.Profiles = []ModelProfile{
				{ID: "p1", Provider: "openai", APIKey: "a"},
				{ID: "p1", Provider: "anthropic", APIKey: "b"},
			}
		}},
		{"bad blocked pattern", func(c *Config) { c.Guardrail.BlockedPatterns = []string{"[unclosed"} }},
		{"bad redact pattern", func(c *Config) { c.Guardrail.RedactPatterns = []string{"(?P<"} }},
		{"empty refusal", func(c *Config) { c.Guardrail.RefusalMessage = "" }},
		{"bad port", func(c *Config) { c.Gateway.Port = 70000 }},
		{"zero trace buffer", func(c *Config) { c.Trace.BufferSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_ValidProfiles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Profiles = []ModelProfile{
		{ID: "main", Provider: "anthropic", APIKey: "sk-ant-test", Priority: 1},
		{ID: "fallback", Provider: "openai", APIKey: "sk-test", Priority: 2},
	}
	assert.NoError(t, cfg.Validate())
}
