package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sundesk/sundesk/internal/config"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429 Too Many Requests"), true},
		{"rate limit text", errors.New("rate limit exceeded"), true},
		{"server error", errors.New("503 Service Unavailable"), true},
		{"gateway timeout", errors.New("504 Gateway Timeout"), true},
		{"connection reset", errors.New("read tcp: ECONNRESET"), true},
		{"deadline", errors.New("context deadline exceeded"), true},
		{"bad request", errors.New("400 invalid request body"), false},
		{"auth failure", errors.New("401 unauthorized"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestFactory_NewBackend(t *testing.T) {
	f := &Factory{}

	b, err := f.NewBackend(config.ModelProfile{Provider: "anthropic", APIKey: "k"})
	assert.NoError(t, err)
	assert.Equal(t, "anthropic", b.Provider())

	b, err = f.NewBackend(config.ModelProfile{Provider: "openai", APIKey: "k"})
	assert.NoError(t, err)
	assert.Equal(t, "openai", b.Provider())

	_, err = f.NewBackend(config.ModelProfile{Provider: "mainframe", APIKey: "k"})
	assert.Error(t, err)
}
