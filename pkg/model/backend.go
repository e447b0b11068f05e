package model

import (
	"context"
	"fmt"

	"github.com/sundesk/sundesk/internal/config"
)

// Backend is the opaque completion function the orchestrator calls once
// per reasoning step. It either returns a final answer or an ordered
// list of tool-call requests; everything behind it is a black box.
type Backend interface {
	// Complete makes one model invocation
	Complete(ctx context.Context, request Request) (*Response, error)

	// Provider returns the provider name
	Provider() string
}

// Factory creates backends from configured provider profiles
type Factory struct{}

// NewBackend creates a backend for the given profile
func (f *Factory) NewBackend(profile config.ModelProfile) (Backend, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicBackend(profile.APIKey), nil
	case "openai":
		return NewOpenAIBackend(profile.APIKey, profile.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// BackendCreator creates backends from provider profiles.
type BackendCreator interface {
	NewBackend(profile config.ModelProfile) (Backend, error)
}
