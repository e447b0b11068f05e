package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sundesk/sundesk/internal/observability"
	"github.com/sundesk/sundesk/pkg/model"
)

var (
	// ErrNotFound is returned when dispatching an unregistered tool.
	ErrNotFound = errors.New("tool not found")

	// ErrSchemaMismatch is returned when input fails schema validation.
	// The handler is never invoked in that case.
	ErrSchemaMismatch = errors.New("input does not match tool schema")
)

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Parameter defines one input parameter of a tool
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// Definition declares a tool: its input schema and whether invoking it
// mutates external state. Side-effecting tools must be safe to call
// with the same idempotency key more than once; that contract is
// enforced by the caller, not here.
type Definition struct {
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Parameters    []Parameter `json:"parameters"`
	SideEffecting bool        `json:"side_effecting"`
	Handler       Handler     `json:"-"`
}

// Outcome is the result of one tool dispatch
type Outcome struct {
	Output   interface{}   `json:"output,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the dispatch succeeded
func (o Outcome) OK() bool {
	return o.Err == nil
}

// DispatchOptions carries per-dispatch runtime settings
type DispatchOptions struct {
	// Timeout bounds handler execution; zero means the registry default.
	Timeout time.Duration

	// IdempotencyKey is threaded to the handler via context for
	// side-effecting tools so retried dispatches converge.
	IdempotencyKey string
}

type idempotencyKeyCtx struct{}

// IdempotencyKeyFromContext returns the dispatch idempotency key, if any
func IdempotencyKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return key
}

const defaultDispatchTimeout = 30 * time.Second

// Registry declares available tools and dispatches calls to them after
// validating inputs against each tool's JSON schema.
type Registry struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	observability.EnsureRegistered()
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register registers a new tool
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s is already registered", def.Name)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Bool("side_effecting", def.SideEffecting).Msg("Tool registered")

	return nil
}

// Get returns a tool definition by name, or nil
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Schemas returns the declared tool surface in the form the model
// backend consumes.
func (r *Registry) Schemas() []model.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]model.ToolSchema, 0, len(r.tools))
	for _, def := range r.tools {
		schemas = append(schemas, model.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchemaMap(*def),
		})
	}
	return schemas
}

// Dispatch validates input against the tool's schema and invokes the
// handler. On validation failure the handler is not invoked and the
// outcome error wraps ErrSchemaMismatch.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]interface{}, opts DispatchOptions) Outcome {
	start := time.Now()

	r.mu.RLock()
	def := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if def == nil {
		log.Error().Str("tool", name).Msg("Tool not found")
		return Outcome{Err: fmt.Errorf("%w: %s", ErrNotFound, name), Duration: time.Since(start)}
	}

	if err := validateParams(schema, params); err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("Input validation failed")
		observability.RecordToolDispatch(name, time.Since(start), false)
		return Outcome{Err: fmt.Errorf("%w: %v", ErrSchemaMismatch, err), Duration: time.Since(start)}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if opts.IdempotencyKey != "" {
		timeoutCtx = context.WithValue(timeoutCtx, idempotencyKeyCtx{}, opts.IdempotencyKey)
	}

	log.Debug().Str("tool", name).Msg("Dispatching tool")

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := def.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(start)
		observability.RecordToolDispatch(name, duration, true)
		log.Debug().Str("tool", name).Dur("duration", duration).Msg("Tool dispatch completed")
		return Outcome{Output: result, Duration: duration}

	case err := <-errChan:
		duration := time.Since(start)
		observability.RecordToolDispatch(name, duration, false)
		log.Error().Str("tool", name).Dur("duration", duration).Err(err).Msg("Tool dispatch failed")
		return Outcome{Err: err, Duration: duration}

	case <-timeoutCtx.Done():
		duration := time.Since(start)
		observability.RecordToolDispatch(name, duration, false)
		log.Error().Str("tool", name).Dur("duration", duration).Msg("Tool dispatch timeout")
		return Outcome{
			Err:      fmt.Errorf("tool dispatch timeout after %v: %w", timeout, timeoutCtx.Err()),
			Duration: duration,
		}
	}
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
	}

	return nil
}

// inputSchemaMap builds the JSON-schema document for a definition
func inputSchemaMap(def Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	loader := gojsonschema.NewGoLoader(inputSchemaMap(def))
	return gojsonschema.NewSchema(loader)
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errs []string
		for _, verr := range result.Errors() {
			errs = append(errs, verr.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}
