package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dotmila/mila/internal/core"
	"github.com/dotmila/mila/pkg/log"
	"github.com/xeipuuv/gojsonschema"
)

// Handler runs a tool. Handlers receive the already-validated payload.
type Handler func(ctx context.Context, inv core.ToolInvocation) (string, error)

type Descriptor struct {
	Name        string
	Description string
	Schema      json.RawMessage // JSON Schema for the payload
	Handler     Handler
}

// Registry is a name-keyed map of tool descriptors. Validation (pure) and
// execution (impure) are separate steps; ExecuteTool chains them.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Descriptor
	schemas map[string]*gojsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Descriptor),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", d.Name)
	}

	var schema *gojsonschema.Schema
	if len(d.Schema) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(d.Schema))
		if err != nil {
			return fmt.Errorf("tool %s: invalid schema: %w", d.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[d.Name] = d
	if schema != nil {
		r.schemas[d.Name] = schema
	}
	return nil
}

func (r *Registry) Tools(ctx context.Context) ([]core.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.Tool, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, core.Tool{
			Type: "function",
			Function: core.Function{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Schema,
			},
		})
	}
	return out, nil
}

// Validate checks payload against the tool's schema without executing it.
func (r *Registry) Validate(name string, payload json.RawMessage) error {
	r.mu.RLock()
	_, known := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !known {
		return &core.ToolError{Tool: name, Err: fmt.Errorf("unknown tool")}
	}
	if schema == nil {
		return nil
	}

	doc := payload
	if len(doc) == 0 {
		doc = json.RawMessage("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &core.ToolError{Tool: name, Err: fmt.Errorf("validate: %w", err)}
	}
	if !result.Valid() {
		return &core.ToolError{Tool: name, Err: fmt.Errorf("invalid arguments: %s", result.Errors()[0].String())}
	}
	return nil
}

func (r *Registry) ExecuteTool(ctx context.Context, inv core.ToolInvocation) (string, error) {
	if err := r.Validate(inv.Name, inv.Payload); err != nil {
		return "", err
	}

	r.mu.RLock()
	d := r.tools[inv.Name]
	r.mu.RUnlock()

	log.FromCtx(ctx).Info().
		Str("tool", inv.Name).
		Str("request_id", inv.RequestID).
		Msg("executing tool")

	out, err := d.Handler(ctx, inv)
	if err != nil {
		return "", &core.ToolError{Tool: inv.Name, Err: err}
	}
	return out, nil
}
