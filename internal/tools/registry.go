package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

// MaxInputSize bounds a tool call's raw JSON input (spec §4.3), protecting
// against a misbehaving provider flooding the dispatcher with oversized
// payloads.
const MaxInputSize = 1 << 20 // 1MB

// Registry holds the set of tools available to a turn, keyed by unique
// name, and validates every input against the tool's declared JSON Schema
// before dispatch (spec §4.3).
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds tool to the registry. Returns an error if a tool by the
// same name is already registered (spec §4.3: tool names are unique) or if
// its schema fails to compile.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tools: %q already registered", tool.Name())
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(tool.Name()+".json", bytes.NewReader(tool.Schema())); err != nil {
		return fmt.Errorf("tools: add schema resource for %q: %w", tool.Name(), err)
	}
	schema, err := compiler.Compile(tool.Name() + ".json")
	if err != nil {
		return fmt.Errorf("tools: compile schema for %q: %w", tool.Name(), err)
	}

	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = schema
	return nil
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Manifest returns the provider-facing description of every registered
// tool, filtered to names in allowlist when non-empty (spec §3 Session
// ToolAllowlist).
func (r *Registry) Manifest(allowlist []string) []models.ToolManifestEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed := toSet(allowlist)
	out := make([]models.ToolManifestEntry, 0, len(r.tools))
	for name, t := range r.tools {
		if len(allowed) > 0 && !allowed[name] {
			continue
		}
		out = append(out, models.ToolManifestEntry{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	return out
}

// Validate checks input against name's compiled JSON Schema.
func (r *Registry) Validate(name string, input json.RawMessage) error {
	if len(input) > MaxInputSize {
		return fmt.Errorf("tools: input for %q exceeds %d bytes", name, MaxInputSize)
	}

	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("tools: unknown tool %q", name)
	}

	var doc any
	if len(input) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(input, &doc); err != nil {
		return fmt.Errorf("tools: input for %q is not valid JSON: %w", name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("tools: input for %q failed schema validation: %w", name, err)
	}
	return nil
}

// Execute validates input then dispatches to the named tool.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (Result, error) {
	if err := r.Validate(name, input); err != nil {
		return Result{Output: err.Error(), IsError: true}, nil
	}
	tool, ok := r.Get(name)
	if !ok {
		return Result{Output: "tool not found: " + name, IsError: true}, nil
	}
	return tool.Execute(ctx, input)
}

// Sensitivity returns the sensitivity tier of a registered tool.
func (r *Registry) Sensitivity(name string) (models.Sensitivity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return 0, false
	}
	return t.Sensitivity(), true
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
