package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

type stubTool struct {
	name        string
	sensitivity models.Sensitivity
	schema      json.RawMessage
	execFn      func(ctx context.Context, input json.RawMessage) (Result, error)
}

func (s stubTool) Name() string                      { return s.name }
func (s stubTool) Description() string                { return "stub tool for tests" }
func (s stubTool) Schema() json.RawMessage            { return s.schema }
func (s stubTool) Sensitivity() models.Sensitivity    { return s.sensitivity }
func (s stubTool) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	if s.execFn != nil {
		return s.execFn(ctx, input)
	}
	return Result{Output: "ok"}, nil
}

func objectSchema(properties ...string) json.RawMessage {
	props := make(map[string]any, len(properties))
	required := make([]string, 0, len(properties))
	for _, p := range properties {
		props[p] = map[string]any{"type": "string"}
		required = append(required, p)
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	b, _ := json.Marshal(schema)
	return b
}

func TestRegistryRegisterDuplicateName(t *testing.T) {
	r := NewRegistry()
	tool := stubTool{name: "read", schema: objectSchema("path")}
	if err := r.Register(tool); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(tool); err == nil {
		t.Fatal("expected error registering duplicate tool name")
	}
}

func TestRegistryRegisterInvalidSchema(t *testing.T) {
	r := NewRegistry()
	tool := stubTool{name: "broken", schema: json.RawMessage(`{not valid json`)}
	if err := r.Register(tool); err == nil {
		t.Fatal("expected error registering tool with invalid schema")
	}
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()
	tool := stubTool{name: "read", schema: objectSchema("path"), sensitivity: models.SensitivityReadOnly}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, ok := r.Get("read")
	if !ok {
		t.Fatal("expected tool to be found")
	}
	if got.Name() != "read" {
		t.Errorf("Get returned tool named %q, want %q", got.Name(), "read")
	}

	if _, ok := r.Get("nonexistent"); ok {
		t.Error("expected Get to report false for unregistered tool")
	}
}

func TestRegistryManifestFiltersByAllowlist(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"read", "write", "bash"} {
		if err := r.Register(stubTool{name: name, schema: objectSchema()}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	all := r.Manifest(nil)
	if len(all) != 3 {
		t.Fatalf("Manifest(nil) returned %d entries, want 3", len(all))
	}

	filtered := r.Manifest([]string{"read"})
	if len(filtered) != 1 || filtered[0].Name != "read" {
		t.Errorf("Manifest([\"read\"]) = %#v, want single entry named read", filtered)
	}
}

func TestRegistryValidate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(stubTool{name: "read", schema: objectSchema("path")}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.Validate("read", json.RawMessage(`{"path":"/tmp/a"}`)); err != nil {
		t.Errorf("expected valid input to pass, got %v", err)
	}
	if err := r.Validate("read", json.RawMessage(`{}`)); err == nil {
		t.Error("expected missing required field to fail validation")
	}
	if err := r.Validate("read", json.RawMessage(`not json`)); err == nil {
		t.Error("expected malformed JSON to fail validation")
	}
	if err := r.Validate("nonexistent", json.RawMessage(`{}`)); err == nil {
		t.Error("expected unknown tool name to fail validation")
	}
}

func TestRegistryValidateRejectsOversizedInput(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(stubTool{name: "read", schema: objectSchema("path")}); err != nil {
		t.Fatalf("register: %v", err)
	}

	oversized := make([]byte, MaxInputSize+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	if err := r.Validate("read", json.RawMessage(oversized)); err == nil {
		t.Error("expected oversized input to be rejected")
	}
}

func TestRegistryExecuteReturnsErrorResultOnBadInput(t *testing.T) {
	r := NewRegistry()
	called := false
	tool := stubTool{
		name:   "read",
		schema: objectSchema("path"),
		execFn: func(ctx context.Context, input json.RawMessage) (Result, error) {
			called = true
			return Result{Output: "contents"}, nil
		},
	}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := r.Execute(context.Background(), "read", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute returned transport error: %v", err)
	}
	if !result.IsError {
		t.Error("expected validation failure to surface as an error Result")
	}
	if called {
		t.Error("tool Execute should not run when input validation fails")
	}
}

func TestRegistryExecuteDispatchesToTool(t *testing.T) {
	r := NewRegistry()
	tool := stubTool{
		name:   "read",
		schema: objectSchema("path"),
		execFn: func(ctx context.Context, input json.RawMessage) (Result, error) {
			return Result{Output: "file contents"}, nil
		},
	}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := r.Execute(context.Background(), "read", json.RawMessage(`{"path":"/tmp/a"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError || result.Output != "file contents" {
		t.Errorf("Execute result = %#v, want successful output", result)
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	result, err := r.Execute(context.Background(), "nonexistent", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute returned transport error: %v", err)
	}
	if !result.IsError {
		t.Error("expected unknown tool to surface as an error Result")
	}
}

func TestRegistrySensitivity(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(stubTool{name: "bash", schema: objectSchema(), sensitivity: models.SensitivityShellArbitrary}); err != nil {
		t.Fatalf("register: %v", err)
	}

	level, ok := r.Sensitivity("bash")
	if !ok || level != models.SensitivityShellArbitrary {
		t.Errorf("Sensitivity(\"bash\") = %v, %v, want %v, true", level, ok, models.SensitivityShellArbitrary)
	}

	if _, ok := r.Sensitivity("nonexistent"); ok {
		t.Error("expected Sensitivity to report false for unregistered tool")
	}
}
