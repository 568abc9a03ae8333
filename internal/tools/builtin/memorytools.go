package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ainoobmenpg/cc-gateway/internal/memory"
	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/tools"
)

// defaultNamespace is used when a memory call omits one. The memory tools
// receive no session information, so an omitted namespace is always this
// constant, not the session's channel scope.
const defaultNamespace = "default"

// MemoryPutTool stores a (namespace, key) -> value entry (spec §3, §4.3,
// sensitivity level 1 — it only writes to the gateway's own memory store,
// never the workspace filesystem, so it carries no elevated approval gate).
type MemoryPutTool struct {
	store memory.Store
}

// NewMemoryPutTool builds a memory_put tool backed by store.
func NewMemoryPutTool(store memory.Store) *MemoryPutTool {
	return &MemoryPutTool{store: store}
}

func (t *MemoryPutTool) Name() string        { return "memory_put" }
func (t *MemoryPutTool) Description() string { return "Store a value under a namespace and key in durable memory." }
func (t *MemoryPutTool) Sensitivity() models.Sensitivity { return models.SensitivityReadOnly }

func (t *MemoryPutTool) Schema() json.RawMessage {
	return schemaOrFallback(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"namespace": map[string]interface{}{"type": "string", "description": "Memory namespace (default: \"default\")."},
			"key":       map[string]interface{}{"type": "string", "description": "Key to store the value under."},
			"value":     map[string]interface{}{"type": "string", "description": "Value to store."},
		},
		"required": []string{"key", "value"},
	})
}

func (t *MemoryPutTool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Namespace string `json:"namespace"`
		Key       string `json:"key"`
		Value     string `json:"value"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult("invalid parameters: %v", err)
	}
	if strings.TrimSpace(input.Key) == "" {
		return errResult("key is required")
	}
	namespace := input.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	if err := t.store.Put(ctx, namespace, input.Key, input.Value); err != nil {
		return errResult("memory put: %v", err)
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"namespace": namespace,
		"key":       input.Key,
		"stored":    true,
	}, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err)
	}
	return tools.Result{Output: string(payload)}, nil
}

// MemoryGetTool retrieves a (namespace, key) -> value entry (spec §3, §4.3,
// sensitivity level 1).
type MemoryGetTool struct {
	store memory.Store
}

// NewMemoryGetTool builds a memory_get tool backed by store.
func NewMemoryGetTool(store memory.Store) *MemoryGetTool {
	return &MemoryGetTool{store: store}
}

func (t *MemoryGetTool) Name() string        { return "memory_get" }
func (t *MemoryGetTool) Description() string { return "Retrieve a value previously stored with memory_put." }
func (t *MemoryGetTool) Sensitivity() models.Sensitivity { return models.SensitivityReadOnly }

func (t *MemoryGetTool) Schema() json.RawMessage {
	return schemaOrFallback(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"namespace": map[string]interface{}{"type": "string", "description": "Memory namespace (default: \"default\")."},
			"key":       map[string]interface{}{"type": "string", "description": "Key to look up."},
		},
		"required": []string{"key"},
	})
}

func (t *MemoryGetTool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Namespace string `json:"namespace"`
		Key       string `json:"key"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult("invalid parameters: %v", err)
	}
	if strings.TrimSpace(input.Key) == "" {
		return errResult("key is required")
	}
	namespace := input.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	entry, err := t.store.Get(ctx, namespace, input.Key)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return errResult("no entry for namespace %q key %q", namespace, input.Key)
		}
		return errResult("memory get: %v", err)
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"namespace":  entry.Namespace,
		"key":        entry.Key,
		"value":      entry.Value,
		"updated_at": entry.UpdatedAt,
	}, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err)
	}
	return tools.Result{Output: string(payload)}, nil
}
