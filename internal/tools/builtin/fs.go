package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/tools"
)

// FSConfig controls filesystem tool defaults (grounded on the teacher's
// tools/files.Config).
type FSConfig struct {
	Workspace    string
	MaxReadBytes int
}

func schemaOrFallback(schema map[string]interface{}) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func errResult(format string, args ...interface{}) (tools.Result, error) {
	return tools.Result{Output: fmt.Sprintf(format, args...), IsError: true}, nil
}

// ReadTool reads a file from the workspace with an optional offset and byte
// cap (spec §4.3, sensitivity level 1).
type ReadTool struct {
	resolver   Resolver
	maxReadLen int
}

// NewReadTool creates a read tool scoped to cfg.Workspace.
func NewReadTool(cfg FSConfig) *ReadTool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = 200_000
	}
	return &ReadTool{resolver: Resolver{Root: cfg.Workspace}, maxReadLen: limit}
}

func (t *ReadTool) Name() string        { return "read" }
func (t *ReadTool) Description() string { return "Read a file from the workspace with optional offset and byte limit." }
func (t *ReadTool) Sensitivity() models.Sensitivity { return models.SensitivityReadOnly }

func (t *ReadTool) Schema() json.RawMessage {
	return schemaOrFallback(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":      map[string]interface{}{"type": "string", "description": "Path to the file (relative to workspace)."},
			"offset":    map[string]interface{}{"type": "integer", "minimum": 0, "description": "Byte offset to start reading from (default: 0)."},
			"max_bytes": map[string]interface{}{"type": "integer", "minimum": 0, "description": "Maximum bytes to read (capped by tool default)."},
		},
		"required": []string{"path"},
	})
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult("invalid parameters: %v", err)
	}
	if strings.TrimSpace(input.Path) == "" {
		return errResult("path is required")
	}
	if input.Offset < 0 {
		return errResult("offset must be >= 0")
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return errResult("%v", err)
	}

	file, err := os.Open(resolved)
	if err != nil {
		return errResult("open file: %v", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errResult("stat file: %v", err)
	}

	if input.Offset > 0 {
		if _, err := file.Seek(input.Offset, io.SeekStart); err != nil {
			return errResult("seek file: %v", err)
		}
	}

	limit := t.maxReadLen
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}

	remaining := int64(limit)
	if size := info.Size(); size > 0 {
		remaining = size - input.Offset
		if remaining < 0 {
			remaining = 0
		}
		if remaining > int64(limit) {
			remaining = int64(limit)
		}
	}

	buf, err := io.ReadAll(io.LimitReader(file, remaining))
	if err != nil {
		return errResult("read file: %v", err)
	}

	truncated := info.Size() > 0 && input.Offset+int64(len(buf)) < info.Size()

	payload, err := json.MarshalIndent(map[string]interface{}{
		"path":      input.Path,
		"content":   string(buf),
		"offset":    input.Offset,
		"bytes":     len(buf),
		"truncated": truncated,
	}, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err)
	}
	return tools.Result{Output: string(payload)}, nil
}

// WriteTool writes content to a file in the workspace, overwriting by
// default (spec §4.3, sensitivity level 4).
type WriteTool struct {
	resolver Resolver
}

// NewWriteTool creates a write tool scoped to cfg.Workspace.
func NewWriteTool(cfg FSConfig) *WriteTool {
	return &WriteTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *WriteTool) Name() string        { return "write" }
func (t *WriteTool) Description() string { return "Write content to a file in the workspace (overwrites by default)." }
func (t *WriteTool) Sensitivity() models.Sensitivity { return models.SensitivityLocalWrite }

func (t *WriteTool) Schema() json.RawMessage {
	return schemaOrFallback(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string", "description": "Path to write (relative to workspace)."},
			"content": map[string]interface{}{"type": "string", "description": "File contents to write."},
			"append":  map[string]interface{}{"type": "boolean", "description": "Append instead of overwrite (default: false)."},
		},
		"required": []string{"path", "content"},
	})
}

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult("invalid parameters: %v", err)
	}
	if strings.TrimSpace(input.Path) == "" {
		return errResult("path is required")
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return errResult("%v", err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return errResult("create directory: %v", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if input.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return errResult("open file: %v", err)
	}
	defer file.Close()

	n, err := file.WriteString(input.Content)
	if err != nil {
		return errResult("write file: %v", err)
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"path":          input.Path,
		"bytes_written": n,
		"append":        input.Append,
	}, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err)
	}
	return tools.Result{Output: string(payload)}, nil
}

// EditTool applies one or more find/replace edits to a file in the
// workspace (spec §4.3, sensitivity level 3).
type EditTool struct {
	resolver Resolver
}

// NewEditTool creates an edit tool scoped to cfg.Workspace.
func NewEditTool(cfg FSConfig) *EditTool {
	return &EditTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *EditTool) Name() string        { return "edit" }
func (t *EditTool) Description() string { return "Apply one or more find/replace edits to a file in the workspace." }
func (t *EditTool) Sensitivity() models.Sensitivity { return models.SensitivityLocalEdit }

func (t *EditTool) Schema() json.RawMessage {
	return schemaOrFallback(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Path to edit (relative to workspace)."},
			"edits": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"old_text":    map[string]interface{}{"type": "string", "description": "Text to replace."},
						"new_text":    map[string]interface{}{"type": "string", "description": "Replacement text."},
						"replace_all": map[string]interface{}{"type": "boolean", "description": "Replace all occurrences (default: false)."},
					},
					"required": []string{"old_text", "new_text"},
				},
			},
		},
		"required": []string{"path", "edits"},
	})
}

func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Path  string `json:"path"`
		Edits []struct {
			OldText    string `json:"old_text"`
			NewText    string `json:"new_text"`
			ReplaceAll bool   `json:"replace_all"`
		} `json:"edits"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult("invalid parameters: %v", err)
	}
	if strings.TrimSpace(input.Path) == "" {
		return errResult("path is required")
	}
	if len(input.Edits) == 0 {
		return errResult("edits are required")
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return errResult("%v", err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return errResult("read file: %v", err)
	}

	content := string(data)
	replacements := 0
	for _, edit := range input.Edits {
		if edit.OldText == "" {
			return errResult("old_text is required")
		}
		if !strings.Contains(content, edit.OldText) {
			return errResult("old_text not found")
		}
		if edit.ReplaceAll {
			count := strings.Count(content, edit.OldText)
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
			replacements += count
		} else {
			content = strings.Replace(content, edit.OldText, edit.NewText, 1)
			replacements++
		}
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return errResult("write file: %v", err)
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"path":         input.Path,
		"replacements": replacements,
	}, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err)
	}
	return tools.Result{Output: string(payload)}, nil
}
