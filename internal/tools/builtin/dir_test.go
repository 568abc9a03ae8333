package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func seedTree(t *testing.T, root string) {
	t.Helper()
	files := map[string]string{
		"a.go":        "package main\n\nfunc main() {}\n",
		"b.go":        "package main\n\n// TODO fix this\n",
		"sub/c.go":    "package sub\n",
		"sub/readme": "not go",
	}
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write seed file %s: %v", rel, err)
		}
	}
}

func TestGlobToolExecute(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)

	tool := NewGlobTool(FSConfig{Workspace: root})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"**/*.go"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Output)
	}
	for _, want := range []string{"a.go", "b.go", "sub/c.go"} {
		if !strings.Contains(result.Output, want) {
			t.Errorf("Execute output missing %q: %s", want, result.Output)
		}
	}
	if strings.Contains(result.Output, "readme") {
		t.Errorf("Execute output should not match non-.go files: %s", result.Output)
	}
}

func TestGlobToolExecuteInvalidPattern(t *testing.T) {
	tool := NewGlobTool(FSConfig{Workspace: t.TempDir()})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"["}`))
	if err != nil {
		t.Fatalf("Execute returned transport error: %v", err)
	}
	if !result.IsError {
		t.Error("expected invalid glob pattern to surface as an error result")
	}
}

func TestLsToolExecuteDefaultsToRoot(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)

	tool := NewLsTool(FSConfig{Workspace: root})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Output)
	}
	if !strings.Contains(result.Output, "a.go") || !strings.Contains(result.Output, "sub") {
		t.Errorf("Execute output = %q, want top-level entries listed", result.Output)
	}
}

func TestLsToolExecuteMissingDirectory(t *testing.T) {
	tool := NewLsTool(FSConfig{Workspace: t.TempDir()})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"nope"}`))
	if err != nil {
		t.Fatalf("Execute returned transport error: %v", err)
	}
	if !result.IsError {
		t.Error("expected missing directory to surface as an error result")
	}
}

func TestGrepToolExecuteFindsMatches(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)

	tool := NewGrepTool(FSConfig{Workspace: root})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"TODO"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Output)
	}
	if !strings.Contains(result.Output, "b.go") {
		t.Errorf("Execute output = %q, want match in b.go", result.Output)
	}
	if strings.Contains(result.Output, `"path": "a.go"`) {
		t.Errorf("Execute output = %q, should not match a.go", result.Output)
	}
}

func TestGrepToolExecuteIgnoreCase(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)

	tool := NewGrepTool(FSConfig{Workspace: root})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"todo","ignore_case":true}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Output, "b.go") {
		t.Errorf("Execute output = %q, want case-insensitive match in b.go", result.Output)
	}
}

func TestGrepToolExecuteInvalidRegex(t *testing.T) {
	tool := NewGrepTool(FSConfig{Workspace: t.TempDir()})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"("}`))
	if err != nil {
		t.Fatalf("Execute returned transport error: %v", err)
	}
	if !result.IsError {
		t.Error("expected invalid regex to surface as an error result")
	}
}
