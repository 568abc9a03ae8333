package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestApplyPatchToolExecute(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("line one\nline two\nline three\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	patch := "--- a/a.txt\n" +
		"+++ b/a.txt\n" +
		"@@ -1,3 +1,3 @@\n" +
		" line one\n" +
		"-line two\n" +
		"+line TWO\n" +
		" line three\n"

	tool := NewApplyPatchTool(FSConfig{Workspace: root})
	input, err := json.Marshal(map[string]string{"patch": patch})
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	result, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Output)
	}

	content, err := os.ReadFile(filepath.Join(root, "a.txt"))
	if err != nil {
		t.Fatalf("read patched file: %v", err)
	}
	if !strings.Contains(string(content), "line TWO") {
		t.Errorf("patched content = %q, want replacement applied", content)
	}
}

func TestApplyPatchToolExecuteMissingPlusHeader(t *testing.T) {
	tool := NewApplyPatchTool(FSConfig{Workspace: t.TempDir()})
	badPatch := "--- a/a.txt\n@@ -1 +1 @@\n-x\n+y\n"
	input, _ := json.Marshal(map[string]string{"patch": badPatch})

	result, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute returned transport error: %v", err)
	}
	if !result.IsError {
		t.Error("expected malformed patch (missing +++ header) to surface as an error result")
	}
}

func TestApplyPatchToolExecuteContextMismatch(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("unexpected content\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	patch := "--- a/a.txt\n+++ b/a.txt\n@@ -1 +1 @@\n-line that is not there\n+replacement\n"
	tool := NewApplyPatchTool(FSConfig{Workspace: root})
	input, _ := json.Marshal(map[string]string{"patch": patch})

	result, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute returned transport error: %v", err)
	}
	if !result.IsError {
		t.Error("expected context mismatch to surface as an error result")
	}
}

func TestApplyPatchToolExecuteMissingPatch(t *testing.T) {
	tool := NewApplyPatchTool(FSConfig{Workspace: t.TempDir()})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute returned transport error: %v", err)
	}
	if !result.IsError {
		t.Error("expected missing patch to surface as an error result")
	}
}
