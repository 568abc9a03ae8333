package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/tools"
)

// ApplyPatchTool applies unified diffs to workspace files (spec §4.3,
// sensitivity level 3 — grounded on the teacher's tools/files.ApplyPatchTool).
type ApplyPatchTool struct {
	resolver Resolver
}

// NewApplyPatchTool creates an apply_patch tool scoped to cfg.Workspace.
func NewApplyPatchTool(cfg FSConfig) *ApplyPatchTool {
	return &ApplyPatchTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *ApplyPatchTool) Name() string        { return "apply_patch" }
func (t *ApplyPatchTool) Description() string { return "Apply a unified diff patch to one or more files in the workspace." }
func (t *ApplyPatchTool) Sensitivity() models.Sensitivity { return models.SensitivityLocalEdit }

func (t *ApplyPatchTool) Schema() json.RawMessage {
	return schemaOrFallback(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"patch": map[string]interface{}{"type": "string", "description": "Unified diff patch (---/+++ headers required)."},
		},
		"required": []string{"patch"},
	})
}

func (t *ApplyPatchTool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Patch string `json:"patch"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult("invalid parameters: %v", err)
	}
	if strings.TrimSpace(input.Patch) == "" {
		return errResult("patch is required")
	}

	patches, err := parseUnifiedDiff(input.Patch)
	if err != nil {
		return errResult("%v", err)
	}

	applied := make([]map[string]interface{}, 0, len(patches))
	for _, fp := range patches {
		resolved, err := t.resolver.Resolve(fp.Path)
		if err != nil {
			return errResult("%v", err)
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return errResult("read file: %v", err)
		}
		summary, err := applyFilePatch(string(data), fp)
		if err != nil {
			return errResult("apply patch: %v", err)
		}
		if err := os.WriteFile(resolved, []byte(summary.Content), 0o644); err != nil {
			return errResult("write file: %v", err)
		}
		applied = append(applied, map[string]interface{}{
			"path":          fp.Path,
			"hunks":         len(fp.Hunks),
			"lines_added":   summary.Added,
			"lines_removed": summary.Removed,
		})
	}

	payload, err := json.MarshalIndent(map[string]interface{}{"applied": applied}, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err)
	}
	return tools.Result{Output: string(payload)}, nil
}

// filePatch is every hunk targeting one file, in the order the diff lists
// them.
type filePatch struct {
	Path  string
	Hunks []hunk
}

// hunk is one `@@ ... @@` region: its declared old/new ranges plus the
// context/add/remove lines beneath the header, each still carrying its
// leading ' '/'+'/'-' marker.
type hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []string
}

func (h *hunk) appendLine(line string) error {
	switch line[0] {
	case ' ', '+', '-':
		h.Lines = append(h.Lines, line)
		return nil
	default:
		return fmt.Errorf("invalid patch: unrecognized diff line %q", line)
	}
}

// patchResult is the outcome of applying every hunk in a filePatch to one
// file's content.
type patchResult struct {
	Content string
	Added   int
	Removed int
}

var hunkHeaderPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// diffCursor walks a unified diff one line at a time, tracking which
// filePatch and hunk (if any) is currently accumulating lines.
type diffCursor struct {
	lines       []string
	pos         int
	patches     []filePatch
	activeFile  *filePatch
	activeHunk  *hunk
}

func parseUnifiedDiff(patch string) ([]filePatch, error) {
	c := &diffCursor{lines: strings.Split(patch, "\n")}

	for c.pos < len(c.lines) {
		line := c.lines[c.pos]
		c.pos++

		switch {
		case strings.HasPrefix(line, "diff "), strings.HasPrefix(line, "index "):
			// file-level metadata, no patch state to record

		case strings.HasPrefix(line, "--- "):
			if err := c.startFile(); err != nil {
				return nil, err
			}

		case strings.HasPrefix(line, "@@ "):
			if err := c.startHunk(line); err != nil {
				return nil, err
			}

		case c.activeHunk == nil, line == "", line == "\\ No newline at end of file":
			// blank separators, EOF markers, and stray lines before any
			// hunk has started carry nothing to apply

		default:
			if err := c.activeHunk.appendLine(line); err != nil {
				return nil, err
			}
		}
	}

	if len(c.patches) == 0 {
		return nil, fmt.Errorf("invalid patch: no file headers found")
	}
	return c.patches, nil
}

// startFile consumes the "+++ " line following the "--- " line the caller
// already stepped past, and opens a new filePatch for it.
func (c *diffCursor) startFile() error {
	if c.pos >= len(c.lines) || !strings.HasPrefix(c.lines[c.pos], "+++ ") {
		return fmt.Errorf("invalid patch: missing +++ header")
	}
	path := stripDiffPathPrefix(strings.TrimSpace(strings.TrimPrefix(c.lines[c.pos], "+++ ")))
	c.pos++

	c.patches = append(c.patches, filePatch{Path: path})
	c.activeFile = &c.patches[len(c.patches)-1]
	c.activeHunk = nil
	return nil
}

func (c *diffCursor) startHunk(headerLine string) error {
	if c.activeFile == nil {
		return fmt.Errorf("invalid patch: hunk without file header")
	}
	m := hunkHeaderPattern.FindStringSubmatch(headerLine)
	if m == nil {
		return fmt.Errorf("invalid patch: malformed hunk header %q", headerLine)
	}
	oldStart, err := strconv.Atoi(m[1])
	if err != nil {
		return fmt.Errorf("invalid patch: bad hunk old-start: %w", err)
	}
	newStart, err := strconv.Atoi(m[3])
	if err != nil {
		return fmt.Errorf("invalid patch: bad hunk new-start: %w", err)
	}

	c.activeFile.Hunks = append(c.activeFile.Hunks, hunk{
		OldStart: oldStart,
		OldLines: parseHunkCount(m[2], 1),
		NewStart: newStart,
		NewLines: parseHunkCount(m[4], 1),
	})
	c.activeHunk = &c.activeFile.Hunks[len(c.activeFile.Hunks)-1]
	return nil
}

func parseHunkCount(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func stripDiffPathPrefix(path string) string {
	if rest, ok := strings.CutPrefix(path, "a/"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(path, "b/"); ok {
		return rest
	}
	return path
}

// patcher applies a sequence of hunks to one file's lines in order,
// tracking the cumulative line-count shift so each hunk's declared
// OldStart — which refers to the original file — still lands at the right
// position in lines after earlier hunks have inserted or deleted rows.
type patcher struct {
	lines   []string
	shift   int
	added   int
	removed int
}

func applyFilePatch(content string, fp filePatch) (patchResult, error) {
	hadTrailingNewline := strings.HasSuffix(content, "\n")
	body := strings.TrimSuffix(content, "\n")

	p := &patcher{}
	if body != "" {
		p.lines = strings.Split(body, "\n")
	}

	for _, h := range fp.Hunks {
		if err := p.applyHunk(h); err != nil {
			return patchResult{}, err
		}
	}

	result := strings.Join(p.lines, "\n")
	if hadTrailingNewline {
		result += "\n"
	}
	return patchResult{Content: result, Added: p.added, Removed: p.removed}, nil
}

func (p *patcher) applyHunk(h hunk) error {
	pos := h.OldStart - 1 + p.shift
	if pos < 0 {
		pos = 0
	}

	for _, line := range h.Lines {
		marker, text := line[0], ""
		if len(line) > 1 {
			text = line[1:]
		}

		switch marker {
		case ' ':
			if pos >= len(p.lines) || p.lines[pos] != text {
				return fmt.Errorf("context mismatch at line %d", pos+1)
			}
			pos++
		case '-':
			if pos >= len(p.lines) || p.lines[pos] != text {
				return fmt.Errorf("delete mismatch at line %d", pos+1)
			}
			p.lines = append(p.lines[:pos], p.lines[pos+1:]...)
			p.removed++
			p.shift--
		case '+':
			p.lines = append(p.lines[:pos], append([]string{text}, p.lines[pos:]...)...)
			pos++
			p.added++
			p.shift++
		}
	}
	return nil
}
