package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/tools"
)

// maxDirEntries bounds how many matches glob/grep return to the model in
// one call, mirroring the truncation discipline of the teacher's read tool.
// ls lists every entry of the directory.
const maxDirEntries = 2000

// GlobTool lists workspace files matching a doublestar glob pattern (spec
// §4.3, sensitivity level 1).
type GlobTool struct {
	resolver Resolver
	root     string
}

// NewGlobTool creates a glob tool scoped to cfg.Workspace.
func NewGlobTool(cfg FSConfig) *GlobTool {
	root := cfg.Workspace
	if root == "" {
		root = "."
	}
	return &GlobTool{resolver: Resolver{Root: root}, root: root}
}

func (t *GlobTool) Name() string        { return "glob" }
func (t *GlobTool) Description() string { return "List workspace files matching a glob pattern (supports ** for recursive matches)." }
func (t *GlobTool) Sensitivity() models.Sensitivity { return models.SensitivityReadOnly }

func (t *GlobTool) Schema() json.RawMessage {
	return schemaOrFallback(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{"type": "string", "description": "Doublestar glob pattern, e.g. \"**/*.go\"."},
		},
		"required": []string{"pattern"},
	})
}

func (t *GlobTool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult("invalid parameters: %v", err)
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return errResult("pattern is required")
	}
	if !doublestar.ValidatePattern(input.Pattern) {
		return errResult("invalid glob pattern")
	}

	rootAbs, err := filepath.Abs(t.root)
	if err != nil {
		return errResult("resolve workspace root: %v", err)
	}

	fsys := os.DirFS(rootAbs)
	matches, err := doublestar.Glob(fsys, input.Pattern)
	if err != nil {
		return errResult("glob: %v", err)
	}
	sort.Strings(matches)

	truncated := false
	if len(matches) > maxDirEntries {
		matches = matches[:maxDirEntries]
		truncated = true
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err)
	}
	return tools.Result{Output: string(payload)}, nil
}

// LsTool lists the immediate contents of a workspace directory (spec §4.3,
// sensitivity level 1).
type LsTool struct {
	resolver Resolver
}

// NewLsTool creates an ls tool scoped to cfg.Workspace.
func NewLsTool(cfg FSConfig) *LsTool {
	return &LsTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *LsTool) Name() string        { return "ls" }
func (t *LsTool) Description() string { return "List the immediate contents of a workspace directory." }
func (t *LsTool) Sensitivity() models.Sensitivity { return models.SensitivityReadOnly }

func (t *LsTool) Schema() json.RawMessage {
	return schemaOrFallback(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Directory to list (relative to workspace; defaults to workspace root)."},
		},
	})
}

func (t *LsTool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return errResult("invalid parameters: %v", err)
		}
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return errResult("%v", err)
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return errResult("read dir: %v", err)
	}

	listed := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		listed = append(listed, map[string]interface{}{
			"name":  e.Name(),
			"dir":   e.IsDir(),
			"bytes": size,
		})
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"path":    input.Path,
		"entries": listed,
	}, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err)
	}
	return tools.Result{Output: string(payload)}, nil
}

// GrepTool searches workspace file contents for a regular expression (spec
// §4.3, sensitivity level 1).
type GrepTool struct {
	resolver Resolver
	root     string
}

// NewGrepTool creates a grep tool scoped to cfg.Workspace.
func NewGrepTool(cfg FSConfig) *GrepTool {
	root := cfg.Workspace
	if root == "" {
		root = "."
	}
	return &GrepTool{resolver: Resolver{Root: root}, root: root}
}

func (t *GrepTool) Name() string        { return "grep" }
func (t *GrepTool) Description() string { return "Search workspace file contents for a regular expression." }
func (t *GrepTool) Sensitivity() models.Sensitivity { return models.SensitivityReadOnly }

func (t *GrepTool) Schema() json.RawMessage {
	return schemaOrFallback(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern":     map[string]interface{}{"type": "string", "description": "RE2 regular expression to search for."},
			"glob":        map[string]interface{}{"type": "string", "description": "Restrict the search to files matching this glob (default: \"**/*\")."},
			"ignore_case": map[string]interface{}{"type": "boolean", "description": "Case-insensitive match (default: false)."},
		},
		"required": []string{"pattern"},
	})
}

func (t *GrepTool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Pattern    string `json:"pattern"`
		Glob       string `json:"glob"`
		IgnoreCase bool   `json:"ignore_case"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult("invalid parameters: %v", err)
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return errResult("pattern is required")
	}
	if input.Glob == "" {
		input.Glob = "**/*"
	}

	reSrc := input.Pattern
	if input.IgnoreCase {
		reSrc = "(?i)" + reSrc
	}
	re, err := regexp.Compile(reSrc)
	if err != nil {
		return errResult("invalid pattern: %v", err)
	}

	rootAbs, err := filepath.Abs(t.root)
	if err != nil {
		return errResult("resolve workspace root: %v", err)
	}

	fsys := os.DirFS(rootAbs)
	candidates, err := doublestar.Glob(fsys, input.Glob)
	if err != nil {
		return errResult("glob: %v", err)
	}
	sort.Strings(candidates)

	type match struct {
		Path string `json:"path"`
		Line int    `json:"line"`
		Text string `json:"text"`
	}
	var matches []match

	for _, rel := range candidates {
		if len(matches) >= maxDirEntries {
			break
		}
		full := filepath.Join(rootAbs, rel)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		file, err := os.Open(full)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if re.MatchString(line) {
				matches = append(matches, match{Path: rel, Line: lineNo, Text: line})
				if len(matches) >= maxDirEntries {
					break
				}
			}
		}
		file.Close()
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"matches": matches,
		"count":   len(matches),
	}, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err)
	}
	return tools.Result{Output: string(payload)}, nil
}
