package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/policy"
	"github.com/ainoobmenpg/cc-gateway/internal/tools"
)

// BashTool runs a shell command inside the workspace, one /bin/sh -c
// invocation per call (spec §4.3, §4.4 — grounded on the teacher's
// tools/exec.Manager.runSync, minus background-process tracking: a single
// synchronous call is all the driver's run_turn loop needs per tool call).
type BashTool struct {
	resolver  Resolver
	timeout   time.Duration
	maxOutput int
}

// NewBashTool creates a bash tool scoped to cfg.Workspace, bounded by
// timeout (config.LimitsConfig.BashTimeout).
func NewBashTool(cfg FSConfig, timeout time.Duration) *BashTool {
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	return &BashTool{resolver: Resolver{Root: cfg.Workspace}, timeout: timeout, maxOutput: 64_000}
}

func (t *BashTool) Name() string        { return "bash" }
func (t *BashTool) Description() string { return "Run a shell command in the workspace and return its stdout/stderr/exit code." }

// Sensitivity is determined per invocation by policy.ClassifyBash, so this
// declares the conservative default; callers dispatching through the
// registry should reclassify from the actual command before gating.
func (t *BashTool) Sensitivity() models.Sensitivity { return models.SensitivityShellArbitrary }

func (t *BashTool) Schema() json.RawMessage {
	return schemaOrFallback(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "Shell command to run via /bin/sh -c."},
			"cwd":     map[string]interface{}{"type": "string", "description": "Working directory, relative to workspace (default: workspace root)."},
		},
		"required": []string{"command"},
	})
}

// ClassifySensitivity exposes the command-dependent sensitivity for policy
// gating before Execute runs (spec §4.4: bash level 5 vs 7).
func (t *BashTool) ClassifySensitivity(input json.RawMessage) models.Sensitivity {
	var parsed struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &parsed); err != nil {
		return models.SensitivityShellArbitrary
	}
	return policy.ClassifyBash(parsed.Command)
}

func (t *BashTool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Command string `json:"command"`
		Cwd     string `json:"cwd"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult("invalid parameters: %v", err)
	}
	if strings.TrimSpace(input.Command) == "" {
		return errResult("command is required")
	}

	dir, err := t.resolver.Resolve(".")
	if err != nil {
		return errResult("%v", err)
	}
	if input.Cwd != "" {
		dir, err = t.resolver.Resolve(input.Cwd)
		if err != nil {
			return errResult("%v", err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", input.Command)
	cmd.Dir = dir
	stdout := newLimitedBuffer(t.maxOutput)
	stderr := newLimitedBuffer(t.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := map[string]interface{}{
		"command":     input.Command,
		"cwd":         input.Cwd,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   exitCode(runErr),
		"duration_ms": duration.Milliseconds(),
	}
	if runCtx.Err() != nil {
		result["error"] = fmt.Sprintf("command timed out after %s", t.timeout)
	} else if runErr != nil {
		result["error"] = runErr.Error()
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err)
	}
	return tools.Result{Output: string(payload)}, nil
}

// limitedBuffer caps captured stdout/stderr the way the teacher's
// tools/exec.limitedBuffer does, so a runaway command can't blow the audit
// log or the provider's context window.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
