package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ainoobmenpg/cc-gateway/internal/audit"
	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/policy"
	"github.com/ainoobmenpg/cc-gateway/internal/tools"
)

// sensitivityClassifier is implemented by tools whose effective sensitivity
// depends on the call's input rather than being fixed at registration (only
// builtin.BashTool today — spec §4.4: "bash at level 5 vs 7 is selected by a
// static safe-command matcher").
type sensitivityClassifier interface {
	ClassifySensitivity(input json.RawMessage) models.Sensitivity
}

// toolExecutor dispatches the tool-use blocks of one assistant response in
// parallel, bounded by maxParallel, gates each through Policy, and
// reassembles ToolResult blocks in the original order (spec §4.1 step iii,
// §5 "tool-use blocks ... may execute in parallel ... but their ToolResult
// blocks are reassembled in the original order"). Grounded on the teacher's
// internal/agent/executor.go Executor, adapted from per-tool retry/timeout
// bookkeeping to the policy-gated, single-attempt-per-call shape the spec
// requires (retrying a tool call that already ran a side effect is not
// safe in general, so the driver does not retry tool execution itself —
// only the provider call is retried).
type toolExecutor struct {
	registry       *tools.Registry
	policyEngine   *policy.Policy
	guard          tools.ResultGuard
	auditor        *audit.Logger
	maxParallel    int
	perCallTimeout time.Duration
}

// dispatchOutcome is one tool-use block's resolved outcome, kept alongside
// its original index so results can be reassembled in order.
type dispatchOutcome struct {
	index  int
	result models.Block    // a ToolResult block
	call   models.ToolCall // audit record
}

// ExecuteAll runs every tool-use block in calls, returns the ToolResult
// blocks in the same order as calls, plus the audit-ready ToolCall records
// in that same order.
func (e *toolExecutor) ExecuteAll(ctx context.Context, sessionID, channelIdentity string, channelDMCapable bool, calls []models.Block) ([]models.Block, []models.ToolCall) {
	if len(calls) == 0 {
		return nil, nil
	}

	maxParallel := e.maxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}
	sem := make(chan struct{}, maxParallel)

	outcomes := make([]dispatchOutcome, len(calls))
	var wg sync.WaitGroup
	for i, block := range calls {
		wg.Add(1)
		go func(idx int, b models.Block) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[idx] = e.cancelledOutcome(idx, sessionID, b)
				return
			}
			outcomes[idx] = e.dispatchOne(ctx, sessionID, channelIdentity, channelDMCapable, idx, b)
		}(i, block)
	}
	wg.Wait()

	results := make([]models.Block, len(outcomes))
	toolCalls := make([]models.ToolCall, len(outcomes))
	for i, o := range outcomes {
		results[i] = o.result
		toolCalls[i] = o.call
	}
	return results, toolCalls
}

func (e *toolExecutor) cancelledOutcome(idx int, sessionID string, b models.Block) dispatchOutcome {
	call := models.ToolCall{
		ID: b.ToolUseID, ToolName: b.ToolName, Input: b.ToolInput, SessionID: sessionID,
		StartedAt: time.Now().UTC(), Outcome: models.ToolOutcomeTimeout,
	}
	return dispatchOutcome{
		index:  idx,
		result: models.ToolResultBlock(b.ToolUseID, "turn cancelled before this tool ran", true),
		call:   call,
	}
}

func (e *toolExecutor) dispatchOne(ctx context.Context, sessionID, channelIdentity string, channelDMCapable bool, idx int, b models.Block) dispatchOutcome {
	started := time.Now().UTC()
	call := models.ToolCall{
		ID: b.ToolUseID, ToolName: b.ToolName, Input: b.ToolInput, SessionID: sessionID, StartedAt: started,
	}

	tool, ok := e.registry.Get(b.ToolName)
	if !ok {
		call.Outcome = models.ToolOutcomeError
		call.Duration = time.Since(started)
		e.recordAudit(sessionID, channelIdentity, call, "")
		return dispatchOutcome{idx, models.ToolResultBlock(b.ToolUseID, fmt.Sprintf("unknown tool %s", b.ToolName), true), call}
	}

	sensitivity := tool.Sensitivity()
	if classifier, ok := tool.(sensitivityClassifier); ok {
		sensitivity = classifier.ClassifySensitivity(b.ToolInput)
	}
	sensitivity = e.policyEngine.Sensitivity(b.ToolName, sensitivity)
	call.Sensitivity = sensitivity

	decision, err := e.policyEngine.Gate(ctx, policy.GateInput{
		ToolCallID:       b.ToolUseID,
		ToolName:         b.ToolName,
		Sensitivity:      sensitivity,
		RenderedPreview:  renderPreview(b.ToolName, b.ToolInput),
		SessionID:        sessionID,
		ChannelDMCapable: channelDMCapable,
	})
	call.ApprovalDecision = string(decision)

	switch decision {
	case policy.DecisionAllow:
		// fall through to execution
	case policy.DecisionDeniedByUser:
		call.Outcome = models.ToolOutcomeDenied
		call.Duration = time.Since(started)
		msg := "denied by user"
		if err != nil {
			msg = fmt.Sprintf("denied by user: %v", err)
		}
		e.recordAudit(sessionID, channelIdentity, call, "")
		return dispatchOutcome{idx, models.ToolResultBlock(b.ToolUseID, msg, true), call}
	case policy.DecisionTimedOut:
		call.Outcome = models.ToolOutcomeTimeout
		call.Duration = time.Since(started)
		e.recordAudit(sessionID, channelIdentity, call, "")
		return dispatchOutcome{idx, models.ToolResultBlock(b.ToolUseID, "approval timed out", true), call}
	default: // DecisionDeniedByPolicy
		call.Outcome = models.ToolOutcomeDenied
		call.Duration = time.Since(started)
		msg := "denied by policy"
		if err != nil {
			msg = fmt.Sprintf("denied by policy: %v", err)
		}
		e.recordAudit(sessionID, channelIdentity, call, "")
		return dispatchOutcome{idx, models.ToolResultBlock(b.ToolUseID, msg, true), call}
	}

	timeout := e.perCallTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, execErr := e.registry.Execute(execCtx, b.ToolName, b.ToolInput)
	isError := result.IsError
	output := result.Output
	if execErr != nil {
		isError = true
		output = execErr.Error()
	}
	if execCtx.Err() != nil && !isError {
		isError = true
		output = fmt.Sprintf("tool timed out after %s", timeout)
	}

	output = e.guard.Apply(output)

	call.Duration = time.Since(started)
	call.OutputDigest = audit.Digest([]byte(output))
	if isError {
		call.Outcome = models.ToolOutcomeError
	} else {
		call.Outcome = models.ToolOutcomeOK
	}
	e.recordAudit(sessionID, channelIdentity, call, output)

	return dispatchOutcome{idx, models.ToolResultBlock(b.ToolUseID, output, isError), call}
}

func (e *toolExecutor) recordAudit(sessionID, channelIdentity string, call models.ToolCall, output string) {
	if e.auditor == nil {
		return
	}
	digest := call.OutputDigest
	if digest == "" {
		digest = audit.Digest([]byte(output))
	}
	_ = e.auditor.Append(audit.Record{
		Kind:             audit.EventToolCall,
		SessionID:        sessionID,
		ChannelIdentity:  channelIdentity,
		ToolCallID:       call.ID,
		ToolName:         call.ToolName,
		Sensitivity:      int(call.Sensitivity),
		InputDigest:      audit.Digest(call.Input),
		ApprovalDecision: call.ApprovalDecision,
		Duration:         call.Duration,
		Outcome:          string(call.Outcome),
	})
}

// renderPreview builds the human-readable text an ApprovalSink shows a user
// (spec §4.4, §6). Truncated so a large write/edit payload doesn't blow out
// a DM.
func renderPreview(toolName string, input json.RawMessage) string {
	const maxPreview = 2000
	s := string(input)
	if len(s) > maxPreview {
		s = s[:maxPreview] + "...[truncated]"
	}
	return fmt.Sprintf("%s(%s)", toolName, s)
}
