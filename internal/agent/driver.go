// Package agent implements the Agent Driver (spec §4.1): the single
// run_turn operation that loads a session, drives the provider/tool-use
// loop to completion, and persists the result. Grounded on the teacher's
// internal/agent/loop.go AgenticLoop, adapted from a streaming
// provider.Complete (which yields a <-chan *ResponseChunk the teacher's
// state machine drains phase by phase) to this module's single-shot,
// non-streaming providers.Provider.Complete — the phase shape survives
// (Ready -> BuildingRequest -> AwaitingProvider -> Final|DispatchingTools ->
// AwaitingTools -> BuildingRequest -> Done), only the suspension mechanics
// inside AwaitingProvider change.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ainoobmenpg/cc-gateway/internal/audit"
	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/policy"
	"github.com/ainoobmenpg/cc-gateway/internal/providers"
	"github.com/ainoobmenpg/cc-gateway/internal/ratelimit"
	"github.com/ainoobmenpg/cc-gateway/internal/sessions"
	"github.com/ainoobmenpg/cc-gateway/internal/tools"
	"github.com/ainoobmenpg/cc-gateway/pkg/ids"
)

// Provider retry policy is fixed by spec §4.1 step iii.b: base 500ms, cap
// 8s, at most 3 attempts. These are not exposed as config because the spec
// states them as constants, not tunables.
const (
	providerRetryBase    = 500 * time.Millisecond
	providerRetryCap     = 8 * time.Second
	providerMaxAttempts  = 3
	defaultMaxIterations = 16
	defaultMaxTokens     = 4096
)

// DriverConfig wires a Driver's collaborators. SystemPrompt, Temperature,
// Guard, Limiter/LimiterKey, the numeric limits and the compaction marks
// are optional: zero limits take defaults and a zero Guard becomes
// tools.DefaultGuard().
type DriverConfig struct {
	Store    sessions.Store
	Provider providers.Provider
	Registry *tools.Registry
	Policy   *policy.Policy
	Auditor  *audit.Logger
	Locker   *sessions.TurnLocker

	Model        string
	SystemPrompt string
	Temperature  float64
	Guard        tools.ResultGuard

	// Limiter/LimiterKey throttle outbound provider calls to one token
	// bucket per (dialect, api key) (spec §5). Both are optional; a nil
	// Limiter never blocks.
	Limiter    *ratelimit.Limiter
	LimiterKey string

	MaxIterations    int
	MaxParallelTools int
	PerCallTimeout   time.Duration
	OverallDeadline  time.Duration

	// CompactionHighWaterMark/LowWaterMark enable compaction when > 0
	// (config.StoreConfig, spec §4.5). Zero disables compaction.
	CompactionHighWaterMark int
	CompactionLowWaterMark  int
}

// Driver executes run_turn (spec §4.1).
type Driver struct {
	store        sessions.Store
	provider     providers.Provider
	registry     *tools.Registry
	policyEngine *policy.Policy
	auditor      *audit.Logger
	locker       *sessions.TurnLocker
	compactor    *compactor

	model        string
	systemPrompt string
	temperature  float64
	guard        tools.ResultGuard
	limiter      *ratelimit.Limiter
	limiterKey   string

	maxIterations    int
	maxParallelTools int
	perCallTimeout   time.Duration
	overallDeadline  time.Duration
}

// New builds a Driver from cfg, applying spec-mandated defaults for any
// zero-valued limit.
func New(cfg DriverConfig) *Driver {
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	maxParallel := cfg.MaxParallelTools
	if maxParallel <= 0 {
		maxParallel = 4
	}
	perCallTimeout := cfg.PerCallTimeout
	if perCallTimeout <= 0 {
		perCallTimeout = 120 * time.Second
	}
	guard := cfg.Guard
	if guard == (tools.ResultGuard{}) {
		guard = tools.DefaultGuard()
	}

	return &Driver{
		store:        cfg.Store,
		provider:     cfg.Provider,
		registry:     cfg.Registry,
		policyEngine: cfg.Policy,
		auditor:      cfg.Auditor,
		locker:       cfg.Locker,
		compactor: &compactor{
			store:     cfg.Store,
			provider:  cfg.Provider,
			model:     cfg.Model,
			highWater: cfg.CompactionHighWaterMark,
			lowWater:  cfg.CompactionLowWaterMark,
		},
		model:            cfg.Model,
		systemPrompt:     cfg.SystemPrompt,
		temperature:      cfg.Temperature,
		guard:            guard,
		limiter:          cfg.Limiter,
		limiterKey:       cfg.LimiterKey,
		maxIterations:    maxIterations,
		maxParallelTools: maxParallel,
		perCallTimeout:   perCallTimeout,
		overallDeadline:  cfg.OverallDeadline,
	}
}

// RunOptions customizes one run_turn call (spec §4.1).
type RunOptions struct {
	ToolAllowlist    []string
	MaxIterations    int
	PerCallTimeout   time.Duration
	OverallDeadline  time.Duration
	ChannelIdentity  string
	ChannelDMCapable bool
}

// TurnOutcome is the result of a successful (or partially successful,
// IterationBudget-truncated) run_turn call (spec §4.1).
type TurnOutcome struct {
	AssistantText string
	ToolCallsMade []models.ToolCall
	Usage         models.Usage
	Truncated     bool
}

// RunTurn executes one inbound turn end-to-end (spec §4.1). On success it
// returns a TurnOutcome and a nil error. On IterationBudget exhaustion it
// returns a partially-populated TurnOutcome *and* a non-nil *GatewayError so
// callers can both render the partial text and know the turn was truncated.
// Every other failure mode returns a *GatewayError with a TurnOutcome that
// is zero for failures before the loop starts and, for failures inside the
// loop, carries only the ToolCallsMade and Usage accumulated so far.
func (d *Driver) RunTurn(ctx context.Context, sessionID, userText string, opts RunOptions) (TurnOutcome, error) {
	if opts.OverallDeadline <= 0 {
		opts.OverallDeadline = d.overallDeadline
	}
	if opts.OverallDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.OverallDeadline)
		defer cancel()
	}

	unlock, err := d.locker.Lock(ctx, sessionID)
	if err != nil {
		return TurnOutcome{}, newGatewayError(KindCancelled, err, "acquiring turn lock")
	}
	defer unlock()

	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = d.maxIterations
	}
	perCallTimeout := opts.PerCallTimeout
	if perCallTimeout <= 0 {
		perCallTimeout = d.perCallTimeout
	}

	if _, err := d.store.AppendMessage(ctx, sessionID, models.Message{
		ID:        ids.New(),
		Role:      models.RoleUser,
		Blocks:    []models.Block{models.TextBlock(userText)},
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return TurnOutcome{}, newGatewayError(KindStoreUnavailable, err, "appending user message")
	}

	d.auditTurnBoundary(sessionID, opts.ChannelIdentity, "start", 0)

	session, err := d.store.Get(ctx, sessionID)
	if err != nil {
		return TurnOutcome{}, newGatewayError(KindStoreUnavailable, err, "loading session")
	}

	executor := &toolExecutor{
		registry:       d.registry,
		policyEngine:   d.policyEngine,
		guard:          d.guard,
		auditor:        d.auditor,
		maxParallel:    d.maxParallelTools,
		perCallTimeout: perCallTimeout,
	}

	var (
		allToolCalls []models.ToolCall
		usage        models.Usage
	)

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return TurnOutcome{ToolCallsMade: allToolCalls, Usage: usage}, newGatewayError(KindCancelled, err, "iteration %d", iteration)
		}

		if err := d.compactor.maybeCompact(ctx, sessionID); err != nil {
			// Compaction failure is not fatal to the turn — the session is
			// simply left uncompacted for this round (spec §4.5 describes
			// compaction as a driver-owned maintenance operation, not a
			// run_turn correctness requirement).
			_ = err
		}

		history, err := d.store.History(ctx, sessionID)
		if err != nil {
			return TurnOutcome{ToolCallsMade: allToolCalls, Usage: usage}, newGatewayError(KindStoreUnavailable, err, "loading history")
		}

		req := models.ProviderRequest{
			Model:       d.model,
			System:      effectiveSystemPrompt(d.systemPrompt, session),
			Messages:    history,
			Tools:       d.registry.Manifest(effectiveAllowlist(opts.ToolAllowlist, session)),
			MaxTokens:   defaultMaxTokens,
			Temperature: d.temperature,
		}

		resp, err := d.completeWithRetry(ctx, req)
		if err != nil {
			kind := classifyProviderFailure(err)
			return TurnOutcome{ToolCallsMade: allToolCalls, Usage: usage}, newGatewayError(kind, err, "provider call at iteration %d", iteration)
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		assistantMsg := models.Message{
			ID:         ids.New(),
			Role:       models.RoleAssistant,
			Blocks:     resp.Blocks,
			StopReason: resp.StopReason,
			CreatedAt:  time.Now().UTC(),
		}
		if !resp.HasToolUse() {
			assistantMsg.StopReason = models.StopEndTurn
		}
		if _, err := d.store.AppendMessage(ctx, sessionID, assistantMsg); err != nil {
			return TurnOutcome{ToolCallsMade: allToolCalls, Usage: usage}, newGatewayError(KindStoreUnavailable, err, "appending assistant message")
		}

		if !resp.HasToolUse() {
			d.auditTurnBoundary(sessionID, opts.ChannelIdentity, "end", iteration)
			return TurnOutcome{AssistantText: resp.FirstText(), ToolCallsMade: allToolCalls, Usage: usage}, nil
		}

		toolUseBlocks := resp.ToolUseBlocks()
		resultBlocks, calls := executor.ExecuteAll(ctx, sessionID, opts.ChannelIdentity, opts.ChannelDMCapable, toolUseBlocks)
		allToolCalls = append(allToolCalls, calls...)

		toolResultMsg := models.Message{
			ID:        ids.New(),
			Role:      models.RoleUser,
			Blocks:    resultBlocks,
			CreatedAt: time.Now().UTC(),
		}
		if _, err := d.store.AppendMessage(ctx, sessionID, toolResultMsg); err != nil {
			return TurnOutcome{ToolCallsMade: allToolCalls, Usage: usage}, newGatewayError(KindStoreUnavailable, err, "appending tool results")
		}
	}

	// Iteration budget exhausted: synthesize a final assistant message so
	// the at-most-one-final-text-per-turn invariant still holds, then
	// report IterationBudget (spec §4.1 step 4).
	truncationText := fmt.Sprintf("Reached the %d-iteration limit for this turn before finishing; the work done so far has been recorded.", maxIterations)
	if _, err := d.store.AppendMessage(ctx, sessionID, models.Message{
		ID:         ids.New(),
		Role:       models.RoleAssistant,
		Blocks:     []models.Block{models.TextBlock(truncationText)},
		StopReason: models.StopEndTurn,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return TurnOutcome{ToolCallsMade: allToolCalls, Usage: usage}, newGatewayError(KindStoreUnavailable, err, "appending truncation message")
	}
	d.auditTurnBoundary(sessionID, opts.ChannelIdentity, "end", maxIterations)

	outcome := TurnOutcome{AssistantText: truncationText, ToolCallsMade: allToolCalls, Usage: usage, Truncated: true}
	return outcome, newGatewayError(KindIterationBudget, nil, "exceeded %d iterations", maxIterations)
}

// completeWithRetry issues up to providerMaxAttempts calls, retrying
// transport/5xx/rate-limit failures with exponential backoff honoring a
// provider-signalled Retry-After when present (spec §4.1 step iii.b). A
// non-retryable failure (4xx other than 429) returns immediately.
func (d *Driver) completeWithRetry(ctx context.Context, req models.ProviderRequest) (models.ProviderResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= providerMaxAttempts; attempt++ {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx, d.limiterKey); err != nil {
				return models.ProviderResponse{}, err
			}
		}
		resp, err := d.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !providers.IsRetryable(err) {
			return models.ProviderResponse{}, err
		}
		if attempt == providerMaxAttempts {
			break
		}
		delay := retryDelay(err, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return models.ProviderResponse{}, ctx.Err()
		}
	}
	return models.ProviderResponse{}, lastErr
}

func retryDelay(err error, attempt int) time.Duration {
	var pe *providers.Error
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		if pe.RetryAfter > providerRetryCap {
			return providerRetryCap
		}
		return pe.RetryAfter
	}
	d := providerRetryBase * time.Duration(uint(1)<<uint(attempt-1))
	if d > providerRetryCap {
		d = providerRetryCap
	}
	return d
}

func classifyProviderFailure(err error) Kind {
	var pe *providers.Error
	if errors.As(err, &pe) && pe.Status >= 400 && pe.Status < 500 {
		return KindProviderRejected
	}
	return KindProviderUnavailable
}

func (d *Driver) auditTurnBoundary(sessionID, channelIdentity, phase string, iteration int) {
	if d.auditor == nil {
		return
	}
	_ = d.auditor.Append(audit.Record{
		Kind:            audit.EventTurnBoundary,
		SessionID:       sessionID,
		ChannelIdentity: channelIdentity,
		TurnPhase:       phase,
		Iteration:       iteration,
	})
}

func effectiveSystemPrompt(fallback string, session *models.Session) string {
	if session != nil && session.SystemPrompt != "" {
		return session.SystemPrompt
	}
	return fallback
}

func effectiveAllowlist(optsAllowlist []string, session *models.Session) []string {
	if len(optsAllowlist) > 0 {
		return optsAllowlist
	}
	if session != nil && len(session.ToolAllowlist) > 0 {
		return session.ToolAllowlist
	}
	return nil
}
