// Package policy implements the sensitivity-to-gate mapping and the
// approval state machine that decides, per tool call, between auto-allow,
// DM-confirm, and explicit-OK (spec §4.4).
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

// Gate is the default approval requirement for a sensitivity level.
type Gate string

const (
	GateAutoAllow   Gate = "auto_allow"
	GateDMConfirm   Gate = "dm_confirm"
	GateExplicitOK  Gate = "explicit_ok"
)

// defaultGates mirrors the table in spec §4.4.
var defaultGates = map[models.Sensitivity]Gate{
	models.SensitivityReadOnly:        GateAutoAllow,
	models.SensitivityNetworkRead:     GateAutoAllow,
	models.SensitivityLocalEdit:       GateAutoAllow,
	models.SensitivityLocalWrite:      GateDMConfirm,
	models.SensitivityShellSafe:       GateDMConfirm,
	models.SensitivityBrowser:         GateExplicitOK,
	models.SensitivityShellArbitrary:  GateExplicitOK,
	models.SensitivityExternalPosting: GateExplicitOK,
	models.SensitivitySecurityConfig:  GateExplicitOK,
}

// Decision is the result of Policy.Gate (spec §4.4).
type Decision string

const (
	DecisionAllow          Decision = "allow"
	DecisionDeniedByPolicy Decision = "denied_by_policy"
	DecisionDeniedByUser   Decision = "denied_by_user"
	DecisionTimedOut       Decision = "timed_out"
)

// ErrNotOnAdminList is returned when an explicit-OK approver isn't on the
// session's admin identity list (spec §4.4).
var ErrNotOnAdminList = errors.New("policy: approver not on admin list")

// ApprovalSink is the external collaborator that renders an ApprovalRequest
// to a human and returns their decision (spec §4.4, §6 "Approval sink
// contract"). Channel adapters implement this; it is out of this module's
// scope to provide one.
type ApprovalSink interface {
	RequestDecision(ctx context.Context, req models.ApprovalRequest) (models.ApprovalDecisionState, string, error)
}

// Policy decides, per tool call, whether it may proceed (spec §4.4).
type Policy struct {
	sink ApprovalSink

	// sensitivityOverrides remaps a tool name to a non-default sensitivity
	// (config.PolicyConfig.SensitivityOverrides).
	sensitivityOverrides map[string]models.Sensitivity

	// gateOverrides remaps a sensitivity level to a non-default gate.
	gateOverrides map[models.Sensitivity]Gate

	approvalTimeout time.Duration
	adminIdentities map[string]bool
}

// New builds a Policy. sensitivityOverrides may be nil; gate overrides are
// set separately with WithGateOverrides.
func New(sink ApprovalSink, sensitivityOverrides map[string]models.Sensitivity, approvalTimeout time.Duration, adminIdentities []string) *Policy {
	admins := make(map[string]bool, len(adminIdentities))
	for _, id := range adminIdentities {
		admins[id] = true
	}
	if approvalTimeout <= 0 {
		approvalTimeout = 5 * time.Minute
	}
	return &Policy{
		sink:                 sink,
		sensitivityOverrides: sensitivityOverrides,
		approvalTimeout:      approvalTimeout,
		adminIdentities:      admins,
	}
}

// WithGateOverrides remaps specific sensitivity levels to a non-default
// gate and returns p for chaining.
func (p *Policy) WithGateOverrides(overrides map[models.Sensitivity]Gate) *Policy {
	p.gateOverrides = overrides
	return p
}

// Sensitivity resolves the effective sensitivity for toolName, applying any
// configured override.
func (p *Policy) Sensitivity(toolName string, declared models.Sensitivity) models.Sensitivity {
	if p.sensitivityOverrides != nil {
		if s, ok := p.sensitivityOverrides[toolName]; ok {
			return s
		}
	}
	return declared
}

func (p *Policy) gateFor(sensitivity models.Sensitivity) Gate {
	if p.gateOverrides != nil {
		if g, ok := p.gateOverrides[sensitivity]; ok {
			return g
		}
	}
	if g, ok := defaultGates[sensitivity]; ok {
		return g
	}
	return GateExplicitOK // unknown sensitivity: fail closed
}

// GateInput is what Policy.Gate needs to render an ApprovalRequest (spec
// §4.4, §6). Gate does not read ChannelDMCapable: every prompt goes to the
// configured ApprovalSink whether or not the channel is DM-capable.
type GateInput struct {
	ToolCallID      string
	ToolName        string
	Sensitivity     models.Sensitivity
	RenderedPreview string
	SessionID       string
	ChannelDMCapable bool
	ApproverIdentity string // set only when a decision has already been rendered out of band
}

// Gate decides between Allow, DeniedByPolicy, DeniedByUser, and TimedOut
// for one tool call (spec §4.4).
func (p *Policy) Gate(ctx context.Context, in GateInput) (Decision, error) {
	gate := p.gateFor(in.Sensitivity)
	if gate == GateAutoAllow {
		return DecisionAllow, nil
	}

	if p.sink == nil {
		return DecisionDeniedByPolicy, fmt.Errorf("policy: tool %q requires approval but no approval sink is configured", in.ToolName)
	}

	deadline := time.Now().Add(p.approvalTimeout)
	req := models.ApprovalRequest{
		ToolCallID:      in.ToolCallID,
		ToolName:        in.ToolName,
		Sensitivity:     in.Sensitivity,
		RenderedPreview: in.RenderedPreview,
		Deadline:        deadline,
		Decision:        models.DecisionPending,
	}

	approveCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	state, approver, err := p.sink.RequestDecision(approveCtx, req)
	if err != nil {
		if errors.Is(approveCtx.Err(), context.DeadlineExceeded) {
			return DecisionTimedOut, nil
		}
		return DecisionDeniedByUser, fmt.Errorf("policy: approval sink error: %w", err)
	}

	switch state {
	case models.DecisionAllow:
		if gate == GateExplicitOK && !p.adminIdentities[approver] {
			return DecisionDeniedByUser, ErrNotOnAdminList
		}
		return DecisionAllow, nil
	case models.DecisionDeny:
		return DecisionDeniedByUser, nil
	case models.DecisionTimeout:
		return DecisionTimedOut, nil
	default:
		return DecisionTimedOut, nil
	}
}
