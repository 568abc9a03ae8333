package channel

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ainoobmenpg/cc-gateway/internal/agent"
	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/sessions"
)

// Dispatcher resolves an InboundTurn to a session, drives the turn through
// the Agent Driver, and renders the outcome back through the turn's
// ReplySink (spec §6's data flow: "Channel -> InboundTurn -> Agent Driver
// -> ... -> OutboundTurn -> Channel").
type Dispatcher struct {
	driver *agent.Driver
	store  sessions.Store
	logger *slog.Logger
}

// NewDispatcher builds a Dispatcher over driver and store.
func NewDispatcher(driver *agent.Driver, store sessions.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{driver: driver, store: store, logger: logger.With("component", "channel")}
}

// HandleMessage resolves in's session, runs one turn, and attempts to send
// a reply — on a truncated (IterationBudget) outcome it sends the partial
// text; on any other fatal error it sends the Agent Driver's UserMessage
// rendering. If the session cannot be resolved, no turn runs and that
// error is returned without a reply. Otherwise the returned error is
// non-nil only when the turn itself failed; a failure to deliver the reply
// is logged, not returned, since there's nothing further upstream to hand
// it to.
func (d *Dispatcher) HandleMessage(ctx context.Context, in InboundTurn) error {
	session, err := d.store.GetOrCreate(ctx, in.ChannelKind, in.ChannelScope)
	if err != nil {
		d.logger.Error("failed to resolve session", "channel_kind", in.ChannelKind, "channel_scope", in.ChannelScope, "error", err)
		return err
	}

	turnCtx := withReplySink(ctx, in.ReplySink)
	outcome, runErr := d.driver.RunTurn(turnCtx, session.ID, in.Text, agent.RunOptions{
		ChannelIdentity:  in.SenderIdentity,
		ChannelDMCapable: in.ReplySink.DMCapable(),
	})

	var gwErr *agent.GatewayError
	switch {
	case runErr == nil:
		d.reply(ctx, in, outcome.AssistantText)
		return nil
	case errors.As(runErr, &gwErr) && outcome.Truncated:
		d.reply(ctx, in, outcome.AssistantText)
		return runErr
	case errors.As(runErr, &gwErr):
		d.reply(ctx, in, gwErr.UserMessage())
		return runErr
	default:
		d.logger.Error("run_turn failed with an unrecognized error", "session_id", session.ID, "error", runErr)
		d.reply(ctx, in, "Something went wrong and this turn did not complete.")
		return runErr
	}
}

func (d *Dispatcher) reply(ctx context.Context, in InboundTurn, text string) {
	if in.ReplySink == nil || text == "" {
		return
	}
	if err := in.ReplySink.Send(ctx, OutboundTurn{Text: text}); err != nil {
		d.logger.Warn("failed to deliver reply", "channel_kind", in.ChannelKind, "channel_scope", in.ChannelScope, "error", err)
	}
}

// replySinkKey is the context key HandleMessage uses to carry the
// originating turn's ReplySink down through run_turn to the policy gate
// (spec §4.4's dm_confirm/explicit_ok gates need to reach back out over
// "the session's channel when DM-capable" — the channel that originated
// this exact turn, which only the context carries that far down).
type replySinkKey struct{}

func withReplySink(ctx context.Context, sink ReplySink) context.Context {
	return context.WithValue(ctx, replySinkKey{}, sink)
}

func replySinkFromContext(ctx context.Context) (ReplySink, bool) {
	sink, ok := ctx.Value(replySinkKey{}).(ReplySink)
	return sink, ok && sink != nil
}

// ApprovalSinkAdapter satisfies policy.ApprovalSink by forwarding to
// whichever ReplySink originated the turn currently in flight, recovered
// from ctx (see withReplySink). The Agent Driver holds one process-wide
// *policy.Policy shared across every channel and session (spec §5 "shared
// resources ... reference-counted across all drivers"); this adapter is
// what lets that single shared Policy still prompt the right channel.
type ApprovalSinkAdapter struct{}

// NewApprovalSinkAdapter builds an adapter.
func NewApprovalSinkAdapter() *ApprovalSinkAdapter { return &ApprovalSinkAdapter{} }

// RequestDecision implements policy.ApprovalSink.
func (a *ApprovalSinkAdapter) RequestDecision(ctx context.Context, req models.ApprovalRequest) (models.ApprovalDecisionState, string, error) {
	sink, ok := replySinkFromContext(ctx)
	if !ok {
		return models.DecisionDeny, "", errors.New("channel: no reply sink available for this turn's approval request")
	}
	return sink.RequestDecision(ctx, req)
}
