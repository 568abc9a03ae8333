// Package channel defines the contract external channel adapters
// (Discord, Telegram, HTTP, WebSocket, …) implement against the core
// (spec §1, §6 "Channel adapter contract"). Concrete adapters live outside
// this module; this package only carries the InboundTurn/OutboundTurn/
// ApprovalSink shapes and the Dispatcher that drives a turn from one to
// the other.
package channel

import (
	"context"
	"time"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

// Attachment is a piece of non-text content carried by an inbound message.
// Built-in tools never read attachment bytes directly today (no builtin
// tool's input schema takes attachment data); this exists so a channel
// adapter has somewhere to put them without inventing its own type.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// InboundTurn is what a channel adapter hands the core for one inbound
// message (spec §6): `on_message(InboundTurn{channel_kind, channel_scope,
// sender_identity, text, attachments?, reply_sink})`.
type InboundTurn struct {
	ChannelKind     models.ChannelKind
	ChannelScope    string
	SenderIdentity  string
	Text            string
	Attachments     []Attachment
	ReplySink       ReplySink
}

// OutboundTurn is one reply the core emits back through a ReplySink.
type OutboundTurn struct {
	Text string
}

// ReplySink is the capability an InboundTurn carries for emitting
// OutboundTurn replies and for prompting an interactive approval decision
// on the originating channel (spec §6). A channel that cannot carry an
// interactive prompt (e.g. a fire-and-forget webhook) still implements
// RequestDecision; it simply returns models.DecisionDeny immediately, so
// the policy gate never waits on it, and reports DMCapable() == false.
type ReplySink interface {
	// Send delivers one OutboundTurn to the channel.
	Send(ctx context.Context, turn OutboundTurn) error

	// RequestDecision prompts for approval of a pending tool call and
	// blocks for the first of: user decision, channel error (treated as
	// deny), or the caller's context deadline. Same shape as
	// policy.ApprovalSink so a ReplySink can be passed directly as one.
	RequestDecision(ctx context.Context, req models.ApprovalRequest) (models.ApprovalDecisionState, string, error)

	// DMCapable reports whether this channel can carry an interactive
	// approval prompt at all. The Dispatcher passes it to the policy gate
	// as GateInput.ChannelDMCapable; the gate's decision does not depend
	// on it, and approval prompts still go to this turn's ReplySink.
	DMCapable() bool
}

// ApprovalDeadline is the default window RequestDecision implementations
// should honor absent a more specific per-call override (spec §5
// "Approval waits have their own timeout (default 5 min)").
const ApprovalDeadline = 5 * time.Minute
