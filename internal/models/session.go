package models

import "time"

// ChannelKind identifies the inbound channel family (spec §3). Concrete
// channel adapters (Discord, Telegram, HTTP, WebSocket, CLI) are external
// collaborators; the core only needs to key sessions by kind+scope.
type ChannelKind string

const (
	ChannelDiscord   ChannelKind = "discord"
	ChannelTelegram  ChannelKind = "telegram"
	ChannelSlack     ChannelKind = "slack"
	ChannelHTTP      ChannelKind = "http"
	ChannelWebSocket ChannelKind = "websocket"
	ChannelCLI       ChannelKind = "cli"
)

// Session is the durable per-channel conversation (spec §3).
//
// Identity is (ChannelKind, ChannelScope), e.g. (discord,
// "guild:123/channel:456"); DMs use a per-user scope. Messages are
// append-only and alternate user/assistant at turn boundaries, though a
// single turn may contain many intermediate tool-use/tool-result pairs.
type Session struct {
	ID             string
	ChannelKind    ChannelKind
	ChannelScope   string
	SystemPrompt   string   // optional override
	ToolAllowlist  []string // optional override; nil means "use default manifest"
	CreatedAt      time.Time
	TouchedAt      time.Time
}

// Key returns the stable lookup key for a channel identity.
func (s Session) Key() string {
	return string(s.ChannelKind) + ":" + s.ChannelScope
}
