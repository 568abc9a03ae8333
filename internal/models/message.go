// Package models defines the wire- and storage-level data types shared by
// every core component: messages, sessions, tools, tool calls, memory
// entries, and approval requests (spec §3).
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleToolResult Role = "tool_result"

	// RoleSystem marks a synthetic, driver-authored message — currently only
	// the compaction summary that replaces a session's oldest messages
	// (spec §4.5 "Compaction").
	RoleSystem Role = "system"
)

// BlockType discriminates the kind of content carried by a Block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockThinking   BlockType = "thinking"
)

// Block is one content block within a Message. Exactly one of the typed
// fields is populated, selected by Type. Thinking blocks are carried
// opaquely: persisted verbatim, never surfaced to a channel (spec §9).
type Block struct {
	Type BlockType `json:"type"`

	// Text is populated when Type == BlockText or BlockThinking.
	Text string `json:"text,omitempty"`

	// ToolUse fields, populated when Type == BlockToolUse.
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`

	// ToolResult fields, populated when Type == BlockToolResult.
	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	Output          string `json:"output,omitempty"`
	IsError         bool   `json:"is_error,omitempty"`
}

// TextBlock constructs a final-text content block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ToolUseBlock constructs a tool-use content block with an opaque id.
func ToolUseBlock(id, name string, input json.RawMessage) Block {
	return Block{Type: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResultBlock constructs a tool-result content block referencing the
// originating tool_use id.
func ToolResultBlock(toolUseID, output string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolResultForID: toolUseID, Output: output, IsError: isError}
}

// StopReason mirrors the normalized provider stop/finish reason (spec §4.2).
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// Message is one entry in a session's ordered log (spec §3).
//
// Invariant: every ToolResult block's ToolResultForID must match a ToolUse
// block's ToolUseID that appeared earlier in the same session (checked by
// sessions.ValidateTranscript).
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Blocks     []Block    `json:"blocks"`
	StopReason StopReason `json:"stop_reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ToolUseIDs returns the ids of every ToolUse block in the message, in order.
func (m Message) ToolUseIDs() []string {
	var ids []string
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}

// FinalText concatenates the text of a message's Text blocks.
func (m Message) FinalText() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// Usage reports token accounting returned by the provider for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
