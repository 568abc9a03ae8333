package sessions

import (
	"testing"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

func TestValidateTranscriptAcceptsWellFormedTurn(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Blocks: []models.Block{models.TextBlock("read a.go")}},
		{
			Role:       models.RoleAssistant,
			StopReason: models.StopToolUse,
			Blocks:     []models.Block{models.ToolUseBlock("call-1", "read", nil)},
		},
		{Role: models.RoleUser, Blocks: []models.Block{models.ToolResultBlock("call-1", "contents", false)}},
		{
			Role:       models.RoleAssistant,
			StopReason: models.StopEndTurn,
			Blocks:     []models.Block{models.TextBlock("done")},
		},
	}

	if err := ValidateTranscript(messages); err != nil {
		t.Errorf("ValidateTranscript() = %v, want nil for a well-formed turn", err)
	}
}

func TestValidateTranscriptRejectsUnknownToolResultID(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Blocks: []models.Block{models.ToolResultBlock("never-issued", "x", false)}},
	}
	if err := ValidateTranscript(messages); err == nil {
		t.Error("expected a tool_result referencing an unissued tool_use id to fail")
	}
}

func TestValidateTranscriptRejectsDuplicateToolUseID(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleAssistant, Blocks: []models.Block{models.ToolUseBlock("call-1", "read", nil)}},
		{Role: models.RoleUser, Blocks: []models.Block{models.ToolResultBlock("call-1", "x", false)}},
		{Role: models.RoleAssistant, Blocks: []models.Block{models.ToolUseBlock("call-1", "read", nil)}},
	}
	if err := ValidateTranscript(messages); err == nil {
		t.Error("expected a reused tool_use id to fail")
	}
}

func TestValidateTranscriptRejectsMultipleEndTurnsInOneTurn(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Blocks: []models.Block{models.TextBlock("hi")}},
		{Role: models.RoleAssistant, StopReason: models.StopEndTurn, Blocks: []models.Block{models.TextBlock("first reply")}},
		{Role: models.RoleAssistant, StopReason: models.StopEndTurn, Blocks: []models.Block{models.TextBlock("second reply, same turn")}},
	}
	if err := ValidateTranscript(messages); err == nil {
		t.Error("expected two end_turn assistant messages before the next user message to fail")
	}
}

func TestValidateTranscriptAllowsEndTurnAfterNewUserMessage(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Blocks: []models.Block{models.TextBlock("hi")}},
		{Role: models.RoleAssistant, StopReason: models.StopEndTurn, Blocks: []models.Block{models.TextBlock("first reply")}},
		{Role: models.RoleUser, Blocks: []models.Block{models.TextBlock("follow up")}},
		{Role: models.RoleAssistant, StopReason: models.StopEndTurn, Blocks: []models.Block{models.TextBlock("second reply, next turn")}},
	}
	if err := ValidateTranscript(messages); err != nil {
		t.Errorf("ValidateTranscript() = %v, want nil across two separate turns", err)
	}
}

func TestValidateTranscriptEmptyTranscript(t *testing.T) {
	if err := ValidateTranscript(nil); err != nil {
		t.Errorf("ValidateTranscript(nil) = %v, want nil", err)
	}
}
