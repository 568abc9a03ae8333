package audit

import (
	"encoding/json"
	"testing"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

func TestReplayFromMessagesPairsToolUseWithResult(t *testing.T) {
	messages := []models.Message{
		{
			Role: models.RoleAssistant,
			Blocks: []models.Block{
				{Type: models.BlockText, Text: "let me check"},
				{Type: models.BlockToolUse, ToolUseID: "call-1", ToolName: "read", ToolInput: json.RawMessage(`{"path":"a.go"}`)},
			},
		},
		{
			Role: models.RoleUser,
			Blocks: []models.Block{
				{Type: models.BlockToolResult, ToolResultForID: "call-1", Output: "file contents", IsError: false},
			},
		},
	}

	calls := ReplayFromMessages("sess-1", messages)
	if len(calls) != 1 {
		t.Fatalf("ReplayFromMessages returned %d calls, want 1", len(calls))
	}
	if calls[0].ID != "call-1" || calls[0].ToolName != "read" {
		t.Errorf("call = %#v, want ID call-1 / ToolName read", calls[0])
	}
	if calls[0].Outcome != models.ToolOutcomeOK {
		t.Errorf("call.Outcome = %q, want %q", calls[0].Outcome, models.ToolOutcomeOK)
	}
	if calls[0].SessionID != "sess-1" {
		t.Errorf("call.SessionID = %q, want %q", calls[0].SessionID, "sess-1")
	}
}

func TestReplayFromMessagesMarksErrorOutcome(t *testing.T) {
	messages := []models.Message{
		{
			Role: models.RoleAssistant,
			Blocks: []models.Block{
				{Type: models.BlockToolUse, ToolUseID: "call-2", ToolName: "bash"},
			},
		},
		{
			Role: models.RoleUser,
			Blocks: []models.Block{
				{Type: models.BlockToolResult, ToolResultForID: "call-2", Output: "boom", IsError: true},
			},
		},
	}

	calls := ReplayFromMessages("sess-1", messages)
	if len(calls) != 1 || calls[0].Outcome != models.ToolOutcomeError {
		t.Errorf("calls = %#v, want one call with outcome %q", calls, models.ToolOutcomeError)
	}
}

func TestReplayFromMessagesLeavesUnansweredCallWithZeroOutcome(t *testing.T) {
	messages := []models.Message{
		{
			Role: models.RoleAssistant,
			Blocks: []models.Block{
				{Type: models.BlockToolUse, ToolUseID: "call-3", ToolName: "write"},
			},
		},
	}

	calls := ReplayFromMessages("sess-1", messages)
	if len(calls) != 1 {
		t.Fatalf("ReplayFromMessages returned %d calls, want 1", len(calls))
	}
	if calls[0].Outcome != "" {
		t.Errorf("call.Outcome = %q, want empty for a tool_use never answered by a tool_result", calls[0].Outcome)
	}
}

func TestReplayFromMessagesIgnoresResultWithNoMatchingCall(t *testing.T) {
	messages := []models.Message{
		{
			Role: models.RoleUser,
			Blocks: []models.Block{
				{Type: models.BlockToolResult, ToolResultForID: "orphan", Output: "x"},
			},
		},
	}

	calls := ReplayFromMessages("sess-1", messages)
	if len(calls) != 0 {
		t.Errorf("ReplayFromMessages returned %d calls, want 0 for a transcript with no tool_use blocks", len(calls))
	}
}

func TestReplayFromMessagesPreservesCallOrder(t *testing.T) {
	messages := []models.Message{
		{
			Role: models.RoleAssistant,
			Blocks: []models.Block{
				{Type: models.BlockToolUse, ToolUseID: "call-a", ToolName: "read"},
				{Type: models.BlockToolUse, ToolUseID: "call-b", ToolName: "grep"},
			},
		},
		{
			Role: models.RoleUser,
			Blocks: []models.Block{
				{Type: models.BlockToolResult, ToolResultForID: "call-b", Output: "ok"},
				{Type: models.BlockToolResult, ToolResultForID: "call-a", Output: "ok"},
			},
		},
	}

	calls := ReplayFromMessages("sess-1", messages)
	if len(calls) != 2 || calls[0].ID != "call-a" || calls[1].ID != "call-b" {
		t.Errorf("calls = %#v, want order preserved as [call-a, call-b]", calls)
	}
	for _, c := range calls {
		if c.Outcome != models.ToolOutcomeOK {
			t.Errorf("call %s outcome = %q, want ok", c.ID, c.Outcome)
		}
	}
}
