package sessions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sess, err := store.GetOrCreate(ctx, models.ChannelCLI, "test-scope")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return store, sess.ID
}

func TestAppendMessageAcceptsWellFormedTurn(t *testing.T) {
	ctx := context.Background()
	store, sessionID := newTestStore(t)

	if _, err := store.AppendMessage(ctx, sessionID, models.Message{
		Role: models.RoleUser, Blocks: []models.Block{models.TextBlock("read a.go")}, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("AppendMessage (user): %v", err)
	}
	if _, err := store.AppendMessage(ctx, sessionID, models.Message{
		Role:       models.RoleAssistant,
		StopReason: models.StopToolUse,
		Blocks:     []models.Block{models.ToolUseBlock("call-1", "read", json.RawMessage(`{}`))},
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("AppendMessage (tool_use): %v", err)
	}
	if _, err := store.AppendMessage(ctx, sessionID, models.Message{
		Role: models.RoleUser, Blocks: []models.Block{models.ToolResultBlock("call-1", "contents", false)}, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("AppendMessage (tool_result): %v", err)
	}

	history, err := store.History(ctx, sessionID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("History returned %d messages, want 3", len(history))
	}
}

func TestAppendMessageRejectsUnknownToolResultID(t *testing.T) {
	ctx := context.Background()
	store, sessionID := newTestStore(t)

	_, err := store.AppendMessage(ctx, sessionID, models.Message{
		Role: models.RoleUser, Blocks: []models.Block{models.ToolResultBlock("never-issued", "x", false)}, CreatedAt: time.Now().UTC(),
	})
	if err == nil {
		t.Fatal("expected AppendMessage to reject a tool_result referencing an unissued tool_use id")
	}

	history, histErr := store.History(ctx, sessionID)
	if histErr != nil {
		t.Fatalf("History: %v", histErr)
	}
	if len(history) != 0 {
		t.Errorf("History returned %d messages, want 0 — rejected append must not persist", len(history))
	}
}

func TestAppendMessageRejectsDuplicateToolUseID(t *testing.T) {
	ctx := context.Background()
	store, sessionID := newTestStore(t)

	if _, err := store.AppendMessage(ctx, sessionID, models.Message{
		Role: models.RoleAssistant, Blocks: []models.Block{models.ToolUseBlock("call-1", "read", nil)}, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("AppendMessage (first tool_use): %v", err)
	}

	_, err := store.AppendMessage(ctx, sessionID, models.Message{
		Role: models.RoleAssistant, Blocks: []models.Block{models.ToolUseBlock("call-1", "read", nil)}, CreatedAt: time.Now().UTC(),
	})
	if err == nil {
		t.Fatal("expected AppendMessage to reject a reused tool_use id")
	}

	count, countErr := store.MessageCount(ctx, sessionID)
	if countErr != nil {
		t.Fatalf("MessageCount: %v", countErr)
	}
	if count != 1 {
		t.Errorf("MessageCount = %d, want 1 — the rejected duplicate must not persist", count)
	}
}
