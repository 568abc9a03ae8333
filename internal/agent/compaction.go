package agent

import (
	"context"
	"fmt"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/providers"
	"github.com/ainoobmenpg/cc-gateway/internal/sessions"
)

// compactionSystemPrompt instructs the summarizing call to produce a
// compact recap and nothing else. It never receives a tool manifest (spec
// §9 open question: "the summarizer must not trigger tool use"), which is
// the simpler of the two guards the spec offers — no max_iterations=1
// bookkeeping needed when there are no tools to call in the first place.
const compactionSystemPrompt = "Summarize the following conversation history concisely, preserving facts, decisions, and open threads a continuation would need. Output only the summary text."

// compactor replaces a session's oldest messages with a single LLM-written
// summary once the session grows past a high-water mark (spec §4.5
// "Compaction").
type compactor struct {
	store        sessions.Store
	provider     providers.Provider
	model        string
	highWater    int
	lowWater     int
}

// maybeCompact runs compaction if sessionID's message count exceeds the
// configured high-water mark. A no-op when compaction is disabled
// (highWater <= 0) or the session is still small.
func (c *compactor) maybeCompact(ctx context.Context, sessionID string) error {
	if c.highWater <= 0 {
		return nil
	}
	count, err := c.store.MessageCount(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("agent: compaction message count: %w", err)
	}
	if count <= c.highWater {
		return nil
	}

	history, err := c.store.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("agent: compaction history: %w", err)
	}

	low := c.lowWater
	if low <= 0 || low >= count {
		low = count / 2
	}
	replaceCount := count - low
	if replaceCount <= 0 || replaceCount > len(history) {
		return nil
	}
	oldest := history[:replaceCount]

	summary, err := c.summarize(ctx, oldest)
	if err != nil {
		return fmt.Errorf("agent: compaction summarize: %w", err)
	}

	summaryMsg := models.Message{
		ID:     "compaction-" + sessionID,
		Role:   models.RoleSystem,
		Blocks: []models.Block{models.TextBlock(summary)},
	}
	if err := c.store.ReplaceOldest(ctx, sessionID, replaceCount, summaryMsg); err != nil {
		return fmt.Errorf("agent: compaction replace: %w", err)
	}
	return nil
}

// summarize issues a single, tool-free provider call over the transcript
// slice being retired.
func (c *compactor) summarize(ctx context.Context, messages []models.Message) (string, error) {
	req := models.ProviderRequest{
		Model:    c.model,
		System:   compactionSystemPrompt,
		Messages: messages,
		// Tools deliberately omitted.
	}
	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.FirstText(), nil
}
