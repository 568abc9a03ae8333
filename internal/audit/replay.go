package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

// ReadFile decodes every Record from a single rotated log file, reversing
// encryption if key is set. Used by `gatewayd audit verify` and by tests
// checking the "idempotent replay of audit" property (spec §8).
func ReadFile(path string, key []byte) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	l := &Logger{key: key}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var out []Record
	for scanner.Scan() {
		raw, err := l.open(scanner.Bytes())
		if err != nil {
			return nil, fmt.Errorf("audit: decode line: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("audit: unmarshal line: %w", err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// ReplayFromMessages re-derives the tool_call audit trail a session's
// persisted message log implies: one entry per ToolUse block, correlated
// with the ToolResult that answers it. Used to verify that the live audit
// log and the session transcript agree (spec §8 "idempotent replay").
func ReplayFromMessages(sessionID string, messages []models.Message) []models.ToolCall {
	var calls []models.ToolCall
	pending := map[string]*models.ToolCall{}

	for _, msg := range messages {
		for _, b := range msg.Blocks {
			switch b.Type {
			case models.BlockToolUse:
				tc := &models.ToolCall{
					ID:        b.ToolUseID,
					ToolName:  b.ToolName,
					Input:     b.ToolInput,
					SessionID: sessionID,
				}
				pending[b.ToolUseID] = tc
				calls = append(calls, *tc)
			case models.BlockToolResult:
				if tc, ok := pending[b.ToolResultForID]; ok {
					outcome := models.ToolOutcomeOK
					if b.IsError {
						outcome = models.ToolOutcomeError
					}
					tc.Outcome = outcome
					for i := range calls {
						if calls[i].ID == tc.ID {
							calls[i].Outcome = outcome
						}
					}
				}
			}
		}
	}
	return calls
}
