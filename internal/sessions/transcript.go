package sessions

import (
	"fmt"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

// ValidateTranscript checks the turn-linearity invariant (spec §8): every
// ToolResult block's ToolResultForID must reference a ToolUse id that
// appeared earlier in the same session, tool_use ids are unique within the
// session, and at most one assistant message per turn carries
// StopEndTurn. The stop reason of the other assistant messages in a turn
// is not checked.
func ValidateTranscript(messages []models.Message) error {
	seenToolUseIDs := make(map[string]bool)
	sawFinalSinceLastUser := false

	for i, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			sawFinalSinceLastUser = false
			for _, b := range msg.Blocks {
				if b.Type == models.BlockToolResult {
					if !seenToolUseIDs[b.ToolResultForID] {
						return fmt.Errorf("sessions: message %d: tool_result references unknown tool_use id %q", i, b.ToolResultForID)
					}
				}
			}
		case models.RoleAssistant:
			for _, b := range msg.Blocks {
				if b.Type == models.BlockToolUse {
					if seenToolUseIDs[b.ToolUseID] {
						return fmt.Errorf("sessions: message %d: duplicate tool_use id %q", i, b.ToolUseID)
					}
					seenToolUseIDs[b.ToolUseID] = true
				}
			}
			if msg.StopReason == models.StopEndTurn {
				if sawFinalSinceLastUser {
					return fmt.Errorf("sessions: message %d: more than one end_turn assistant message in this turn", i)
				}
				sawFinalSinceLastUser = true
			}
		}
	}
	return nil
}
