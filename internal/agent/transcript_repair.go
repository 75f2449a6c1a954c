package agent

import "github.com/haasonsaas/warden/pkg/models"

const interruptedToolResult = "Tool call was interrupted before it produced a result."

// repairTranscript makes history acceptable to strict backends: tool results
// that answer no open call are dropped, and calls left unanswered when the
// conversation moves on get a synthetic error result.
func repairTranscript(history []models.Message) []models.Message {
	if len(history) == 0 {
		return history
	}

	var pendingOrder []string
	pending := make(map[string]struct{})
	repaired := make([]models.Message, 0, len(history))

	closePending := func() {
		for _, id := range pendingOrder {
			if _, ok := pending[id]; !ok {
				continue
			}
			repaired = append(repaired, models.Message{
				SessionID:   sessionOf(history),
				Role:        models.RoleTool,
				ToolResults: []models.ToolResult{{ToolCallID: id, Content: interruptedToolResult, IsError: true}},
				IsError:     true,
			})
			delete(pending, id)
		}
		pendingOrder = pendingOrder[:0]
	}

	for _, msg := range history {
		switch msg.Role {
		case models.RoleTool:
			fixed := make([]models.ToolResult, 0, len(msg.ToolResults))
			for _, res := range msg.ToolResults {
				if _, ok := pending[res.ToolCallID]; ok {
					delete(pending, res.ToolCallID)
					fixed = append(fixed, res)
				}
			}
			if len(fixed) == 0 {
				continue
			}
			msg.ToolResults = fixed
			repaired = append(repaired, msg)
		case models.RoleAssistant:
			closePending()
			repaired = append(repaired, msg)
			for _, call := range msg.ToolCalls {
				if call.ID == "" {
					continue
				}
				pending[call.ID] = struct{}{}
				pendingOrder = append(pendingOrder, call.ID)
			}
		default:
			closePending()
			repaired = append(repaired, msg)
		}
	}
	return repaired
}

func sessionOf(history []models.Message) string {
	if len(history) == 0 {
		return ""
	}
	return history[0].SessionID
}
