package tool

import (
	"context"
	"encoding/json"

	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
)

// EmaReplyPayload is the structured content of a successful ema_reply
// tool result (spec.md §8, scenario 1): the model's private reasoning,
// a short expression label, an action label, and the text actually
// delivered to the user.
type EmaReplyPayload struct {
	Think      string `json:"think"`
	Expression string `json:"expression"`
	Action     string `json:"action"`
	Response   string `json:"response"`
}

const emaReplySchema = `{
  "type": "object",
  "required": ["think", "expression", "action", "response"],
  "properties": {
    "think": {"type": "string"},
    "expression": {"type": "string"},
    "action": {"type": "string"},
    "response": {"type": "string"}
  }
}`

// NewEmaReply builds the built-in ema_reply tool. Execute only validates
// and echoes the payload back as the tool result content; the run loop
// (internal/agentrun) is responsible for parsing that content into an
// EmaReplyPayload and emitting emaReplyReceived.
func NewEmaReply() Tool {
	return Tool{
		Name:        NameEmaReply,
		Description: "Deliver the agent's reply to the user, along with its internal reasoning, expression, and action labels.",
		Parameters:  json.RawMessage(emaReplySchema),
		Execute: func(_ context.Context, args json.RawMessage, _ any) contentmodel.ToolResult {
			var payload EmaReplyPayload
			if err := json.Unmarshal(args, &payload); err != nil {
				return contentmodel.ToolResult{Success: false, Error: "invalid ema_reply payload: " + err.Error()}
			}
			return contentmodel.ToolResult{Success: true, Content: string(args)}
		},
	}
}

// ParseEmaReply decodes a successful ema_reply tool result's content into
// an EmaReplyPayload.
func ParseEmaReply(content string) (EmaReplyPayload, error) {
	var payload EmaReplyPayload
	err := json.Unmarshal([]byte(content), &payload)
	return payload, err
}
