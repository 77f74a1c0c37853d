package provider

import (
	"encoding/json"

	"github.com/cloudwego/eino/schema"

	"github.com/obra/lace-sub014/pkg/types"
)

// BuildMessages converts a working conversation into the message list a
// chat model consumes. SYSTEM_PROMPT and USER_SYSTEM_PROMPT become
// system messages (the user overlay after the base prompt); TOOL_CALL
// events fold into assistant messages; TOOL_RESULT events become tool
// messages keyed by call id. LOCAL_SYSTEM_MESSAGE, approval events, and
// COMPACTION markers are conversation bookkeeping and are skipped.
func BuildMessages(events []types.Event) []*schema.Message {
	var out []*schema.Message

	for _, ev := range events {
		switch ev.Tag {
		case types.TagSystemPrompt:
			if p, ok := ev.Payload.(types.SystemPromptPayload); ok {
				out = append(out, schema.SystemMessage(p.Text))
			}
		case types.TagUserSystemPrompt:
			if p, ok := ev.Payload.(types.UserSystemPromptPayload); ok {
				out = append(out, schema.SystemMessage(p.Text))
			}
		case types.TagUserMessage:
			if p, ok := ev.Payload.(types.UserMessagePayload); ok {
				out = append(out, schema.UserMessage(p.Text))
			}
		case types.TagAgentMessage:
			if p, ok := ev.Payload.(types.AgentMessagePayload); ok {
				out = append(out, schema.AssistantMessage(p.Text, nil))
			}
		case types.TagToolCall:
			if p, ok := ev.Payload.(types.ToolCallPayload); ok {
				args, _ := json.Marshal(p.Arguments)
				call := schema.ToolCall{
					ID: p.CallID,
					Function: schema.FunctionCall{
						Name:      p.ToolName,
						Arguments: string(args),
					},
				}
				// Providers require tool calls to hang off an assistant
				// message; fold consecutive calls into the previous one.
				if n := len(out); n > 0 && out[n-1].Role == schema.Assistant {
					out[n-1].ToolCalls = append(out[n-1].ToolCalls, call)
				} else {
					out = append(out, schema.AssistantMessage("", []schema.ToolCall{call}))
				}
			}
		case types.TagToolResult:
			switch p := ev.Payload.(type) {
			case types.ToolResultPayload:
				out = append(out, &schema.Message{
					Role:       schema.Tool,
					ToolCallID: p.CallID,
					Content:    flattenContent(p.Content),
				})
			case string:
				// Raw-string results from older compaction strategies
				// carry no call id; present them as plain tool output.
				out = append(out, &schema.Message{Role: schema.Tool, Content: p})
			}
		}
	}

	return out
}

func flattenContent(blocks []types.ContentBlock) string {
	text := ""
	for _, b := range blocks {
		switch b.Type {
		case "text":
			text += b.Text
		case "image":
			text += "[image: " + b.MimeType + "]"
		case "resource":
			text += "[resource: " + b.URI + "]"
		}
	}
	return text
}
