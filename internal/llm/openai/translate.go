package openai

import (
	"encoding/json"

	"github.com/codemesh/codemesh/internal/core"
)

// ToChatMessages translates core.Message into the flat OpenAI-compatible
// message list: unlike Anthropic there is no dedicated system slot, so
// system messages pass through as role "system" and tool replies keep
// role "tool" addressed by tool_call_id. Exported for reuse by the Azure
// adapter, which shares this wire format.
func ToChatMessages(messages []core.Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case core.RoleTool:
			out = append(out, Message{
				Role:       "tool",
				Content:    m.PlainText(),
				ToolCallID: m.ToolCallID,
			})
		case core.RoleAssistant:
			msg := Message{Role: "assistant", Content: m.PlainText()}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: ToolCallFunction{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, msg)
		default:
			out = append(out, Message{Role: string(m.Role), Content: m.PlainText()})
		}
	}
	return out
}

// ToChatTools translates core.ToolDefinition into OpenAI-compatible
// function-tool declarations.
func ToChatTools(defs []core.ToolDefinition) []Tool {
	tools := make([]Tool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return tools
}

// FromChatResponse converts the first choice of a non-streaming response
// into a core.GenerateResult.
func FromChatResponse(resp *ChatResponse) core.GenerateResult {
	choice := resp.Choices[0]
	var calls []core.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		calls = append(calls, core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	content, _ := choice.Message.Content.(string)
	return core.GenerateResult{
		Content:      content,
		ToolCalls:    calls,
		Usage:        core.NewUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		FinishReason: MapFinishReason(choice.FinishReason),
	}
}

// MapFinishReason maps an OpenAI-compatible finish_reason string onto the
// shared core.FinishReason vocabulary.
func MapFinishReason(reason string) core.FinishReason {
	switch reason {
	case "stop":
		return core.FinishStop
	case "length":
		return core.FinishLength
	case "tool_calls", "function_call":
		return core.FinishToolCalls
	case "content_filter":
		return core.FinishContentFilter
	default:
		return core.FinishStop
	}
}
