package anthropic

import (
	"encoding/json"

	"github.com/codemesh/codemesh/internal/core"
)

// toWireMessages implements the common request-shaping recipe from
// §4.1: fold system messages into the dedicated `system` slot, translate
// roles, translate content parts, expand assistant tool-calls into
// tool_use blocks, and wrap tool-role messages as tool_result blocks
// remapped to role "user" (the role Anthropic expects tool replies on).
func toWireMessages(messages []core.Message) (system string, wire []wireMessage) {
	for _, m := range messages {
		if m.Role == core.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.PlainText()
			continue
		}

		switch m.Role {
		case core.RoleTool:
			wire = append(wire, wireMessage{
				Role: "user",
				Content: []wireContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.PlainText(),
				}},
			})
		case core.RoleAssistant:
			var blocks []wireContentBlock
			if text := m.PlainText(); text != "" {
				blocks = append(blocks, wireContentBlock{Type: "text", Text: text})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, wireContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			wire = append(wire, wireMessage{Role: "assistant", Content: blocks})
		default: // user
			wire = append(wire, wireMessage{Role: "user", Content: toWireParts(m.Content)})
		}
	}
	return system, wire
}

func toWireParts(parts []core.ContentPart) []wireContentBlock {
	var blocks []wireContentBlock
	for _, p := range parts {
		switch p.Type {
		case core.PartText:
			blocks = append(blocks, wireContentBlock{Type: "text", Text: p.Text})
		case core.PartImage:
			src := &wireImageSource{}
			if p.URL != "" {
				src.Type = "url"
				src.URL = p.URL
			} else {
				src.Type = "base64"
				src.MediaType = p.MediaType
				src.Data = p.Data
			}
			blocks = append(blocks, wireContentBlock{Type: "image", Source: src})
		}
	}
	return blocks
}

func toWireTools(defs []core.ToolDefinition) []wireTool {
	tools := make([]wireTool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, wireTool{Name: d.Name, Description: d.Description, InputSchema: d.Parameters})
	}
	return tools
}

// fromWireResponse converts a non-streaming messages response into a
// core.GenerateResult.
func fromWireResponse(resp messagesResponse) core.GenerateResult {
	var content string
	var calls []core.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "tool_use":
			calls = append(calls, core.ToolCall{ID: block.ID, Name: block.Name, Arguments: json.RawMessage(block.Input)})
		}
	}
	return core.GenerateResult{
		Content:      content,
		ToolCalls:    calls,
		Usage:        core.NewUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens),
		FinishReason: mapStopReason(resp.StopReason),
	}
}

func mapStopReason(reason string) core.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return core.FinishStop
	case "max_tokens":
		return core.FinishLength
	case "tool_use":
		return core.FinishToolCalls
	default:
		return core.FinishStop
	}
}
