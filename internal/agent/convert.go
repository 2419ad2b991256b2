package agent

import (
	"github.com/codemesh/codemesh/internal/core"
	"github.com/codemesh/codemesh/internal/llm"
	"github.com/codemesh/codemesh/internal/llm/openai"
)

// toCoreMessages converts the wire conversation history carried through
// session persistence and the stream-json protocol layer into the
// provider-agnostic model a llm.Model speaks.
func toCoreMessages(messages []openai.Message) []core.Message {
	out := make([]core.Message, 0, len(messages))
	for _, m := range messages {
		msg := core.Message{Role: core.Role(m.Role), ToolCallID: m.ToolCallID}
		if text, ok := m.Content.(string); ok && text != "" {
			msg.Content = []core.ContentPart{{Type: core.PartText, Text: text}}
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, core.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}
		out = append(out, msg)
	}
	return out
}

// toCoreTools converts the tool runner's OpenAI-shaped specs into the
// provider-agnostic tool definitions a llm.Model's GenerateOptions takes.
func toCoreTools(specs []openai.Tool) []core.ToolDefinition {
	defs := make([]core.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		defs = append(defs, core.ToolDefinition{
			Name:        s.Function.Name,
			Description: s.Function.Description,
			Parameters:  s.Function.Parameters,
		})
	}
	return defs
}

// fromGenerateResult converts a provider's result back into the wire
// message shape the rest of the agent loop (history, callbacks, session
// persistence) already speaks.
func fromGenerateResult(result llm.GenerateResult) openai.Message {
	msg := openai.Message{Role: "assistant", Content: result.Content}
	for _, tc := range result.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ToolCallFunction{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return msg
}

// usageFromCore adapts core.Usage to the wire Usage shape RunResult
// reports.
func usageFromCore(u core.Usage) openai.Usage {
	return openai.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// toStreamResponse wraps one core.StreamChunk as a synthetic OpenAI SSE
// event, so the stream-json emitter and interactive UI callbacks (built
// against openai.StreamResponse) keep working unchanged no matter which
// llm.Provider actually served the chunk.
func toStreamResponse(model string, chunk core.StreamChunk) openai.StreamResponse {
	choice := openai.StreamChoice{
		Index: 0,
		Delta: openai.StreamDelta{Content: chunk.TextDelta},
	}
	for i, tc := range chunk.ToolCalls {
		choice.Delta.ToolCalls = append(choice.Delta.ToolCalls, openai.StreamToolCallDelta{
			Index: i,
			ID:    tc.ID,
			Type:  "function",
			Function: openai.StreamToolCallFunctionDelta{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	if chunk.FinishReason != "" {
		reason := string(chunk.FinishReason)
		choice.FinishReason = &reason
	}
	return openai.StreamResponse{Model: model, Choices: []openai.StreamChoice{choice}}
}
