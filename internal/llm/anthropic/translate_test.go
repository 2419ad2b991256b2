package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/codemesh/codemesh/internal/core"
)

func TestToWireMessagesFoldsSystemAndWrapsToolResult(t *testing.T) {
	messages := []core.Message{
		core.Text(core.RoleSystem, "be concise"),
		core.Text(core.RoleUser, "2+2?"),
		{
			Role:      core.RoleAssistant,
			ToolCalls: []core.ToolCall{{ID: "call_1", Name: "bash", Arguments: json.RawMessage(`{"command":"echo 4"}`)}},
		},
		{
			Role:       core.RoleTool,
			ToolCallID: "call_1",
			Content:    []core.ContentPart{{Type: core.PartText, Text: "4\n"}},
		},
	}

	system, wire := toWireMessages(messages)
	if system != "be concise" {
		t.Fatalf("expected system folded, got %q", system)
	}
	if len(wire) != 3 {
		t.Fatalf("expected 3 wire messages, got %d: %+v", len(wire), wire)
	}
	if wire[2].Role != "user" || wire[2].Content[0].Type != "tool_result" || wire[2].Content[0].ToolUseID != "call_1" {
		t.Fatalf("expected tool message remapped to user/tool_result, got %+v", wire[2])
	}
}

func TestFromWireResponseMapsStopReasons(t *testing.T) {
	resp := messagesResponse{StopReason: "tool_use", Content: []wireContentBlock{
		{Type: "text", Text: "ok"},
		{Type: "tool_use", ID: "t1", Name: "bash", Input: json.RawMessage(`{}`)},
	}}
	result := fromWireResponse(resp)
	if result.FinishReason != core.FinishToolCalls {
		t.Fatalf("expected tool_calls, got %v", result.FinishReason)
	}
	if result.Content != "ok" || len(result.ToolCalls) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
