package streaming

import (
	"encoding/json"
	"testing"

	"github.com/codemesh/codemesh/internal/core"
)

func drain(t *testing.T, d *Decoder, sse string) []core.StreamChunk {
	t.Helper()
	d.Feed([]byte(sse))
	var chunks []core.StreamChunk
	for {
		c, ok := d.Next()
		if !ok {
			break
		}
		chunks = append(chunks, c)
		if c.Err != nil {
			break
		}
	}
	return chunks
}

func TestDecoderToolCallRoundTrip(t *testing.T) {
	sse := "" +
		"data: {\"type\":\"message_start\"}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Let me compute... \"}}\n\n" +
		"data: {\"type\":\"content_block_start\",\"index\":1,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_1\",\"name\":\"bash\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"command\\\":\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"echo 4\\\"}\"}}\n\n" +
		"data: {\"type\":\"content_block_stop\",\"index\":1}\n\n" +
		"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"tool_use\"}}\n\n" +
		"data: {\"type\":\"message_stop\"}\n\n"

	d := NewDecoder()
	chunks := drain(t, d, sse)

	result := core.FoldChunks(chunks)
	if result.Content != "Let me compute... " {
		t.Fatalf("unexpected content: %q", result.Content)
	}
	if result.FinishReason != core.FinishToolCalls {
		t.Fatalf("expected tool_calls finish reason, got %v", result.FinishReason)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "bash" {
		t.Fatalf("unexpected tool calls: %+v", result.ToolCalls)
	}

	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(result.ToolCalls[0].Arguments, &args); err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if args.Command != "echo 4" {
		t.Fatalf("unexpected command arg: %q", args.Command)
	}
	if !d.Finished() {
		t.Fatal("expected decoder to report finished")
	}
}

func TestDecoderDoneSentinelTerminates(t *testing.T) {
	d := NewDecoder()
	chunks := drain(t, d, "data: [DONE]\n\n")
	if len(chunks) != 1 || chunks[0].FinishReason != core.FinishStop {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestDecoderIgnoresUnknownEventTypes(t *testing.T) {
	d := NewDecoder()
	chunks := drain(t, d, "data: {\"type\":\"ping\"}\n\ndata: [DONE]\n\n")
	if len(chunks) != 1 {
		t.Fatalf("expected unknown event ignored, got %+v", chunks)
	}
}

func TestDecoderMalformedToolArgsIsTerminalError(t *testing.T) {
	sse := "" +
		"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"name\":\"bash\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{not json\"}}\n\n" +
		"data: {\"type\":\"content_block_stop\",\"index\":0}\n\n"

	d := NewDecoder()
	chunks := drain(t, d, sse)
	if len(chunks) != 1 || chunks[0].Err == nil {
		t.Fatalf("expected terminal error chunk, got %+v", chunks)
	}
	if !d.Finished() {
		t.Fatal("expected decoder finished after terminal error")
	}
}

func TestFrameParserFeedAcrossPartialWrites(t *testing.T) {
	var p FrameParser
	p.Feed([]byte("data: {\"a\":"))
	if _, ok := p.NextFrame(); ok {
		t.Fatal("expected no frame yet")
	}
	p.Feed([]byte("1}\n\n"))
	frame, ok := p.NextFrame()
	if !ok {
		t.Fatal("expected a frame after completing the write")
	}
	if frame.Data != `{"a":1}` {
		t.Fatalf("unexpected frame data: %q", frame.Data)
	}
}
