package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/codemesh/codemesh/internal/core"
	"github.com/codemesh/codemesh/internal/errs"
)

// toolCallBuffer accumulates one in-flight tool_use content block's
// partial JSON arguments until its content_block_stop arrives.
type toolCallBuffer struct {
	name    string
	partial string
}

// Decoder is the pull-driven state machine described in §4.2: fed raw
// transport bytes, it yields a lazy sequence of core.StreamChunk ending
// on a terminal finish-reason or `[DONE]`.
type Decoder struct {
	frames    FrameParser
	toolCalls map[int]*toolCallBuffer
	finished  bool
	// stopReasonSeen records that message_delta already emitted a finish
	// reason, so message_stop does not override it.
	stopReasonSeen bool
}

// NewDecoder builds an empty Decoder ready to Feed.
func NewDecoder() *Decoder {
	return &Decoder{toolCalls: make(map[int]*toolCallBuffer)}
}

// Feed appends transport bytes for later Next calls to consume.
func (d *Decoder) Feed(chunk []byte) {
	d.frames.Feed(chunk)
}

// Finished reports whether a terminal event has already been observed.
func (d *Decoder) Finished() bool { return d.finished }

// anthropicEvent mirrors the dominant Anthropic-shaped SSE payload
// shape; unknown fields are ignored (forward-compatible).
type anthropicEvent struct {
	Type string `json:"type"`

	Index        *int `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Next pulls the next available chunk out of the buffered frames,
// returning ok=false when the buffer is exhausted (the caller should
// Feed more bytes and call again). Once Finished() is true, Next always
// returns ok=false.
func (d *Decoder) Next() (chunk core.StreamChunk, ok bool) {
	if d.finished {
		return core.StreamChunk{}, false
	}
	for {
		frame, got := d.frames.NextFrame()
		if !got {
			return core.StreamChunk{}, false
		}
		data := frame.Data
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			d.finished = true
			return core.StreamChunk{FinishReason: core.FinishStop}, true
		}

		var event anthropicEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			d.finished = true
			return core.StreamChunk{Err: errs.Wrap(errs.Provider, err, "decode stream event")}, true
		}

		chunk, emit, terminal := d.interpret(event)
		if terminal {
			d.finished = true
		}
		if emit {
			return chunk, true
		}
		if terminal {
			return core.StreamChunk{}, false
		}
		// no-output event (message_start, …): keep pulling frames.
	}
}

// interpret applies one event to decoder state, returning the chunk to
// emit (if emit is true) and whether this event terminates the stream.
func (d *Decoder) interpret(event anthropicEvent) (chunk core.StreamChunk, emit bool, terminal bool) {
	switch event.Type {
	case "message_start":
		return core.StreamChunk{}, false, false

	case "content_block_start":
		if event.Index != nil && event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			d.toolCalls[*event.Index] = &toolCallBuffer{name: event.ContentBlock.Name}
		}
		return core.StreamChunk{}, false, false

	case "content_block_delta":
		if event.Delta == nil {
			return core.StreamChunk{}, false, false
		}
		switch event.Delta.Type {
		case "text_delta":
			return core.StreamChunk{TextDelta: event.Delta.Text}, true, false
		case "input_json_delta":
			if event.Index != nil {
				if buf, ok := d.toolCalls[*event.Index]; ok {
					buf.partial += event.Delta.PartialJSON
				}
			}
			return core.StreamChunk{}, false, false
		}
		return core.StreamChunk{}, false, false

	case "content_block_stop":
		if event.Index == nil {
			return core.StreamChunk{}, false, false
		}
		buf, ok := d.toolCalls[*event.Index]
		if !ok {
			return core.StreamChunk{}, false, false
		}
		delete(d.toolCalls, *event.Index)

		var args json.RawMessage
		raw := buf.partial
		if raw == "" {
			raw = "{}"
		}
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return core.StreamChunk{Err: errs.New(errs.Provider, fmt.Sprintf("malformed tool call arguments for %q: %v", buf.name, err))}, true, true
		}
		return core.StreamChunk{ToolCalls: []core.ToolCall{{
			ID:        uuid.NewString(),
			Name:      buf.name,
			Arguments: args,
		}}}, true, false

	case "message_delta":
		if event.Delta == nil || event.Delta.StopReason == "" {
			return core.StreamChunk{}, false, false
		}
		d.stopReasonSeen = true
		return core.StreamChunk{FinishReason: mapStopReason(event.Delta.StopReason)}, true, false

	case "message_stop":
		if d.stopReasonSeen {
			return core.StreamChunk{}, false, true
		}
		return core.StreamChunk{FinishReason: core.FinishStop}, true, true

	case "error":
		msg := "stream error"
		if event.Error != nil {
			msg = event.Error.Message
		}
		return core.StreamChunk{Err: errs.New(errs.Provider, msg)}, true, true

	default:
		// unknown event type: ignored, forward-compatible.
		return core.StreamChunk{}, false, false
	}
}

func mapStopReason(reason string) core.FinishReason {
	switch reason {
	case "end_turn":
		return core.FinishStop
	case "max_tokens":
		return core.FinishLength
	case "tool_use":
		return core.FinishToolCalls
	case "stop_sequence":
		return core.FinishStop
	default:
		return core.FinishStop
	}
}
