package core

// FinishReason is why a generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// ToolDefinition describes one callable tool to a provider.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON-schema
}

// GenerateOptions configures a single generate/stream call.
type GenerateOptions struct {
	Temperature   float64          `json:"temperature"` // 0..2
	MaxTokens     int              `json:"max_tokens,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
}

// Usage is the prompt/completion/total token triple. Total is always the
// sum of the other two; NewUsage enforces that.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewUsage builds a Usage with Total derived, rather than trusted from
// the wire, so the invariant can never drift.
func NewUsage(prompt, completion int) Usage {
	return Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

// Add folds another usage sample in, keeping Total consistent.
func (u Usage) Add(other Usage) Usage {
	return NewUsage(u.PromptTokens+other.PromptTokens, u.CompletionTokens+other.CompletionTokens)
}

// GenerateResult is the outcome of a non-streaming generate call, and is
// also what folding an entire stream (Law R1) must reproduce.
type GenerateResult struct {
	Content      string       `json:"content"`
	ToolCalls    []ToolCall   `json:"tool_calls"`
	Usage        Usage        `json:"usage"`
	FinishReason FinishReason `json:"finish_reason"`
}

// StreamChunk is one increment of a streaming generate call.
type StreamChunk struct {
	TextDelta    string       `json:"text_delta,omitempty"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Err          error        `json:"-"`
}

// FoldChunks implements Law R1: concatenate text deltas, union tool-calls
// by call-id (last write per id wins, matching "assign a fresh call-id"
// at content_block_stop — each id appears in exactly one chunk), and take
// the last non-empty finish reason.
func FoldChunks(chunks []StreamChunk) GenerateResult {
	var result GenerateResult
	seen := map[string]int{} // call id -> index in result.ToolCalls
	for _, c := range chunks {
		result.Content += c.TextDelta
		for _, tc := range c.ToolCalls {
			if idx, ok := seen[tc.ID]; ok {
				result.ToolCalls[idx] = tc
				continue
			}
			seen[tc.ID] = len(result.ToolCalls)
			result.ToolCalls = append(result.ToolCalls, tc)
		}
		if c.FinishReason != "" {
			result.FinishReason = c.FinishReason
		}
	}
	return result
}
