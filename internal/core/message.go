// Package core holds the provider-agnostic data model shared by the
// session, the provider adapters, and the streaming decoder: messages,
// generate options/results, stream chunks, and finish reasons.
package core

import "fmt"

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates a ContentPart.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one element of a multi-part message body.
type ContentPart struct {
	Type PartType `json:"type"`

	// Text is set when Type == PartText.
	Text string `json:"text,omitempty"`

	// Image fields are set when Type == PartImage. Exactly one of URL or
	// (Data + MediaType) is populated.
	URL       string `json:"url,omitempty"`
	Data      string `json:"data,omitempty"` // base64
	MediaType string `json:"media_type,omitempty"`
}

// ToolCall is a provider-requested invocation of a named tool with JSON
// arguments, as produced mid-assistant-turn.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments []byte `json:"arguments"` // raw JSON object
}

// Message is one turn in a Session's conversation.
//
// Invariant: Role == RoleTool implies ToolCallID is set and Content is a
// single text part. Role == RoleSystem never carries image parts.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`

	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Text returns a message whose content is a single text part, the common
// case.
func Text(role Role, text string) Message {
	return Message{Role: role, Content: []ContentPart{{Type: PartText, Text: text}}}
}

// PlainText concatenates every text part of the message, ignoring images.
func (m Message) PlainText() string {
	var out string
	for _, p := range m.Content {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Validate enforces the role/content invariants from the data model.
func (m Message) Validate() error {
	if m.Role == RoleTool && m.ToolCallID == "" {
		return fmt.Errorf("core: role=tool requires tool_call_id")
	}
	if m.Role == RoleTool {
		for _, p := range m.Content {
			if p.Type != PartText {
				return fmt.Errorf("core: role=tool content must be text only")
			}
		}
	}
	if m.Role == RoleSystem {
		for _, p := range m.Content {
			if p.Type == PartImage {
				return fmt.Errorf("core: role=system may not contain image parts")
			}
		}
	}
	return nil
}
