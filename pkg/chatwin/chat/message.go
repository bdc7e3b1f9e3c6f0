// Package chat implements the conversation core: the message model, the
// token-aware history optimizer with cached summarization, and the turn
// controller that drives the LLM tool-call loop.
package chat

import (
	"log/slog"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of a structured content part.
type PartType string

const (
	PartText        PartType = "text"
	PartImage       PartType = "image"
	PartFileContent PartType = "file_content"
	PartFileError   PartType = "file_error"
)

// ContentPart is one element of structured message content.
type ContentPart struct {
	Type PartType `json:"type"`

	// Text carries the payload for text, file_content and file_error parts.
	Text string `json:"text,omitempty"`

	// ImageURL is a data: or https: URL for image parts.
	ImageURL string `json:"image_url,omitempty"`

	// MimeType is the media type for image parts (e.g. "image/png").
	MimeType string `json:"mime_type,omitempty"`
}

// ToolCall is a tool invocation requested by the assistant.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // serialized JSON
}

// Message is one entry in a conversation history. Content is either plain
// text (Content) or structured parts (Parts); when Parts is non-empty it
// takes precedence.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// Text flattens the message content to a single string. Image parts render
// as a placeholder; file parts render their payload.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for i, p := range m.Parts {
		if i > 0 {
			b.WriteString("\n")
		}
		switch p.Type {
		case PartImage:
			b.WriteString("[image]")
		default:
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasImages reports whether the message carries any image parts.
func (m Message) HasImages() bool {
	for _, p := range m.Parts {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

// Normalize coerces a message into the well-formed shape the optimizer
// expects. Malformed input is a caller bug; it is repaired rather than
// rejected so a single bad message never takes down a turn. Anomalies are
// logged.
//
// Rules:
//   - An assistant message with tool calls keeps text-only content: any
//     structured parts are flattened to a plain string.
//   - A tool message's content is always a plain string, and a missing
//     tool_call_id becomes "".
//   - Tool calls without an id keep their slot (id stays empty).
func Normalize(m Message, logger *slog.Logger) Message {
	if logger == nil {
		logger = slog.Default()
	}

	if m.Role == RoleAssistant && len(m.ToolCalls) > 0 && len(m.Parts) > 0 {
		logger.Warn("assistant message with tool calls carried structured content, flattening",
			"parts", len(m.Parts),
		)
		m.Content = m.Text()
		m.Parts = nil
	}

	if m.Role == RoleTool {
		if len(m.Parts) > 0 {
			m.Content = m.Text()
			m.Parts = nil
		}
		if m.ToolCallID == "" {
			logger.Warn("tool message missing tool_call_id, coercing to empty string")
		}
	}

	return m
}

// NormalizeHistory applies Normalize to every message, returning a new
// slice. The input is never mutated.
func NormalizeHistory(history []Message, logger *slog.Logger) []Message {
	out := make([]Message, len(history))
	for i, m := range history {
		out[i] = Normalize(m, logger)
	}
	return out
}

// systemMessage builds a plain system-role message.
func systemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// StripImages replaces image parts with a text placeholder. Used when the
// target model has no vision support.
func StripImages(m Message) Message {
	if !m.HasImages() {
		return m
	}
	parts := make([]ContentPart, len(m.Parts))
	for i, p := range m.Parts {
		if p.Type == PartImage {
			parts[i] = ContentPart{Type: PartText, Text: "[image omitted: model has no vision support]"}
		} else {
			parts[i] = p
		}
	}
	m.Parts = parts
	return m
}
