// Package contentmodel defines the wire-level data model shared by the
// actor worker, the agent run loop, and the conversation store: Content,
// Message, ToolCall/ToolResult, and the persistence-oriented BufferMessage.
package contentmodel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ContentKind discriminates a Content variant.
type ContentKind string

// ContentKindText is the only Content variant the core accepts today.
// Other kinds are recognized at the boundary but rejected until the core
// explicitly supports them (spec.md §3, DATA MODEL → Content).
const ContentKindText ContentKind = "text"

const (
	// ContentKindImage is accepted at decode time but not yet supported by
	// any run-loop or actor operation.
	ContentKindImage ContentKind = "image"
)

// Content is a discriminated value carried by messages. Text is the only
// variant the core operates on; other kinds round-trip through JSON but
// fail validation in ValidateText.
type Content struct {
	Kind ContentKind `json:"kind"`
	Text string      `json:"text,omitempty"`
}

// NewText builds a text Content.
func NewText(text string) Content {
	return Content{Kind: ContentKindText, Text: text}
}

// ErrUnsupportedContent is returned when a Content value other than text is
// used where the core requires text (e.g. ActorWorker.Work inputs).
var ErrUnsupportedContent = errors.New("contentmodel: unsupported content kind")

// ValidateText reports an error unless c is a well-formed text Content.
func (c Content) ValidateText() error {
	if c.Kind != ContentKindText {
		return fmt.Errorf("%w: %q", ErrUnsupportedContent, c.Kind)
	}
	return nil
}

// MessageRole discriminates a Message variant.
type MessageRole string

const (
	// RoleUser is a message authored by the human participant.
	RoleUser MessageRole = "user"
	// RoleModel is a message authored by the LLM.
	RoleModel MessageRole = "model"
	// RoleTool is a message carrying the result of a tool execution.
	RoleTool MessageRole = "tool"
)

// ToolCall is a model-requested function invocation.
type ToolCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
	// ThoughtSignature is opaque provider-specific state (e.g. an encrypted
	// chain-of-thought token) that must be echoed back verbatim on the next
	// turn. The core never inspects it.
	ThoughtSignature []byte `json:"thought_signature,omitempty"`
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Message is one of three variants: user, model, or tool. Exactly the
// fields relevant to Role are meaningful; the others are zero.
type Message struct {
	Role MessageRole `json:"role"`

	// user / model
	Contents []Content `json:"contents,omitempty"`

	// user
	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`

	// model
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// tool
	ToolID     string     `json:"tool_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	ToolResult ToolResult `json:"tool_result,omitempty"`
}

// NewUserMessage builds a user Message from one or more Content values.
func NewUserMessage(name, id string, contents ...Content) Message {
	return Message{Role: RoleUser, Contents: contents, Name: name, ID: id}
}

// NewModelMessage builds a model Message.
func NewModelMessage(contents []Content, toolCalls []ToolCall) Message {
	return Message{Role: RoleModel, Contents: contents, ToolCalls: toolCalls}
}

// NewToolMessage builds a tool-role Message carrying a ToolResult.
func NewToolMessage(id, name string, result ToolResult) Message {
	return Message{Role: RoleTool, ToolID: id, ToolName: name, ToolResult: result}
}

// Text concatenates the text of every text Content in the message, in
// order. Non-text content is skipped.
func (m Message) Text() string {
	var out string
	for _, c := range m.Contents {
		if c.Kind == ContentKindText {
			out += c.Text
		}
	}
	return out
}

// HasPendingToolCalls reports whether m is a model message that carries
// tool calls. It does not look at the rest of the history, so it stays
// true after the matching tool results have been appended; the resume
// path (AgentState.PrepareForResume, SPEC_FULL.md §4, Open Question 2)
// counts those results itself.
func (m Message) HasPendingToolCalls() bool {
	return m.Role == RoleModel && len(m.ToolCalls) > 0
}
