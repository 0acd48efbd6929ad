// Package agentstate holds the mutable state owned by one agent run: the
// system prompt, accumulated message history, enabled tool set, and the
// tool execution context. It generalizes the "per-run owned context"
// shape of the teacher's agent runtime workflow into the simple, directly
// mutable struct spec.md §3 calls AgentState.
package agentstate

import (
	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
	"github.com/Reynold-degenracy/EverMindAgent/internal/tool"
)

// State is owned by exactly one run at a time (spec.md §3). It is
// retained across runs only through PrepareForResume.
type State struct {
	SystemPrompt string
	Messages     []contentmodel.Message
	Tools        []tool.Tool
	ToolContext  any
}

// New builds a fresh AgentState: the given batches become the initial
// user messages, tools/toolContext come from configuration.
func New(systemPrompt string, batches []contentmodel.Message, tools []tool.Tool, toolContext any) *State {
	messages := make([]contentmodel.Message, len(batches))
	copy(messages, batches)
	return &State{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Tools:        tools,
		ToolContext:  toolContext,
	}
}

// PrepareForResume extends an existing state with newly queued batches,
// per the abort-resume rule (spec.md §4.2.2, Open Question 2 in
// SPEC_FULL.md §4): any trailing model message with pending tool calls
// that never received a matching tool result is dropped first, since an
// aborted run's partial tool-call cycle cannot be replayed into a new
// LLM turn.
func (s *State) PrepareForResume(batches []contentmodel.Message) {
	s.Messages = dropTrailingPendingToolCalls(s.Messages)
	s.Messages = append(s.Messages, batches...)
}

// dropTrailingPendingToolCalls removes the most recent model message with
// tool calls, together with whatever tool-result messages followed it,
// when that batch was cut short by an abort. The run loop appends tool
// results for a batch one at a time as each call finishes (run.go,
// Execute's per-call loop), so an abort between calls leaves some of the
// model message's ToolCalls without a matching result message at the
// tail of history; counting the trailing tool messages against
// len(ToolCalls) catches that case even though the very last message in
// history is a tool result, not the model message itself.
func dropTrailingPendingToolCalls(messages []contentmodel.Message) []contentmodel.Message {
	modelIdx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == contentmodel.RoleModel {
			modelIdx = i
			break
		}
	}
	if modelIdx == -1 || !messages[modelIdx].HasPendingToolCalls() {
		return messages
	}
	resolved := len(messages) - modelIdx - 1
	if resolved < len(messages[modelIdx].ToolCalls) {
		return messages[:modelIdx]
	}
	return messages
}
