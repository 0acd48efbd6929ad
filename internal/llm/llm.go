// Package llm defines the LLM client contract the agent run loop
// consumes (spec.md §6): Generate(messages, tools, systemPrompt, cancel)
// -> Response. Concrete adapters (internal/llm/openai,
// internal/llm/google) translate this contract to a specific provider's
// wire API, following the shape of the teacher's per-provider
// features/model adapters (e.g. features/model/openai/client.go).
package llm

import (
	"context"
	"errors"

	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
	"github.com/Reynold-degenracy/EverMindAgent/internal/tool"
)

// ErrStreamingUnsupported is returned by adapters that only implement
// non-streaming completion, mirroring the teacher's
// model.ErrStreamingUnsupported sentinel.
var ErrStreamingUnsupported = errors.New("llm: streaming is not supported by this adapter")

// Response is one LLM turn: the model's message (possibly carrying tool
// calls), why the turn ended, and token accounting when the provider
// reports it.
type Response struct {
	Message      contentmodel.Message
	FinishReason string
	TotalTokens  int
}

// Client is the contract consumed by the agent run loop (C5). Tools is
// the set the model may call; systemPrompt is sent as provider-specific
// framing. Implementations must honor ctx cancellation promptly: the
// worker's abort propagates through this context (spec.md §5).
type Client interface {
	Generate(ctx context.Context, messages []contentmodel.Message, tools []tool.Tool, systemPrompt string) (Response, error)
}
