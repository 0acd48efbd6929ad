// Package agentrun implements the bounded step-and-tool agent run loop
// (spec.md §4.3, component C5): it interleaves LLM calls and tool
// executions over an agentstate.State, honoring cooperative
// cancellation and emitting exactly the runFinished / emaReplyReceived
// events the actor worker and its subscribers observe. The control flow
// is grounded on the run/queue idiom of the teacher's
// runtime/agents/runtime/workflow.go ExecuteWorkflow loop and the
// cancellation-token shape of runtime/agent/engine/engine.go, simplified
// from a durable-workflow engine down to a single in-process goroutine.
package agentrun

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/Reynold-degenracy/EverMindAgent/internal/agentstate"
	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
	"github.com/Reynold-degenracy/EverMindAgent/internal/eventbus"
	"github.com/Reynold-degenracy/EverMindAgent/internal/llm"
	"github.com/Reynold-degenracy/EverMindAgent/internal/retry"
	"github.com/Reynold-degenracy/EverMindAgent/internal/telemetry"
	"github.com/Reynold-degenracy/EverMindAgent/internal/tool"
)

// Config bounds one run.
type Config struct {
	MaxSteps int
	// TokenLimit is not consulted by the loop, which is bounded by MaxSteps
	// only and does no token accounting (spec.md §4.3 specifies only the
	// step bound).
	TokenLimit int
}

// Run executes one bounded reasoning loop over state, publishing to bus.
// It owns a cancellation signal linked to abort(); callers that need to
// abort a run call Run.Abort(), not the passed-in ctx, so that multiple
// logical abort sources (worker-requested vs. process shutdown) stay
// distinguishable at the call site.
type Run struct {
	cfg    Config
	client llm.Client
	bus    *eventbus.Bus[Event]
	log    telemetry.Logger

	aborted atomic.Bool
	cancel  atomic.Pointer[context.CancelFunc]
}

// New builds a Run ready to Execute once.
func New(cfg Config, client llm.Client, bus *eventbus.Bus[Event], log telemetry.Logger) *Run {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 1
	}
	return &Run{cfg: cfg, client: client, bus: bus, log: log}
}

// Abort requests cancellation of the in-flight LLM call and tool, if
// any. Idempotent and non-blocking (spec.md §4.3, Abort contract).
func (r *Run) Abort() {
	if !r.aborted.CompareAndSwap(false, true) {
		return
	}
	if cancel := r.cancel.Load(); cancel != nil {
		(*cancel)()
	}
}

// Execute runs the bounded loop over state until it emits runFinished or
// ctx is done. state is mutated in place: appended model and tool
// messages remain on it after Execute returns, supporting the resume
// rule in agentstate.State.PrepareForResume.
func (r *Run) Execute(ctx context.Context, state *agentstate.State, registry *tool.Registry) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel.Store(&cancel)
	defer cancel()

	for step := 1; step <= r.cfg.MaxSteps; step++ {
		if r.isAborted(runCtx) {
			r.finish(false, "Aborted", nil)
			return
		}

		resp, err := r.client.Generate(runCtx, state.Messages, state.Tools, state.SystemPrompt)
		if err != nil {
			if r.isAborted(runCtx) {
				r.finish(false, "Aborted", nil)
				return
			}
			var exhausted *retry.Exhausted
			if errors.As(err, &exhausted) {
				r.finish(false, exhausted.Error(), exhausted)
				return
			}
			// Neither cancellation nor RetryExhausted: log and stop without
			// emitting runFinished (spec.md §7; SPEC_FULL.md §4, Open
			// Question 1 keeps this silent-stop behavior as specified).
			r.log.Error(runCtx, "agent run: llm generate failed without a distinguished cause", "error", err.Error())
			return
		}

		state.Messages = append(state.Messages, resp.Message)

		if len(resp.Message.ToolCalls) == 0 {
			r.finish(true, resp.FinishReason, nil)
			return
		}

		for _, call := range resp.Message.ToolCalls {
			if r.isAborted(runCtx) {
				r.finish(false, "Aborted", nil)
				return
			}
			result := r.executeToolCall(runCtx, registry, call)
			if call.Name == tool.NameEmaReply && result.Success {
				r.handleEmaReply(runCtx, result)
				result.Content = ""
			}
			state.Messages = append(state.Messages, contentmodel.NewToolMessage(call.Name, call.Name, result))
		}
	}

	r.finish(false, fmt.Sprintf("Task couldn't be completed after %d steps.", r.cfg.MaxSteps), nil)
}

func (r *Run) isAborted(ctx context.Context) bool {
	return r.aborted.Load() || ctx.Err() != nil
}

func (r *Run) executeToolCall(ctx context.Context, registry *tool.Registry, call contentmodel.ToolCall) contentmodel.ToolResult {
	t, ok := registry.Lookup(call.Name)
	if !ok {
		return contentmodel.ToolResult{Success: false, Error: "Unknown tool: " + call.Name}
	}
	return runToolSafely(ctx, t, call.Args)
}

// runToolSafely executes a tool's Execute function, converting a panic
// into a failure ToolResult rather than letting it escape the run loop
// (spec.md §4.3, step 5: "any thrown error is caught and packaged as a
// failure ToolResult containing the error class, message, and trace").
func runToolSafely(ctx context.Context, t tool.Tool, args []byte) (result contentmodel.ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = contentmodel.ToolResult{Success: false, Error: fmt.Sprintf("tool panic: %T: %v\n%s", rec, rec, debug.Stack())}
		}
	}()
	if err := t.ValidateArgs(args); err != nil {
		return contentmodel.ToolResult{Success: false, Error: err.Error()}
	}
	return t.Execute(ctx, args, nil)
}

func (r *Run) handleEmaReply(ctx context.Context, result contentmodel.ToolResult) {
	payload, err := tool.ParseEmaReply(result.Content)
	if err != nil {
		r.log.Error(ctx, "agent run: malformed ema_reply payload", "error", err.Error())
		return
	}
	r.bus.Publish(Event{Name: EventEmaReplyReceived, EmaReply: &EmaReplyReceived{Reply: payload}})
}

func (r *Run) finish(ok bool, msg string, err error) {
	r.bus.Publish(Event{Name: EventRunFinished, RunFinished: &RunFinished{OK: ok, Msg: msg, Error: err}})
}
