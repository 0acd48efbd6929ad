// Package actor implements the Actor Worker (spec.md §4.2, component
// C6): a per-(user, actor, conversation) facade that serializes inputs,
// drives one agent run at a time, republishes its events, and persists
// conversation messages through an ordered write pipeline. The
// queue/run-management shape is grounded on the teacher's
// runtime/agents/runtime/workflow.go run/queue loop and its event
// fan-out on runtime/agent/hooks/bus.go, collapsed from a durable
// workflow engine to a single goroutine per worker.
package actor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Reynold-degenracy/EverMindAgent/internal/agentrun"
	"github.com/Reynold-degenracy/EverMindAgent/internal/agentstate"
	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
	"github.com/Reynold-degenracy/EverMindAgent/internal/eventbus"
	"github.com/Reynold-degenracy/EverMindAgent/internal/llm"
	"github.com/Reynold-degenracy/EverMindAgent/internal/store"
	"github.com/Reynold-degenracy/EverMindAgent/internal/telemetry"
	"github.com/Reynold-degenracy/EverMindAgent/internal/tool"
)

// Key uniquely identifies one Actor Worker instance in the process
// (spec.md §3, Actor key).
type Key struct {
	UserID         int
	ActorID        int
	ConversationID int
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d:%d", k.UserID, k.ActorID, k.ConversationID)
}

// Status is the worker's state machine position (spec.md §3).
type Status int

const (
	StatusIdle Status = iota
	StatusPreparing
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusPreparing:
		return "preparing"
	case StatusRunning:
		return "running"
	default:
		return "idle"
	}
}

// MemoryBufferToken is the literal placeholder substituted with recent
// conversation history when assembling a fresh system prompt (spec.md
// §4.2.5).
const MemoryBufferToken = "{MEMORY_BUFFER}"

// ErrEmptyInput is returned by Work when called with no content.
var ErrEmptyInput = errors.New("actor: work requires at least one content item")

// Config configures one Worker.
type Config struct {
	Key                  Key
	SystemPromptTemplate string
	MemoryBufferSize     int
	MaxSteps             int
	Tools                []tool.Tool
	ToolContext          any
	LLMClient            llm.Client
	Conversation         *store.ConversationStore
	Telemetry            telemetry.Telemetry
}

// Worker is the per-actor-key facade (spec.md §4.2).
type Worker struct {
	key         Key
	cfg         Config
	registry    *tool.Registry
	writer      *bufferWriter
	internalBus *eventbus.Bus[agentrun.Event]
	bus         *eventbus.Bus[Event]
	log         telemetry.Logger

	mu                    sync.Mutex
	queue                 []contentmodel.Message
	status                Status
	processingQueue       bool
	resumeStateAfterAbort bool
	hasEmaReplyInRun      bool
	state                 *agentstate.State
	currentRun            *agentrun.Run
	runDone               chan struct{}
}

// New builds an idle Worker for cfg.Key. ctx is passed to every write of
// the worker's background buffer-write pipeline; canceling it does not
// stop the pipeline goroutine, which keeps draining its queue.
func New(ctx context.Context, cfg Config) *Worker {
	if cfg.MemoryBufferSize <= 0 {
		cfg.MemoryBufferSize = 10
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 1
	}
	w := &Worker{
		key:         cfg.Key,
		cfg:         cfg,
		registry:    tool.NewRegistry(cfg.Tools),
		writer:      newBufferWriter(ctx, cfg.Key.ConversationID, cfg.Conversation, cfg.Telemetry.Logger),
		internalBus: eventbus.New[agentrun.Event](),
		bus:         eventbus.New[Event](),
		log:         cfg.Telemetry.Logger,
	}
	w.internalBus.Subscribe(w.handleAgentEvent)
	return w
}

// On subscribes to actor-level events; see Event.
func (w *Worker) On(handler func(Event)) eventbus.Subscription {
	return w.bus.Subscribe(handler)
}

// IsBusy reports whether status is not idle (spec.md §4.2).
func (w *Worker) IsBusy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status != StatusIdle
}

// Status returns the current state-machine position.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Work enqueues textual inputs and either starts or resumes processing
// (spec.md §4.2, §4.2.2).
func (w *Worker) Work(ctx context.Context, inputs []contentmodel.Content) error {
	if len(inputs) == 0 {
		return ErrEmptyInput
	}
	for _, c := range inputs {
		if err := c.ValidateText(); err != nil {
			return err
		}
	}

	now := time.Now().UnixMilli()
	w.writer.enqueue(contentmodel.NewUserBufferMessage(w.key.ConversationID, "", "", inputs, now))

	msg := contentmodel.NewUserMessage("", "", inputs...)

	w.mu.Lock()
	w.queue = append(w.queue, msg)
	busy := w.status != StatusIdle
	var abortRun *agentrun.Run
	var doneCh chan struct{}
	start := false
	if busy {
		abortRun = w.currentRun
		doneCh = w.runDone
		w.resumeStateAfterAbort = !w.hasEmaReplyInRun
	} else if !w.processingQueue {
		w.processingQueue = true
		start = true
	}
	w.mu.Unlock()

	if busy {
		if abortRun != nil {
			abortRun.Abort()
		}
		if doneCh != nil {
			<-doneCh
		}
		return nil
	}
	if !start {
		return nil
	}

	go w.processQueue(ctx)
	return nil
}

// processQueue drains the queue, one run at a time, until empty
// (spec.md §4.2.2). Re-entrancy is guarded by processingQueue: Work only
// spawns this goroutine when the worker transitions from idle to busy;
// a worker that is already busy relies on the in-flight processQueue
// loop to observe the enlarged queue once the current run completes.
func (w *Worker) processQueue(ctx context.Context) {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.processingQueue = false
			w.status = StatusIdle
			w.mu.Unlock()
			w.publishMessage("Actor status: idle.")
			return
		}
		w.status = StatusPreparing
		w.publishMessageLocked("Actor status: preparing.")
		batches := w.queue
		w.queue = nil
		resume := w.resumeStateAfterAbort
		w.mu.Unlock()

		state, err := w.buildState(ctx, resume, batches)
		if err != nil {
			w.log.Error(ctx, "actor: failed to assemble agent state", "error", err.Error())
			w.mu.Lock()
			w.processingQueue = false
			w.status = StatusIdle
			w.mu.Unlock()
			return
		}

		run := agentrun.New(agentrun.Config{MaxSteps: w.cfg.MaxSteps}, w.cfg.LLMClient, w.internalBus, w.log)
		done := make(chan struct{})

		w.mu.Lock()
		w.resumeStateAfterAbort = false
		w.hasEmaReplyInRun = false
		w.status = StatusRunning
		w.state = state
		w.currentRun = run
		w.runDone = done
		w.mu.Unlock()
		w.publishMessage("Actor status: running.")

		run.Execute(ctx, state, w.registry)
		close(done)

		w.mu.Lock()
		resuming := w.resumeStateAfterAbort
		w.currentRun = nil
		w.runDone = nil
		if !resuming {
			w.state = nil
		}
		w.mu.Unlock()
	}
}

func (w *Worker) buildState(ctx context.Context, resume bool, batches []contentmodel.Message) (*agentstate.State, error) {
	w.mu.Lock()
	existing := w.state
	w.mu.Unlock()

	if resume && existing != nil {
		existing.PrepareForResume(batches)
		return existing, nil
	}
	prompt, err := w.assembleSystemPrompt(ctx)
	if err != nil {
		return nil, err
	}
	return agentstate.New(prompt, batches, w.registry.List(), w.cfg.ToolContext), nil
}

// assembleSystemPrompt implements spec.md §4.2.5: read the most recent
// MemoryBufferSize messages in forward time order and substitute
// MemoryBufferToken with their rendering, one per line.
func (w *Worker) assembleSystemPrompt(ctx context.Context) (string, error) {
	template := w.cfg.SystemPromptTemplate
	if !strings.Contains(template, MemoryBufferToken) {
		return template, nil
	}
	recent, err := w.cfg.Conversation.Tail(ctx, w.key.ConversationID, w.cfg.MemoryBufferSize)
	if err != nil {
		return "", fmt.Errorf("actor: load recent buffer: %w", err)
	}
	rendering := "None."
	if len(recent) > 0 {
		lines := make([]string, 0, len(recent))
		for _, msg := range recent {
			lines = append(lines, renderBufferLine(msg))
		}
		rendering = strings.Join(lines, "\n")
	}
	return strings.ReplaceAll(template, MemoryBufferToken, rendering), nil
}

func renderBufferLine(msg contentmodel.BufferMessage) string {
	name := msg.Name
	if name == "" {
		if msg.Kind == contentmodel.BufferKindActor {
			name = "assistant"
		} else {
			name = "user"
		}
	}
	return fmt.Sprintf("[%d] %s: %s", msg.Time, name, msg.Text())
}

// handleAgentEvent relays a run's event to actor subscribers, applying
// the reply-durability-before-delivery ordering for emaReplyReceived
// (spec.md §4.2.4, property P4).
func (w *Worker) handleAgentEvent(e agentrun.Event) {
	if e.Name == agentrun.EventEmaReplyReceived && e.EmaReply != nil {
		w.mu.Lock()
		w.hasEmaReplyInRun = true
		w.resumeStateAfterAbort = false
		w.mu.Unlock()

		now := time.Now().UnixMilli()
		w.writer.enqueue(contentmodel.NewActorBufferMessage(w.key.ConversationID, "", "", e.EmaReply.Reply.Response, now))
	}
	w.bus.Publish(Event{Kind: EventKindAgent, Agent: &e})
}

func (w *Worker) publishMessage(text string) {
	w.bus.Publish(Event{Kind: EventKindMessage, Message: text})
}

// publishMessageLocked is called while w.mu is held by the caller;
// Publish only touches the bus's own lock, so this is safe without risk
// of a self-deadlock.
func (w *Worker) publishMessageLocked(text string) {
	w.publishMessage(text)
}
