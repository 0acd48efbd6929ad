package agentrun

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Reynold-degenracy/EverMindAgent/internal/agentstate"
	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
	"github.com/Reynold-degenracy/EverMindAgent/internal/eventbus"
	"github.com/Reynold-degenracy/EverMindAgent/internal/llm"
	"github.com/Reynold-degenracy/EverMindAgent/internal/retry"
	"github.com/Reynold-degenracy/EverMindAgent/internal/telemetry"
	"github.com/Reynold-degenracy/EverMindAgent/internal/tool"
)

type scriptedClient struct {
	mu       sync.Mutex
	turns    []func() (llm.Response, error)
	nextTurn int
}

func (c *scriptedClient) Generate(ctx context.Context, _ []contentmodel.Message, _ []tool.Tool, _ string) (llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextTurn >= len(c.turns) {
		return llm.Response{}, errors.New("scriptedClient: no more turns scripted")
	}
	turn := c.turns[c.nextTurn]
	c.nextTurn++
	return turn()
}

func collectEvents(bus *eventbus.Bus[Event]) *[]Event {
	var events []Event
	bus.Subscribe(func(e Event) { events = append(events, e) })
	return &events
}

func TestExecuteEchoScenario(t *testing.T) {
	replyArgs, _ := json.Marshal(tool.EmaReplyPayload{Think: "t", Expression: "普通", Action: "无", Response: "hi"})
	client := &scriptedClient{turns: []func() (llm.Response, error){
		func() (llm.Response, error) {
			return llm.Response{
				Message: contentmodel.NewModelMessage(nil, []contentmodel.ToolCall{
					{Name: tool.NameEmaReply, Args: replyArgs},
				}),
			}, nil
		},
		func() (llm.Response, error) {
			return llm.Response{Message: contentmodel.NewModelMessage([]contentmodel.Content{contentmodel.NewText("done")}, nil), FinishReason: "stop"}, nil
		},
	}}

	bus := eventbus.New[Event]()
	events := collectEvents(bus)
	registry := tool.NewRegistry([]tool.Tool{tool.NewEmaReply()})
	state := agentstate.New("prompt", []contentmodel.Message{
		contentmodel.NewUserMessage("", "", contentmodel.NewText("hello")),
	}, registry.List(), nil)

	run := New(Config{MaxSteps: 5}, client, bus, telemetry.NewNoop().Logger)
	run.Execute(context.Background(), state, registry)

	require.Len(t, *events, 2)
	assert.Equal(t, EventEmaReplyReceived, (*events)[0].Name)
	assert.Equal(t, "hi", (*events)[0].EmaReply.Reply.Response)
	assert.Equal(t, EventRunFinished, (*events)[1].Name)
	assert.True(t, (*events)[1].RunFinished.OK)

	// The stored tool message's content was cleared since the reply has
	// already been delivered as an event (spec.md §4.3, step 5).
	found := false
	for _, m := range state.Messages {
		if m.Role == contentmodel.RoleTool && m.ToolName == tool.NameEmaReply {
			found = true
			assert.Empty(t, m.ToolResult.Content)
		}
	}
	assert.True(t, found)
}

func TestExecuteUnknownToolProducesFailureResult(t *testing.T) {
	client := &scriptedClient{turns: []func() (llm.Response, error){
		func() (llm.Response, error) {
			return llm.Response{Message: contentmodel.NewModelMessage(nil, []contentmodel.ToolCall{{Name: "does_not_exist"}})}, nil
		},
		func() (llm.Response, error) {
			return llm.Response{Message: contentmodel.NewModelMessage(nil, nil), FinishReason: "stop"}, nil
		},
	}}
	bus := eventbus.New[Event]()
	registry := tool.NewRegistry(nil)
	state := agentstate.New("prompt", nil, nil, nil)
	run := New(Config{MaxSteps: 5}, client, bus, telemetry.NewNoop().Logger)
	run.Execute(context.Background(), state, registry)

	var toolMsg *contentmodel.Message
	for i := range state.Messages {
		if state.Messages[i].Role == contentmodel.RoleTool {
			toolMsg = &state.Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.False(t, toolMsg.ToolResult.Success)
	assert.Contains(t, toolMsg.ToolResult.Error, "Unknown tool")
}

func TestExecuteStepLimitExceeded(t *testing.T) {
	client := &scriptedClient{}
	// Always return a tool call so the loop never terminates on its own.
	for i := 0; i < 3; i++ {
		client.turns = append(client.turns, func() (llm.Response, error) {
			return llm.Response{Message: contentmodel.NewModelMessage(nil, []contentmodel.ToolCall{{Name: "noop"}})}, nil
		})
	}
	registry := tool.NewRegistry([]tool.Tool{{
		Name: "noop",
		Execute: func(context.Context, json.RawMessage, any) contentmodel.ToolResult {
			return contentmodel.ToolResult{Success: true}
		},
	}})
	bus := eventbus.New[Event]()
	events := collectEvents(bus)
	state := agentstate.New("prompt", nil, registry.List(), nil)
	run := New(Config{MaxSteps: 3}, client, bus, telemetry.NewNoop().Logger)
	run.Execute(context.Background(), state, registry)

	require.Len(t, *events, 1)
	rf := (*events)[0].RunFinished
	require.NotNil(t, rf)
	assert.False(t, rf.OK)
	assert.Contains(t, rf.Msg, "3 steps")
}

func TestExecuteAbortBeforeGenerate(t *testing.T) {
	client := &scriptedClient{turns: []func() (llm.Response, error){
		func() (llm.Response, error) {
			return llm.Response{}, nil
		},
	}}
	bus := eventbus.New[Event]()
	events := collectEvents(bus)
	registry := tool.NewRegistry(nil)
	state := agentstate.New("prompt", nil, nil, nil)
	run := New(Config{MaxSteps: 5}, client, bus, telemetry.NewNoop().Logger)
	run.Abort()
	run.Execute(context.Background(), state, registry)

	require.Len(t, *events, 1)
	assert.Equal(t, "Aborted", (*events)[0].RunFinished.Msg)
}

func TestExecuteRetryExhaustedSurfacesAsRunFinished(t *testing.T) {
	exhausted := &retry.Exhausted{Attempts: 4, LastError: errors.New("down")}
	client := &scriptedClient{turns: []func() (llm.Response, error){
		func() (llm.Response, error) { return llm.Response{}, exhausted },
	}}
	bus := eventbus.New[Event]()
	events := collectEvents(bus)
	registry := tool.NewRegistry(nil)
	state := agentstate.New("prompt", nil, nil, nil)
	run := New(Config{MaxSteps: 5}, client, bus, telemetry.NewNoop().Logger)
	run.Execute(context.Background(), state, registry)

	require.Len(t, *events, 1)
	assert.False(t, (*events)[0].RunFinished.OK)
}

func TestExecuteSilentStopOnUnrecognizedError(t *testing.T) {
	client := &scriptedClient{turns: []func() (llm.Response, error){
		func() (llm.Response, error) { return llm.Response{}, errors.New("boom") },
	}}
	bus := eventbus.New[Event]()
	events := collectEvents(bus)
	registry := tool.NewRegistry(nil)
	state := agentstate.New("prompt", nil, nil, nil)
	run := New(Config{MaxSteps: 5}, client, bus, telemetry.NewNoop().Logger)
	run.Execute(context.Background(), state, registry)

	assert.Empty(t, *events)
}

func TestAbortDuringGenerateFinishesAsAborted(t *testing.T) {
	started := make(chan struct{})
	blocked := make(chan struct{})
	client := &scriptedClient{turns: []func() (llm.Response, error){
		func() (llm.Response, error) {
			close(started)
			<-blocked
			return llm.Response{}, context.Canceled
		},
	}}
	bus := eventbus.New[Event]()
	events := collectEvents(bus)
	registry := tool.NewRegistry(nil)
	state := agentstate.New("prompt", nil, nil, nil)
	run := New(Config{MaxSteps: 5}, client, bus, telemetry.NewNoop().Logger)

	done := make(chan struct{})
	go func() {
		run.Execute(context.Background(), state, registry)
		close(done)
	}()

	<-started
	run.Abort()
	close(blocked)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not complete after abort")
	}
	require.Len(t, *events, 1)
	assert.Equal(t, "Aborted", (*events)[0].RunFinished.Msg)
}
