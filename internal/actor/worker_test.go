package actor

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
	"github.com/Reynold-degenracy/EverMindAgent/internal/llm"
	"github.com/Reynold-degenracy/EverMindAgent/internal/store"
	"github.com/Reynold-degenracy/EverMindAgent/internal/store/memstore"
	"github.com/Reynold-degenracy/EverMindAgent/internal/telemetry"
	"github.com/Reynold-degenracy/EverMindAgent/internal/tool"
)

// scriptedLLM serves one scripted Response per call, blocking on release
// channels when present so tests can control interleaving with Work().
type scriptedLLM struct {
	mu      sync.Mutex
	calls   int
	gate    chan struct{}
	respond func(call int) (llm.Response, error)
}

func (c *scriptedLLM) Generate(ctx context.Context, _ []contentmodel.Message, _ []tool.Tool, _ string) (llm.Response, error) {
	c.mu.Lock()
	call := c.calls
	c.calls++
	c.mu.Unlock()
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	return c.respond(call)
}

func emaReply(text string) llm.Response {
	args, _ := json.Marshal(tool.EmaReplyPayload{Think: "t", Expression: "x", Action: "none", Response: text})
	return llm.Response{Message: contentmodel.NewModelMessage(nil, []contentmodel.ToolCall{{Name: tool.NameEmaReply, Args: args}})}
}

func finalStop() llm.Response {
	return llm.Response{Message: contentmodel.NewModelMessage([]contentmodel.Content{contentmodel.NewText("done")}, nil), FinishReason: "stop"}
}

func newTestWorker(t *testing.T, client llm.Client) (*Worker, *store.ConversationStore) {
	t.Helper()
	conv := store.NewConversationStore(memstore.New())
	cfg := Config{
		Key:                  Key{UserID: 1, ActorID: 1, ConversationID: 1},
		SystemPromptTemplate: "system prompt, recent:\n{MEMORY_BUFFER}",
		MemoryBufferSize:     10,
		MaxSteps:             5,
		Tools:                []tool.Tool{tool.NewEmaReply()},
		LLMClient:            client,
		Conversation:         conv,
		Telemetry:            telemetry.NewNoop(),
	}
	return New(context.Background(), cfg), conv
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func TestWorkEchoScenarioPersistsUserAndReply(t *testing.T) {
	client := &scriptedLLM{respond: func(call int) (llm.Response, error) {
		if call == 0 {
			return emaReply("hi there"), nil
		}
		return finalStop(), nil
	}}
	w, conv := newTestWorker(t, client)

	err := w.Work(context.Background(), []contentmodel.Content{contentmodel.NewText("hello")})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return w.Status() == StatusIdle })

	var msgs []contentmodel.BufferMessage
	waitFor(t, time.Second, func() bool {
		var err error
		msgs, err = conv.Tail(context.Background(), 1, 10)
		require.NoError(t, err)
		return len(msgs) >= 2
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, contentmodel.BufferKindUser, msgs[0].Kind)
	assert.Equal(t, "hello", msgs[0].Text())
	assert.Equal(t, contentmodel.BufferKindActor, msgs[1].Kind)
	assert.Equal(t, "hi there", msgs[1].Text())
}

func TestWorkRejectsEmptyInput(t *testing.T) {
	w, _ := newTestWorker(t, &scriptedLLM{respond: func(int) (llm.Response, error) { return finalStop(), nil }})
	err := w.Work(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestWorkRejectsNonTextContent(t *testing.T) {
	w, _ := newTestWorker(t, &scriptedLLM{respond: func(int) (llm.Response, error) { return finalStop(), nil }})
	err := w.Work(context.Background(), []contentmodel.Content{{Kind: contentmodel.ContentKindImage}})
	assert.ErrorIs(t, err, contentmodel.ErrUnsupportedContent)
}

// TestWorkAbortResumeBeforeReply exercises the pre-reply abort-resume path
// (spec.md §4.2.2): a second Work() call arriving before any ema_reply has
// been published aborts the in-flight run and the pending user message is
// appended to the resumed state rather than starting a fresh one.
func TestWorkAbortResumeBeforeReply(t *testing.T) {
	gate := make(chan struct{})
	client := &scriptedLLM{gate: gate, respond: func(call int) (llm.Response, error) {
		switch call {
		case 0:
			return llm.Response{}, context.Canceled
		case 1:
			return emaReply("second turn reply"), nil
		default:
			return finalStop(), nil
		}
	}}
	w, conv := newTestWorker(t, client)

	err := w.Work(context.Background(), []contentmodel.Content{contentmodel.NewText("first")})
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool { return w.Status() == StatusRunning })

	done := make(chan error, 1)
	go func() {
		done <- w.Work(context.Background(), []contentmodel.Content{contentmodel.NewText("second")})
	}()

	// Let the first (blocked) Generate call observe the abort, then release it.
	waitFor(t, time.Second, func() bool { return w.IsBusy() })
	close(gate)

	require.NoError(t, <-done)
	waitFor(t, time.Second, func() bool { return w.Status() == StatusIdle })

	var msgs []contentmodel.BufferMessage
	waitFor(t, time.Second, func() bool {
		var err error
		msgs, err = conv.Tail(context.Background(), 1, 10)
		require.NoError(t, err)
		return len(msgs) >= 3
	})
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, "first", msgs[0].Text())
	assert.Equal(t, "second", msgs[1].Text())
	assert.Equal(t, contentmodel.BufferKindActor, msgs[2].Kind)
	assert.Equal(t, "second turn reply", msgs[2].Text())
}

func TestAssembleSystemPromptSubstitutesMemoryBuffer(t *testing.T) {
	client := &scriptedLLM{respond: func(int) (llm.Response, error) { return emaReply("ok"), nil }}
	w, conv := newTestWorker(t, client)

	require.NoError(t, conv.Append(context.Background(), 1, contentmodel.NewUserBufferMessage(1, "", "", []contentmodel.Content{contentmodel.NewText("earlier message")}, 1000)))

	prompt, err := w.assembleSystemPrompt(context.Background())
	require.NoError(t, err)
	assert.Contains(t, prompt, "earlier message")
	assert.NotContains(t, prompt, MemoryBufferToken)
}

func TestAssembleSystemPromptNoHistory(t *testing.T) {
	client := &scriptedLLM{respond: func(int) (llm.Response, error) { return emaReply("ok"), nil }}
	w, _ := newTestWorker(t, client)

	prompt, err := w.assembleSystemPrompt(context.Background())
	require.NoError(t, err)
	assert.Contains(t, prompt, "None.")
}

// concurrencyTrackingLLM counts the number of Generate calls in flight at
// once, recording the maximum observed.
type concurrencyTrackingLLM struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (c *concurrencyTrackingLLM) Generate(ctx context.Context, _ []contentmodel.Message, _ []tool.Tool, _ string) (llm.Response, error) {
	n := c.inFlight.Add(1)
	for {
		cur := c.maxSeen.Load()
		if n <= cur || c.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	c.inFlight.Add(-1)
	return emaReply("ok"), nil
}

// TestWorkNeverRunsConcurrentAgentRuns checks spec.md §8's P1 (mutual
// exclusion): across any number of Work() calls fired at a single worker
// without waiting for completion, at most one LLM generate call is ever
// in flight at once.
func TestWorkNeverRunsConcurrentAgentRuns(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("at most one active run per worker across N racing callers", prop.ForAll(
		func(n int) bool {
			client := &concurrencyTrackingLLM{}
			w, _ := newTestWorker(t, client)

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_ = w.Work(context.Background(), []contentmodel.Content{contentmodel.NewText("msg")})
				}(i)
			}
			wg.Wait()
			waitFor(t, time.Second, func() bool { return w.Status() == StatusIdle })

			return client.maxSeen.Load() <= 1
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
