package actor

import (
	"context"
	"sync/atomic"

	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
	"github.com/Reynold-degenracy/EverMindAgent/internal/store"
	"github.com/Reynold-degenracy/EverMindAgent/internal/telemetry"
)

// bufferWriter is the ordered, single-consumer buffer-write pipeline
// (spec.md §4.2.3): a channel feeds one goroutine that persists
// BufferMessages in the exact order they were enqueued, regardless of
// individual failures. A failed write is logged and does not block or
// reorder the jobs behind it (best-effort durability, spec.md §4.2.6 /
// §7).
type bufferWriter struct {
	conversationID int
	conv           *store.ConversationStore
	log            telemetry.Logger
	jobs           chan contentmodel.BufferMessage
	seq            atomic.Int64
	done           chan struct{}
}

func newBufferWriter(ctx context.Context, conversationID int, conv *store.ConversationStore, log telemetry.Logger) *bufferWriter {
	w := &bufferWriter{
		conversationID: conversationID,
		conv:           conv,
		log:            log,
		jobs:           make(chan contentmodel.BufferMessage, 256),
		done:           make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

// enqueue hands a BufferMessage write to the pipeline without waiting for
// the persistence call; it blocks only while 256 writes are already queued.
func (w *bufferWriter) enqueue(msg contentmodel.BufferMessage) {
	w.jobs <- msg
}

func (w *bufferWriter) run(ctx context.Context) {
	defer close(w.done)
	for msg := range w.jobs {
		seq := w.seq.Add(1)
		if err := w.conv.Append(ctx, seq, msg); err != nil {
			w.log.Error(ctx, "actor: buffer write failed", "conversationId", w.conversationID, "seq", seq, "error", err.Error())
		}
	}
}

// close stops accepting new writes and waits for the queued ones to
// drain. Nothing in the module calls it: workers have no teardown
// operation and their pipelines run until the process exits.
func (w *bufferWriter) close() {
	close(w.jobs)
	<-w.done
}
