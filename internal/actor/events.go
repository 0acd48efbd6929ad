package actor

import "github.com/Reynold-degenracy/EverMindAgent/internal/agentrun"

// EventKind discriminates an actor-level event (spec.md §4.2.4).
type EventKind string

const (
	// EventKindMessage carries a human-readable status note, e.g. "Actor
	// status: running."
	EventKindMessage EventKind = "message"
	// EventKindAgent forwards an agentrun.Event unchanged.
	EventKindAgent EventKind = "agent"
)

// Event is published to every subscriber registered via Worker.On.
type Event struct {
	Kind    EventKind
	Message string
	Agent   *agentrun.Event
}
