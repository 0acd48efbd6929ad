package scheduler

import (
	"context"
	"encoding/json"
)

// Status is a job's lifecycle position.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is a persisted one-shot or recurring unit of work (spec.md §3, Job).
// IDs are opaque strings assigned by the store.
type Job struct {
	ID       string
	Name     string
	RunAt    int64 // Unix ms
	Data     json.RawMessage
	Interval string // duration string ("5m") or cron expression; empty for one-shot
	Unique   string // collapse key; empty means no collapsing

	Status      Status
	LockedBy    string
	LockExpires int64 // Unix ms, 0 when unlocked
	Attempts    int
	LastError   string
}

// Spec describes a job to schedule or reschedule.
type Spec struct {
	Name     string
	RunAt    int64
	Data     json.RawMessage
	Interval string
	Unique   string
}

// Filter scopes ListJobs.
type Filter struct {
	Name   string
	Status Status
}

// Handler processes one firing of a named job. A non-nil error marks the
// firing failed; the scheduler does not retry beyond what the handler
// itself implements (spec.md §4.5: "not specified here").
type Handler func(ctx context.Context, job Job) error
