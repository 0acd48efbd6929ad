package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Reynold-degenracy/EverMindAgent/internal/store"
)

// jobStore persists Jobs in the document store's agenda collection
// (spec.md §6, Persisted state layout), generalizing the teacher's
// ScheduledTask/TaskExecution split down to a single Job record per
// spec.md's simpler Job shape.
type jobStore struct {
	doc store.Document
}

func newJobStore(doc store.Document) *jobStore {
	return &jobStore{doc: doc}
}

func (s *jobStore) create(ctx context.Context, job Job) (string, error) {
	if job.Unique != "" {
		existing, err := s.findByUnique(ctx, job.Unique)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return existing.ID, nil
		}
	}
	id := uuid.NewString()
	if _, err := s.doc.UpsertEntity(ctx, store.CollectionAgenda, id, fieldsOf(job)); err != nil {
		return "", fmt.Errorf("scheduler: create job: %w", err)
	}
	return id, nil
}

func (s *jobStore) findByUnique(ctx context.Context, unique string) (*Job, error) {
	docs, err := s.doc.ListCollection(ctx, store.CollectionAgenda, store.ListFilter{Match: map[string]any{"unique": unique}, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("scheduler: lookup unique job: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	job := jobOf(docs[0])
	return &job, nil
}

func (s *jobStore) get(ctx context.Context, id string) (*Job, error) {
	doc, err := s.doc.GetEntity(ctx, store.CollectionAgenda, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("scheduler: get job: %w", err)
	}
	job := jobOf(doc)
	return &job, nil
}

func (s *jobStore) list(ctx context.Context, filter Filter) ([]Job, error) {
	match := map[string]any{}
	if filter.Name != "" {
		match["name"] = filter.Name
	}
	if filter.Status != "" {
		match["status"] = string(filter.Status)
	}
	docs, err := s.doc.ListCollection(ctx, store.CollectionAgenda, store.ListFilter{Match: match, Sort: []store.Sort{{Field: "runAt", Order: 1}}})
	if err != nil {
		return nil, fmt.Errorf("scheduler: list jobs: %w", err)
	}
	out := make([]Job, 0, len(docs))
	for _, d := range docs {
		out = append(out, jobOf(d))
	}
	return out, nil
}

// due returns pending jobs whose runAt has passed and that are not
// currently locked, oldest first, bounded by limit.
func (s *jobStore) due(ctx context.Context, nowMS int64, limit int) ([]Job, error) {
	docs, err := s.doc.ListCollection(ctx, store.CollectionAgenda, store.ListFilter{
		Match: map[string]any{"status": string(StatusPending)},
		Sort:  []store.Sort{{Field: "runAt", Order: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: list due jobs: %w", err)
	}
	out := make([]Job, 0, limit)
	for _, d := range docs {
		job := jobOf(d)
		if job.RunAt > nowMS {
			continue
		}
		if job.LockExpires > nowMS {
			continue
		}
		out = append(out, job)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// acquire locks job id for owner until lockUntilMS, transitioning it to
// running. Returns false if the job no longer exists or is already
// running under an unexpired lock (per-job locking, spec.md §4.5).
func (s *jobStore) acquire(ctx context.Context, id, owner string, lockUntilMS, nowMS int64) (bool, error) {
	doc, err := s.doc.GetEntity(ctx, store.CollectionAgenda, id)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("scheduler: acquire job: %w", err)
	}
	job := jobOf(doc)
	if job.Status == StatusRunning && job.LockExpires > nowMS {
		return false, nil
	}
	job.Status = StatusRunning
	job.LockedBy = owner
	job.LockExpires = lockUntilMS
	job.Attempts++
	if _, err := s.doc.UpsertEntity(ctx, store.CollectionAgenda, id, fieldsOf(job)); err != nil {
		return false, fmt.Errorf("scheduler: persist acquired job: %w", err)
	}
	return true, nil
}

func (s *jobStore) reschedule(ctx context.Context, id string, spec Spec) (bool, error) {
	doc, err := s.doc.GetEntity(ctx, store.CollectionAgenda, id)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("scheduler: reschedule job: %w", err)
	}
	job := jobOf(doc)
	if job.Status == StatusRunning {
		return false, nil
	}
	job.Name = spec.Name
	job.Data = spec.Data
	job.RunAt = spec.RunAt
	job.Interval = spec.Interval
	job.Status = StatusPending
	if _, err := s.doc.UpsertEntity(ctx, store.CollectionAgenda, id, fieldsOf(job)); err != nil {
		return false, fmt.Errorf("scheduler: persist rescheduled job: %w", err)
	}
	return true, nil
}

func (s *jobStore) cancel(ctx context.Context, id string) (bool, error) {
	doc, err := s.doc.GetEntity(ctx, store.CollectionAgenda, id)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("scheduler: cancel job: %w", err)
	}
	job := jobOf(doc)
	if job.Status == StatusRunning {
		return false, nil
	}
	if err := s.doc.DeleteEntity(ctx, store.CollectionAgenda, id); err != nil {
		return false, fmt.Errorf("scheduler: delete job: %w", err)
	}
	return true, nil
}

// reschedule to pending with a new runAt, used after a recurring job
// completes a firing (advance-to-next-interval) and to release a lock
// after a one-shot completes.
func (s *jobStore) complete(ctx context.Context, id string, nextRunAt int64, recurring bool, failErr error) error {
	doc, err := s.doc.GetEntity(ctx, store.CollectionAgenda, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("scheduler: load job on complete: %w", err)
	}
	job := jobOf(doc)
	job.LockedBy = ""
	job.LockExpires = 0
	switch {
	case failErr != nil:
		job.Status = StatusFailed
		job.LastError = failErr.Error()
	case recurring:
		job.Status = StatusPending
		job.RunAt = nextRunAt
		job.LastError = ""
	default:
		job.Status = StatusDone
		job.LastError = ""
	}
	if _, err := s.doc.UpsertEntity(ctx, store.CollectionAgenda, id, fieldsOf(job)); err != nil {
		return fmt.Errorf("scheduler: persist completed job: %w", err)
	}
	return nil
}

// releaseStale reverts jobs whose lock has expired back to pending so
// another worker (or this one) can re-acquire them (spec.md §4.5,
// at-least-once execution).
func (s *jobStore) releaseStale(ctx context.Context, nowMS int64) (int, error) {
	docs, err := s.doc.ListCollection(ctx, store.CollectionAgenda, store.ListFilter{Match: map[string]any{"status": string(StatusRunning)}})
	if err != nil {
		return 0, fmt.Errorf("scheduler: list running jobs: %w", err)
	}
	count := 0
	for _, d := range docs {
		job := jobOf(d)
		if job.LockExpires > nowMS {
			continue
		}
		job.Status = StatusPending
		job.LockedBy = ""
		job.LockExpires = 0
		if _, err := s.doc.UpsertEntity(ctx, store.CollectionAgenda, job.ID, fieldsOf(job)); err != nil {
			return count, fmt.Errorf("scheduler: release stale job: %w", err)
		}
		count++
	}
	return count, nil
}

func fieldsOf(job Job) map[string]any {
	var data any = json.RawMessage(job.Data)
	fields := map[string]any{
		"name":        job.Name,
		"runAt":       job.RunAt,
		"data":        data,
		"interval":    job.Interval,
		"status":      string(job.Status),
		"lockedBy":    job.LockedBy,
		"lockExpires": job.LockExpires,
		"attempts":    job.Attempts,
		"lastError":   job.LastError,
	}
	// unique is only set when the job carries a Unique collapse key
	// (spec.md §8, P7); omitting it otherwise keeps the sparse
	// unique index on "unique" (see store/mongo/client.go ensureIndexes)
	// from colliding every job without one onto the same empty value.
	if job.Unique != "" {
		fields["unique"] = job.Unique
	}
	return fields
}

func jobOf(doc map[string]any) Job {
	job := Job{}
	if id, ok := doc["id"].(string); ok {
		job.ID = id
	}
	job.Name, _ = doc["name"].(string)
	job.RunAt = int64Of(doc["runAt"])
	job.Interval, _ = doc["interval"].(string)
	job.Unique, _ = doc["unique"].(string)
	if status, ok := doc["status"].(string); ok {
		job.Status = Status(status)
	}
	job.LockedBy, _ = doc["lockedBy"].(string)
	job.LockExpires = int64Of(doc["lockExpires"])
	job.Attempts = int(int64Of(doc["attempts"]))
	job.LastError, _ = doc["lastError"].(string)
	job.Data = rawOf(doc["data"])
	return job
}

func int64Of(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func rawOf(v any) json.RawMessage {
	switch d := v.(type) {
	case json.RawMessage:
		return d
	case nil:
		return nil
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil
		}
		return b
	}
}
