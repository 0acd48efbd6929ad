// Package scheduler implements the Job Scheduler (spec.md §4.5, component
// C8): persistent one-shot and recurring job dispatch with reschedule,
// cancel, uniqueness collapse, and a handler registry. The poll/acquire/
// cleanup loop shape and concurrency-semaphore pattern are grounded on the
// teacher pack's haasonsaas-nexus/internal/tasks/scheduler.go, generalized
// from its ScheduledTask/TaskExecution pair down to spec.md's single Job
// record, and its single Executor down to a name-keyed handler registry
// (spec.md §4.5, "start(handlers)").
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Reynold-degenracy/EverMindAgent/internal/store"
	"github.com/Reynold-degenracy/EverMindAgent/internal/telemetry"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// RunState is the scheduler's own state machine (spec.md §4.5).
type RunState int

const (
	StateIdle RunState = iota
	StateRunning
	StateStopping
)

// Config bounds scheduler behavior.
type Config struct {
	WorkerID           string
	PollInterval       time.Duration
	AcquireInterval    time.Duration
	CleanupInterval    time.Duration
	LockLifetime       time.Duration
	DefaultConcurrency int
	MaxConcurrency     int
}

func (c *Config) applyDefaults() {
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.AcquireInterval <= 0 {
		c.AcquireInterval = time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
	if c.LockLifetime <= 0 {
		c.LockLifetime = 5 * time.Minute
	}
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = 5
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = c.DefaultConcurrency
	}
}

// Scheduler is the Job Scheduler.
type Scheduler struct {
	cfg   Config
	jobs  *jobStore
	lock  Lock
	log   telemetry.Logger
	clock func() time.Time

	mu       sync.RWMutex
	state    RunState
	handlers map[string]Handler
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sem      chan struct{}
}

// New builds a Scheduler over doc (for job persistence) and lock (for
// cross-process per-job mutual exclusion). clock defaults to time.Now;
// tests may override it.
func New(doc store.Document, lock Lock, log telemetry.Logger, cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:   cfg,
		jobs:  newJobStore(doc),
		lock:  lock,
		log:   log,
		clock: time.Now,
		sem:   make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Start transitions idle -> running, registers handlers, and begins
// dispatching due jobs (spec.md §4.5). Idempotent while already running.
func (s *Scheduler) Start(ctx context.Context, handlers map[string]Handler) error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.handlers = handlers
	s.state = StateRunning
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(3)
	go s.pollLoop(runCtx)
	go s.acquireLoop(runCtx)
	go s.cleanupLoop(runCtx)
	return nil
}

// Stop transitions running -> stopping -> idle, draining in-flight work.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	return nil
}

// State reports the scheduler's current run state.
func (s *Scheduler) State() RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Schedule persists a one-shot job; may be called before Start.
func (s *Scheduler) Schedule(ctx context.Context, spec Spec) (string, error) {
	job := Job{Name: spec.Name, RunAt: spec.RunAt, Data: spec.Data, Unique: spec.Unique, Status: StatusPending}
	return s.jobs.create(ctx, job)
}

// ScheduleEvery persists a recurring job; the first firing is never
// immediate (spec.md §4.5). Interval may be a Go duration string ("5m")
// or a cron expression.
func (s *Scheduler) ScheduleEvery(ctx context.Context, spec Spec) (string, error) {
	job := Job{Name: spec.Name, RunAt: spec.RunAt, Data: spec.Data, Interval: spec.Interval, Unique: spec.Unique, Status: StatusPending}
	now := s.clock()
	if job.RunAt <= now.UnixMilli() {
		next, err := nextFireTime(spec.Interval, now)
		if err != nil {
			return "", err
		}
		job.RunAt = next.UnixMilli()
	}
	return s.jobs.create(ctx, job)
}

// Reschedule overwrites name/data/runAt for a non-running job.
func (s *Scheduler) Reschedule(ctx context.Context, id string, spec Spec) (bool, error) {
	existing, err := s.jobs.get(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	spec.Interval = existing.Interval
	return s.jobs.reschedule(ctx, id, spec)
}

// RescheduleEvery is Reschedule plus updating the interval.
func (s *Scheduler) RescheduleEvery(ctx context.Context, id string, spec Spec) (bool, error) {
	return s.jobs.reschedule(ctx, id, spec)
}

// Cancel deletes a non-running job.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	return s.jobs.cancel(ctx, id)
}

// GetJob loads one job by id, or nil if absent.
func (s *Scheduler) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.jobs.get(ctx, id)
}

// ListJobs lists jobs matching filter.
func (s *Scheduler) ListJobs(ctx context.Context, filter Filter) ([]Job, error) {
	return s.jobs.list(ctx, filter)
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.acquireDueBatch(ctx)
		}
	}
}

func (s *Scheduler) acquireLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.AcquireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.acquireDueBatch(ctx)
		}
	}
}

func (s *Scheduler) acquireDueBatch(ctx context.Context) {
	now := s.clock()
	jobs, err := s.jobs.due(ctx, now.UnixMilli(), s.cfg.MaxConcurrency)
	if err != nil {
		s.log.Error(ctx, "scheduler: list due jobs failed", "error", err.Error())
		return
	}
	for _, job := range jobs {
		select {
		case s.sem <- struct{}{}:
		default:
			return
		}
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.dispatch(ctx, job)
		}(job)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, job Job) {
	ok, err := s.lock.Acquire(ctx, job.ID, s.cfg.LockLifetime)
	if err != nil {
		s.log.Error(ctx, "scheduler: lock acquire failed", "jobId", job.ID, "error", err.Error())
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := s.lock.Release(context.Background(), job.ID); err != nil {
			s.log.Error(ctx, "scheduler: lock release failed", "jobId", job.ID, "error", err.Error())
		}
	}()

	now := s.clock()
	acquired, err := s.jobs.acquire(ctx, job.ID, s.cfg.WorkerID, now.Add(s.cfg.LockLifetime).UnixMilli(), now.UnixMilli())
	if err != nil {
		s.log.Error(ctx, "scheduler: job acquire failed", "jobId", job.ID, "error", err.Error())
		return
	}
	if !acquired {
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[job.Name]
	s.mu.RUnlock()

	var handlerErr error
	if !ok {
		handlerErr = fmt.Errorf("scheduler: no handler registered for %q", job.Name)
	} else {
		handlerErr = handler(ctx, job)
	}

	recurring := job.Interval != ""
	var nextRunAt int64
	if recurring {
		next, err := nextFireTime(job.Interval, s.clock())
		if err != nil {
			s.log.Error(ctx, "scheduler: invalid interval, job disabled", "jobId", job.ID, "interval", job.Interval, "error", err.Error())
			handlerErr = err
			recurring = false
		} else {
			nextRunAt = next.UnixMilli()
		}
	}
	if err := s.jobs.complete(ctx, job.ID, nextRunAt, recurring, handlerErr); err != nil {
		s.log.Error(ctx, "scheduler: persist completion failed", "jobId", job.ID, "error", err.Error())
	}
}

func nextFireTime(interval string, after time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(interval); err == nil {
		return after.Add(d), nil
	}
	sched, err := cronParser.Parse(interval)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: invalid interval %q: %w", interval, err)
	}
	return sched.Next(after), nil
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.jobs.releaseStale(ctx, s.clock().UnixMilli())
			if err != nil {
				s.log.Error(ctx, "scheduler: cleanup failed", "error", err.Error())
				continue
			}
			if count > 0 {
				s.log.Info(ctx, "scheduler: released stale jobs", "count", count)
			}
		}
	}
}
