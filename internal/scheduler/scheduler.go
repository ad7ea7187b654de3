// Package scheduler reactivates deferred tasks at a future time. It wraps a
// gocron scheduler and keeps an in-memory record of every scheduled task.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"actcore/internal/logging"
	"actcore/internal/types"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// ErrNotFound is returned for unknown scheduled task ids.
var ErrNotFound = errors.New("scheduled task not found")

// Status of a scheduled task.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// ScheduledTask is the record kept for each registered job.
type ScheduledTask struct {
	ID        string `json:"task_id"`
	TaskID    string `json:"target_task_id"`
	ThoughtID string `json:"origin_thought_id"`
	Status    Status `json:"status"`
	// DeferUntil is kept exactly as supplied by the caller.
	DeferUntil      string     `json:"defer_until,omitempty"`
	CronExpression  string     `json:"schedule_cron,omitempty"`
	Reason          string     `json:"reason"`
	CreatedAt       time.Time  `json:"created_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TriggerCount    int        `json:"trigger_count"`
	LastError       string     `json:"last_error,omitempty"`
}

// TaskActivator flips a task back to ACTIVE when its schedule fires.
// store.LocalStore satisfies it.
type TaskActivator interface {
	UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the time zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithFireHook registers a callback run after each trigger.
func WithFireHook(fn func(ScheduledTask)) Option {
	return func(s *Scheduler) { s.onFire = fn }
}

// Scheduler implements types.TaskScheduler on gocron.
type Scheduler struct {
	cron      gocron.Scheduler
	activator TaskActivator
	loc       *time.Location
	now       func() time.Time
	onFire    func(ScheduledTask)

	mu    sync.Mutex
	tasks map[string]*ScheduledTask
	jobs  map[string]gocron.Job
}

// New creates a scheduler. Jobs only run after Start.
func New(activator TaskActivator, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		activator: activator,
		loc:       time.UTC,
		now:       time.Now,
		tasks:     make(map[string]*ScheduledTask),
		jobs:      make(map[string]gocron.Job),
	}
	for _, opt := range opts {
		opt(s)
	}

	g, err := gocron.NewScheduler(gocron.WithLocation(s.loc))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.cron = g
	return s, nil
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	logging.Scheduler("Scheduler started (%d jobs, tz=%s)", len(s.cron.Jobs()), s.loc)
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	logging.Scheduler("Stopping scheduler")
	return s.cron.Shutdown()
}

// ScheduleDeferredTask registers a one-time reactivation of taskID at
// deferUntil (ISO-8601). A time already in the past fires immediately.
func (s *Scheduler) ScheduleDeferredTask(ctx context.Context, taskID, thoughtID, deferUntil, reason string) (string, error) {
	if taskID == "" {
		return "", errors.New("task id is required")
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(deferUntil))
	if err != nil {
		return "", fmt.Errorf("invalid defer_until %q: %w", deferUntil, err)
	}

	st := s.newRecord(taskID, thoughtID, reason)
	st.DeferUntil = deferUntil

	start := gocron.OneTimeJobStartDateTime(at)
	if !at.After(s.now()) {
		logging.SchedulerDebug("defer_until %s already passed; firing %s immediately", deferUntil, st.ID)
		start = gocron.OneTimeJobStartImmediately()
	}

	if err := s.register(st, gocron.OneTimeJob(start)); err != nil {
		return "", err
	}
	logging.Scheduler("Deferred task %s scheduled for %s (schedule %s)", taskID, at.In(s.loc).Format(time.RFC3339), st.ID)
	return st.ID, nil
}

// ScheduleRecurring registers a cron-driven reactivation of taskID.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, taskID, cronExpr, reason string) (string, error) {
	if taskID == "" {
		return "", errors.New("task id is required")
	}
	if _, err := ValidateCron(cronExpr); err != nil {
		return "", err
	}

	st := s.newRecord(taskID, "", reason)
	st.CronExpression = cronExpr
	if err := s.register(st, gocron.CronJob(cronExpr, false)); err != nil {
		return "", err
	}
	logging.Scheduler("Recurring task %s scheduled with cron %q (schedule %s)", taskID, cronExpr, st.ID)
	return st.ID, nil
}

// ValidateCron parses a standard five-field cron expression.
func ValidateCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// NextRun returns when a recurring expression fires next after from.
func (s *Scheduler) NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := ValidateCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from.In(s.loc)), nil
}

// Cancel removes a scheduled task.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if job, ok := s.jobs[id]; ok {
		if err := s.cron.RemoveJob(job.ID()); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			return fmt.Errorf("failed to remove job: %w", err)
		}
		delete(s.jobs, id)
	}
	st.Status = StatusCancelled
	logging.Scheduler("Cancelled schedule %s for task %s", id, st.TaskID)
	return nil
}

// Get returns a copy of one scheduled task.
func (s *Scheduler) Get(id string) (ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[id]
	if !ok {
		return ScheduledTask{}, ErrNotFound
	}
	return *st, nil
}

// List returns copies of all scheduled tasks, oldest first.
func (s *Scheduler) List() []ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduledTask, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Scheduler) newRecord(taskID, thoughtID, reason string) *ScheduledTask {
	return &ScheduledTask{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		ThoughtID: thoughtID,
		Status:    StatusPending,
		Reason:    reason,
		CreatedAt: s.now(),
	}
}

func (s *Scheduler) register(st *ScheduledTask, def gocron.JobDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.cron.NewJob(
		def,
		gocron.NewTask(func() { s.fire(st.ID) }),
		gocron.WithName(st.ID),
		gocron.WithTags(st.TaskID),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	st.Status = StatusActive
	s.tasks[st.ID] = st
	s.jobs[st.ID] = job
	return nil
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	st, ok := s.tasks[id]
	if !ok || st.Status == StatusCancelled {
		s.mu.Unlock()
		return
	}
	now := s.now()
	st.LastTriggeredAt = &now
	st.TriggerCount++
	taskID := st.TaskID
	oneTime := st.CronExpression == ""
	s.mu.Unlock()

	var err error
	if s.activator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = s.activator.UpdateTaskStatus(ctx, taskID, types.TaskStatusActive)
		cancel()
	}

	s.mu.Lock()
	switch {
	case err != nil:
		st.LastError = err.Error()
		if oneTime {
			st.Status = StatusFailed
		}
		logging.Get(logging.CategoryScheduler).Error("Failed to reactivate task %s: %v", taskID, err)
	case oneTime:
		st.Status = StatusCompleted
		delete(s.jobs, id)
	}
	snapshot := *st
	s.mu.Unlock()

	if err == nil {
		logging.Scheduler("Reactivated task %s (schedule %s)", taskID, id)
	}
	if s.onFire != nil {
		s.onFire(snapshot)
	}
}

var _ types.TaskScheduler = (*Scheduler)(nil)
