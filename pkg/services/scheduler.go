package services

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/funcscan/flowdesk/pkg/events"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/robfig/cron/v3"
)

// Executor starts workflow runs.
type Executor interface {
	Execute(ctx context.Context, workflowID, userID int64, trigger events.Trigger) (*models.ExecutionAck, error)
}

type scheduled struct {
	entry    cron.EntryID
	schedule models.Schedule
}

// Scheduler triggers workflow executions on cron expressions. Schedules live in memory.
type Scheduler struct {
	cron     *cron.Cron
	executor Executor
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[int64]scheduled
}

func NewScheduler(executor Executor, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		executor: executor,
		timeout:  timeout,
		logger:   logger.With("module", "scheduler"),
		entries:  make(map[int64]scheduled),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Schedule registers or replaces the schedule of a workflow.
func (s *Scheduler) Schedule(schedule *models.Schedule) (*models.Schedule, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[schedule.WorkflowID]; ok {
		s.cron.Remove(prev.entry)
	}

	workflowID, userID := schedule.WorkflowID, schedule.UserID

	entry, err := s.cron.AddFunc(schedule.CronExpression, func() { s.run(workflowID, userID) })
	if err != nil {
		return nil, errors.Join(models.ErrInvalidSchedule, err)
	}

	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now().UTC()
	}

	schedule.UpdateNextDueAt()
	s.entries[workflowID] = scheduled{entry: entry, schedule: *schedule}

	s.logger.Info("workflow scheduled", "workflow_id", workflowID, "cron", schedule.CronExpression)

	return schedule, nil
}

// Unschedule removes the schedule of a workflow and reports whether one existed.
func (s *Scheduler) Unschedule(workflowID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.entries[workflowID]
	if !ok {
		return false
	}

	s.cron.Remove(prev.entry)
	delete(s.entries, workflowID)

	return true
}

// Schedules lists the registered schedules ordered by workflow id.
func (s *Scheduler) Schedules() []models.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Schedule, 0, len(s.entries))

	for _, e := range s.entries {
		schedule := e.schedule
		if next := s.cron.Entry(e.entry).Next; !next.IsZero() {
			schedule.NextDueAt = next
		}

		out = append(out, schedule)
	}

	slices.SortFunc(out, func(a, b models.Schedule) int { return cmp.Compare(a.WorkflowID, b.WorkflowID) })

	return out
}

func (s *Scheduler) run(workflowID, userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	ack, err := s.executor.Execute(ctx, workflowID, userID, events.TriggerSchedule)

	switch {
	case IsConflictError(err):
		s.logger.InfoContext(ctx, "skipping scheduled run, previous run still active", "workflow_id", workflowID)
	case err != nil:
		s.logger.ErrorContext(ctx, "scheduled run failed", "workflow_id", workflowID, "error", err)
	default:
		s.logger.InfoContext(ctx, "scheduled run started", "workflow_id", workflowID, "execution_id", ack.ExecutionID)
	}
}
