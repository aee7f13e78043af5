package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when a schedule has no workflow or a malformed cron expression.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// Schedule runs a workflow on a standard 5-field cron expression.
type Schedule struct {
	WorkflowID     int64     `json:"workflow_id"     validate:"required"`
	UserID         int64     `json:"user_id"`
	CronExpression string    `json:"cron_expression" validate:"required"`
	NextDueAt      time.Time `json:"next_due_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewSchedule validates the expression and computes the first due time.
func NewSchedule(workflowID, userID int64, cronExpression string) (*Schedule, error) {
	now := time.Now().UTC()
	s := &Schedule{
		WorkflowID:     workflowID,
		UserID:         userID,
		CronExpression: cronExpression,
		CreatedAt:      now,
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	s.NextDueAt = s.nextAfter(now)

	return s, nil
}

// Validate checks the workflow id and the cron expression.
func (s *Schedule) Validate() error {
	if s.WorkflowID <= 0 || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	if _, err := cron.ParseStandard(s.CronExpression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	return nil
}

// UpdateNextDueAt moves NextDueAt to the first activation after now.
func (s *Schedule) UpdateNextDueAt() {
	s.NextDueAt = s.nextAfter(time.Now().UTC())
}

func (s *Schedule) nextAfter(ref time.Time) time.Time {
	sched, err := cron.ParseStandard(s.CronExpression)
	if err != nil {
		return time.Time{}
	}

	return sched.Next(ref)
}
