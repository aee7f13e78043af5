package services

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/funcscan/flowdesk/pkg/events"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, workflowID, userID int64, trigger events.Trigger) (*models.ExecutionAck, error) {
	args := m.Called(ctx, workflowID, userID, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionAck), args.Error(1)
}

func TestScheduler_Schedule(t *testing.T) {
	t.Parallel()

	s := NewScheduler(&mockExecutor{}, time.Second, nil)

	tests := []struct {
		name     string
		schedule models.Schedule
	}{
		{name: "missing workflow", schedule: models.Schedule{CronExpression: "* * * * *"}},
		{name: "empty expression", schedule: models.Schedule{WorkflowID: 1}},
		{name: "six fields", schedule: models.Schedule{WorkflowID: 1, CronExpression: "0 * * * * *"}},
		{name: "garbage", schedule: models.Schedule{WorkflowID: 1, CronExpression: "every day"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Schedule(&tt.schedule)
			require.ErrorIs(t, err, models.ErrInvalidSchedule)
			assert.True(t, IsValidationError(err))
		})
	}

	first, err := models.NewSchedule(1, 9, "*/5 * * * *")
	require.NoError(t, err)

	_, err = s.Schedule(first)
	require.NoError(t, err)

	second, err := models.NewSchedule(2, 9, "0 6 * * 1")
	require.NoError(t, err)

	_, err = s.Schedule(second)
	require.NoError(t, err)

	replaced, err := models.NewSchedule(1, 9, "30 2 * * *")
	require.NoError(t, err)

	_, err = s.Schedule(replaced)
	require.NoError(t, err)

	schedules := s.Schedules()
	require.Len(t, schedules, 2)
	assert.Equal(t, int64(1), schedules[0].WorkflowID)
	assert.Equal(t, "30 2 * * *", schedules[0].CronExpression)
	assert.False(t, schedules[0].NextDueAt.IsZero())
	assert.Len(t, s.cron.Entries(), 2)

	assert.True(t, s.Unschedule(2))
	assert.False(t, s.Unschedule(2))
	assert.Len(t, s.Schedules(), 1)
}

func TestScheduler_SchedulesOrderedByWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ids  []int64
		want []int64
	}{
		{name: "small ids", ids: []int64{3, 1, 2}, want: []int64{1, 2, 3}},
		{name: "ids far apart", ids: []int64{math.MaxInt64, 1, math.MaxInt64 / 2}, want: []int64{1, math.MaxInt64 / 2, math.MaxInt64}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewScheduler(&mockExecutor{}, time.Second, nil)

			for _, id := range tt.ids {
				schedule, err := models.NewSchedule(id, 9, "*/5 * * * *")
				require.NoError(t, err)

				_, err = s.Schedule(schedule)
				require.NoError(t, err)
			}

			got := make([]int64, 0, len(tt.want))
			for _, schedule := range s.Schedules() {
				got = append(got, schedule.WorkflowID)
			}

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduler_Run(t *testing.T) {
	t.Parallel()

	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, int64(4), int64(9), events.TriggerSchedule).
		Return(&models.ExecutionAck{WorkflowID: 4, ExecutionID: "abc"}, nil).Once()
	exec.On("Execute", mock.Anything, int64(4), int64(9), events.TriggerSchedule).
		Return(nil, ErrExecutionInProgress).Once()

	s := NewScheduler(exec, time.Second, nil)

	schedule, err := models.NewSchedule(4, 9, "* * * * *")
	require.NoError(t, err)

	_, err = s.Schedule(schedule)
	require.NoError(t, err)

	entry := s.cron.Entry(s.entries[4].entry)
	entry.Job.Run()
	entry.Job.Run()

	exec.AssertExpectations(t)

	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s.Stop(ctx)
}
