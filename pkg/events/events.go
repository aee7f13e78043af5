// Package events defines the execution and notification events exchanged over the event bus.
package events

import (
	"time"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every flowdesk event; consumers dispatch on the event type metadata.
const Topic = "flowdesk.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// ExecutionRequestedEvent asks the external executor to run a workflow.
	ExecutionRequestedEvent EventType = "workflow.execution.requested"
	// ExecutionFinishedEvent is published once a run reported completed or failed.
	ExecutionFinishedEvent EventType = "workflow.execution.finished"
	// NotificationCreatedEvent fans a stored notification out to push hubs.
	NotificationCreatedEvent EventType = "notification.created"
)

// Trigger names what started an execution.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerSchedule Trigger = "schedule"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID int64          `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type ExecutionRequested struct {
	BaseEvent

	ExecutionID string  `json:"execution_id"`
	UserID      int64   `json:"user_id"`
	Trigger     Trigger `json:"trigger"`
}

func (e ExecutionRequested) GetType() EventType {
	return ExecutionRequestedEvent
}

type ExecutionFinished struct {
	BaseEvent

	Status models.Status `json:"statut"`
	UserID int64         `json:"user_id"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

type NotificationCreated struct {
	BaseEvent

	Notification models.Notification `json:"notification"`
}

func (e NotificationCreated) GetType() EventType {
	return NotificationCreatedEvent
}

func NewBaseEvent(eventType EventType, workflowID int64) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// NewExecutionRequested builds the request for one run; executionID is echoed in the ack.
func NewExecutionRequested(workflowID, userID int64, executionID string, trigger Trigger) ExecutionRequested {
	return ExecutionRequested{
		BaseEvent:   NewBaseEvent(ExecutionRequestedEvent, workflowID),
		ExecutionID: executionID,
		UserID:      userID,
		Trigger:     trigger,
	}
}

func NewExecutionFinished(workflowID, userID int64, status models.Status) ExecutionFinished {
	return ExecutionFinished{
		BaseEvent: NewBaseEvent(ExecutionFinishedEvent, workflowID),
		Status:    status,
		UserID:    userID,
	}
}

func NewNotificationCreated(n models.Notification) NotificationCreated {
	return NotificationCreated{
		BaseEvent:    NewBaseEvent(NotificationCreatedEvent, 0),
		Notification: n,
	}
}
