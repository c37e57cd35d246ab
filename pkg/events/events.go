// Package events defines event types for run lifecycle and drain continuation.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/luminacrm/copyflow/pkg/models"
)

type EventType string

// Topic is the bus topic all copyflow events travel on.
const Topic = "copyflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// RunQueuedEvent is published when a run is pre-seeded into the backlog.
	RunQueuedEvent EventType = "run.queued"

	// RunFinishedEvent is published when a run reaches a terminal status.
	RunFinishedEvent EventType = "run.finished"

	// DrainRequestedEvent asks the worker to execute one drain pass. The
	// drainer publishes it while backlog remains, chaining passes across
	// short-lived invocations without a resident loop.
	DrainRequestedEvent EventType = "queue.drain.requested"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent creates a base event with a fresh id and timestamp.
func NewBaseEvent(eventType EventType, workflowName string) BaseEvent {
	return BaseEvent{
		ID:           uuid.NewString(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		WorkflowName: workflowName,
	}
}

type RunQueued struct {
	BaseEvent

	RunID          string `json:"run_id"`
	IdempotencyKey string `json:"idempotency_key"`
	TriggeredBy    string `json:"triggered_by"`
}

func (e RunQueued) GetType() EventType {
	return RunQueuedEvent
}

type RunFinished struct {
	BaseEvent

	RunID    string           `json:"run_id"`
	Status   models.RunStatus `json:"status"`
	Duration time.Duration    `json:"duration"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}

type DrainRequested struct {
	BaseEvent

	Remaining int `json:"remaining"`
}

func (e DrainRequested) GetType() EventType {
	return DrainRequestedEvent
}
