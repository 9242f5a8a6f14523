// Package events defines the run lifecycle notifications published on the
// event bus.
package events

import (
	"time"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "pipewright.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunStartedEvent       EventType = "run.started"
	JobStatusChangedEvent EventType = "job.status_changed"
	RunFinishedEvent      EventType = "run.finished"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	RunID        string         `json:"run_id"`
	DefinitionID string         `json:"definition_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, runID, definitionID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		RunID:        runID,
		DefinitionID: definitionID,
	}
}

type RunStarted struct {
	BaseEvent

	DefinitionName string             `json:"definition_name"`
	Trigger        models.TriggerKind `json:"trigger"`
	TriggerData    map[string]any     `json:"trigger_data,omitempty"`
	Jobs           []string           `json:"jobs"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type JobStatusChanged struct {
	BaseEvent

	Job    string           `json:"job"`
	From   models.JobStatus `json:"from"`
	To     models.JobStatus `json:"to"`
	Reason string           `json:"reason,omitempty"`
}

func (e JobStatusChanged) GetType() EventType {
	return JobStatusChangedEvent
}

type RunFinished struct {
	BaseEvent

	Status    models.RunStatus  `json:"status"`
	Cancelled bool              `json:"cancelled"`
	Duration  time.Duration     `json:"duration"`
	Report    *models.RunReport `json:"report,omitempty"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}
