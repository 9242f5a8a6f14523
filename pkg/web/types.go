package web

import (
	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/protocol"
)

// TriggerRunRequest is the optional body of a manual run.
type TriggerRunRequest struct {
	Data map[string]any `json:"data"`
}

// ListRunsRequest holds the query parameters of a run history listing.
type ListRunsRequest struct {
	Limit int `validate:"min=0,max=100"`
}

// EventRequest holds the path parameter of a webhook event.
type EventRequest struct {
	Kind string `validate:"required,max=64,excludesall=/ "`
}

// RunResponse points at a started run.
type RunResponse struct {
	RunID        string             `json:"run_id"`
	DefinitionID string             `json:"definition_id"`
	Trigger      models.TriggerKind `json:"trigger"`
	Status       models.RunStatus   `json:"status"`
	ReportURL    string             `json:"report_url"`
}

func NewRunResponse(rep *models.RunReport) RunResponse {
	return RunResponse{
		RunID:        rep.RunID,
		DefinitionID: rep.DefinitionID,
		Trigger:      rep.Trigger,
		Status:       rep.Status,
		ReportURL:    "/runs/" + rep.RunID,
	}
}

// DispatchResponse lists the runs started by an event. Errors holds the
// definitions that matched but failed to start.
type DispatchResponse struct {
	Trigger models.TriggerKind `json:"trigger"`
	Runs    []RunResponse      `json:"runs"`
	Errors  []string           `json:"errors,omitempty"`
}

// ValidateResponse describes a document accepted by the validate endpoint.
type ValidateResponse struct {
	Valid    bool                 `json:"valid"`
	Name     string               `json:"name"`
	Triggers []models.TriggerKind `json:"triggers"`
	Jobs     []string             `json:"jobs"`
}

// ActionResponse describes a registered action.
type ActionResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

func NewActionResponse(factory protocol.ActionFactory) ActionResponse {
	return ActionResponse{
		ID:          factory.ID(),
		Name:        factory.Name(),
		Description: factory.Description(),
		Schema:      factory.Schema(),
	}
}
