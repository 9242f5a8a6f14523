// Package persistence stores workflow definitions and run reports.
package persistence

import (
	"context"

	"github.com/dukex/pipewright/pkg/models"
)

type Persistence interface {
	DefinitionRepository() DefinitionRepository
	RunReportRepository() RunReportRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores validated workflow definitions.
type DefinitionRepository interface {
	// GetAll returns every definition ordered by name.
	GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	// GetByTrigger returns the definitions whose trigger set contains kind.
	GetByTrigger(ctx context.Context, kind models.TriggerKind) ([]*models.WorkflowDefinition, error)
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	Delete(ctx context.Context, id string) error
}

// RunReportRepository stores the final report of every run.
type RunReportRepository interface {
	Save(ctx context.Context, report *models.RunReport) error
	GetByID(ctx context.Context, runID string) (*models.RunReport, error)
	// GetByDefinition returns up to limit reports, newest first. A limit
	// below 1 returns all of them.
	GetByDefinition(ctx context.Context, definitionID string, limit int) ([]*models.RunReport, error)
}
