package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dukex/pipewright/pkg/definition"
	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/persistence"
	"github.com/google/uuid"
)

type Definition struct {
	persistence persistence.Persistence
}

// NewDefinition creates a new definition service.
func NewDefinition(persistence persistence.Persistence) *Definition {
	return &Definition{
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (d *Definition) HealthCheck(ctx context.Context) (string, bool) {
	if d.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := d.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (d *Definition) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	definitions, err := d.persistence.DefinitionRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	return definitions, nil
}

func (d *Definition) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return d.persistence.DefinitionRepository().GetByID(ctx, id)
}

// Create parses a YAML or JSON pipeline document and stores it under a new ID.
func (d *Definition) Create(ctx context.Context, raw []byte) (*models.WorkflowDefinition, error) {
	def, err := parse(raw)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate definition ID: %w", err)
	}

	def.ID = id.String()

	if err := d.persistence.DefinitionRepository().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}

	return def, nil
}

// Replace parses raw and stores it in place of the definition id. Runs
// already started keep the definition they were started with.
func (d *Definition) Replace(ctx context.Context, id string, raw []byte) (*models.WorkflowDefinition, error) {
	existing, err := d.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	def, err := parse(raw)
	if err != nil {
		return nil, err
	}

	def.ID = existing.ID
	def.CreatedAt = existing.CreatedAt

	if err := d.persistence.DefinitionRepository().Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}

	return def, nil
}

func (d *Definition) Delete(ctx context.Context, id string) error {
	return d.persistence.DefinitionRepository().Delete(ctx, id)
}

// Runs lists the stored reports of a definition, newest first.
func (d *Definition) Runs(ctx context.Context, id string, limit int) ([]*models.RunReport, error) {
	if _, err := d.FetchByID(ctx, id); err != nil {
		return nil, err
	}

	reports, err := d.persistence.RunReportRepository().GetByDefinition(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return reports, nil
}

// Validate parses raw without storing it.
func (d *Definition) Validate(raw []byte) (*models.WorkflowDefinition, error) {
	return parse(raw)
}

func parse(raw []byte) (*models.WorkflowDefinition, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, NewValidationError("Parse", "empty_definition", "", ErrEmptyDefinition)
	}

	return definition.Parse(raw)
}
