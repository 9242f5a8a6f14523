package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/persistence"
)

// DefinitionRepository stores one JSON document per definition under
// <root>/definitions.
type DefinitionRepository struct {
	mu   sync.RWMutex
	root string
}

func NewDefinitionRepository(root string) *DefinitionRepository {
	return &DefinitionRepository{root: root}
}

func (dr *DefinitionRepository) path(id string) string {
	return filepath.Join(dr.root, "definitions", id+".json")
}

func (dr *DefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	dr.mu.RLock()
	defer dr.mu.RUnlock()

	ids, err := listJSON(filepath.Join(dr.root, "definitions"))
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		definition, err := dr.load(id)
		if err != nil {
			return nil, err
		}

		definitions = append(definitions, definition)
	}

	sort.Slice(definitions, func(i, j int) bool {
		if definitions[i].Name != definitions[j].Name {
			return definitions[i].Name < definitions[j].Name
		}

		return definitions[i].ID < definitions[j].ID
	})

	return definitions, nil
}

func (dr *DefinitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	if err := persistence.ValidateID(id); err != nil {
		return nil, persistence.NewDefinitionError("GetByID", id, err)
	}

	dr.mu.RLock()
	defer dr.mu.RUnlock()

	return dr.load(id)
}

func (dr *DefinitionRepository) GetByTrigger(ctx context.Context, kind models.TriggerKind) ([]*models.WorkflowDefinition, error) {
	all, err := dr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	matching := make([]*models.WorkflowDefinition, 0, len(all))

	for _, definition := range all {
		if definition.HasTrigger(kind) {
			matching = append(matching, definition)
		}
	}

	return matching, nil
}

func (dr *DefinitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	if err := persistence.ValidateID(definition.ID); err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	dr.mu.Lock()
	defer dr.mu.Unlock()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = time.Now().UTC()
	}

	err := writeJSON(dr.path(definition.ID), definition)
	if err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	return nil
}

func (dr *DefinitionRepository) Delete(_ context.Context, id string) error {
	if err := persistence.ValidateID(id); err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	dr.mu.Lock()
	defer dr.mu.Unlock()

	err := os.Remove(dr.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	return nil
}

func (dr *DefinitionRepository) load(id string) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition

	err := readJSON(dr.path(id), &definition)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewDefinitionError("GetByID", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewDefinitionError("GetByID", id, err)
	}

	return &definition, nil
}
