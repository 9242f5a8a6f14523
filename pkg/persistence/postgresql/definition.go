package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/persistence"
	"github.com/google/uuid"
)

const definitionColumns = `
			id
		  , name
		  , triggers
		  , env
		  , jobs
		  , created_at
`

// DefinitionRepository handles definition-related database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

func (r *DefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `SELECT` + definitionColumns + `
		FROM definitions
		WHERE deleted_at IS NULL
		ORDER BY name, id
	`

	return r.query(ctx, query)
}

func (r *DefinitionRepository) GetByTrigger(ctx context.Context, kind models.TriggerKind) ([]*models.WorkflowDefinition, error) {
	query := `SELECT` + definitionColumns + `
		FROM definitions
		WHERE deleted_at IS NULL AND triggers @> jsonb_build_array($1::text)
		ORDER BY name, id
	`

	return r.query(ctx, query, string(kind))
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT` + definitionColumns + `
		FROM definitions
		WHERE id = $1 AND deleted_at IS NULL
	`

	definition, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewDefinitionError("GetByID", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewDefinitionError("GetByID", id, err)
	}

	return definition, nil
}

// Save upserts the definition. A previously deleted definition with the same
// id is restored.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate definition ID: %w", err)
		}

		definition.ID = id.String()
	}

	triggersJSON, err := json.Marshal(definition.Triggers)
	if err != nil {
		return fmt.Errorf("failed to marshal triggers: %w", err)
	}

	envJSON, err := json.Marshal(definition.Env)
	if err != nil {
		return fmt.Errorf("failed to marshal env: %w", err)
	}

	jobsJSON, err := json.Marshal(definition.Jobs)
	if err != nil {
		return fmt.Errorf("failed to marshal jobs: %w", err)
	}

	query := `
		INSERT INTO definitions (id, name, triggers, env, jobs, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			triggers = EXCLUDED.triggers,
			env = EXCLUDED.env,
			jobs = EXCLUDED.jobs,
			updated_at = EXCLUDED.updated_at,
			deleted_at = NULL
	`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID,
		definition.Name,
		triggersJSON,
		envJSON,
		jobsJSON,
		definition.CreatedAt,
		now,
	)
	if err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	return nil
}

// Delete soft deletes a definition by setting deleted_at timestamp.
func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE definitions SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	return nil
}

func (r *DefinitionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

func (r *DefinitionRepository) scan(row scanner) (*models.WorkflowDefinition, error) {
	var (
		definition   models.WorkflowDefinition
		triggersJSON []byte
		envJSON      []byte
		jobsJSON     []byte
	)

	err := row.Scan(
		&definition.ID,
		&definition.Name,
		&triggersJSON,
		&envJSON,
		&jobsJSON,
		&definition.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(triggersJSON, &definition.Triggers)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal triggers: %w", err)
	}

	if len(envJSON) > 0 {
		err = json.Unmarshal(envJSON, &definition.Env)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal env: %w", err)
		}
	}

	err = json.Unmarshal(jobsJSON, &definition.Jobs)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal jobs: %w", err)
	}

	return &definition, nil
}
