package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/persistence"
)

// RunReportRepository stores run reports as JSONB documents alongside the
// columns needed to query them.
type RunReportRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunReportRepository(db *sql.DB, logger *slog.Logger) *RunReportRepository {
	return &RunReportRepository{db: db, logger: logger}
}

func (r *RunReportRepository) Save(ctx context.Context, report *models.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	query := `
		INSERT INTO run_reports (run_id, definition_id, status, cancelled, report, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			cancelled = EXCLUDED.cancelled,
			report = EXCLUDED.report,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`

	_, err = r.db.ExecContext(ctx, query,
		report.RunID,
		report.DefinitionID,
		string(report.Status),
		report.Cancelled,
		reportJSON,
		report.StartedAt,
		report.FinishedAt,
	)
	if err != nil {
		return persistence.NewRunError("Save", report.RunID, err)
	}

	return nil
}

func (r *RunReportRepository) GetByID(ctx context.Context, runID string) (*models.RunReport, error) {
	var reportJSON []byte

	err := r.db.QueryRowContext(ctx, `SELECT report FROM run_reports WHERE run_id = $1`, runID).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRunError("GetByID", runID, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("GetByID", runID, err)
	}

	var report models.RunReport

	err = json.Unmarshal(reportJSON, &report)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal report %s: %w", runID, err)
	}

	return &report, nil
}

func (r *RunReportRepository) GetByDefinition(ctx context.Context, definitionID string, limit int) ([]*models.RunReport, error) {
	query := `
		SELECT report
		FROM run_reports
		WHERE definition_id = $1
		ORDER BY started_at DESC NULLS LAST
	`
	args := []any{definitionID}

	if limit > 0 {
		query += ` LIMIT $2`

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query run reports: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	reports := make([]*models.RunReport, 0)

	for rows.Next() {
		var reportJSON []byte

		err := rows.Scan(&reportJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run report: %w", err)
		}

		var report models.RunReport

		err = json.Unmarshal(reportJSON, &report)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal run report: %w", err)
		}

		reports = append(reports, &report)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating run reports: %w", err)
	}

	return reports, nil
}
