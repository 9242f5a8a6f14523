package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/persistence"
)

// RunReportRepository stores one JSON document per run under <root>/runs.
type RunReportRepository struct {
	mu   sync.RWMutex
	root string
}

func NewRunReportRepository(root string) *RunReportRepository {
	return &RunReportRepository{root: root}
}

func (rr *RunReportRepository) path(runID string) string {
	return filepath.Join(rr.root, "runs", runID+".json")
}

func (rr *RunReportRepository) Save(_ context.Context, report *models.RunReport) error {
	if err := persistence.ValidateID(report.RunID); err != nil {
		return persistence.NewRunError("Save", report.RunID, err)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	if err := writeJSON(rr.path(report.RunID), report); err != nil {
		return persistence.NewRunError("Save", report.RunID, err)
	}

	return nil
}

func (rr *RunReportRepository) GetByID(_ context.Context, runID string) (*models.RunReport, error) {
	if err := persistence.ValidateID(runID); err != nil {
		return nil, persistence.NewRunError("GetByID", runID, err)
	}

	rr.mu.RLock()
	defer rr.mu.RUnlock()

	return rr.load(runID)
}

func (rr *RunReportRepository) GetByDefinition(_ context.Context, definitionID string, limit int) ([]*models.RunReport, error) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	ids, err := listJSON(filepath.Join(rr.root, "runs"))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	reports := make([]*models.RunReport, 0)

	for _, id := range ids {
		report, err := rr.load(id)
		if err != nil {
			return nil, err
		}

		if report.DefinitionID == definitionID {
			reports = append(reports, report)
		}
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return startedAt(reports[i]) > startedAt(reports[j])
	})

	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}

	return reports, nil
}

func (rr *RunReportRepository) load(runID string) (*models.RunReport, error) {
	var report models.RunReport

	err := readJSON(rr.path(runID), &report)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewRunError("GetByID", runID, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("GetByID", runID, err)
	}

	return &report, nil
}

func startedAt(report *models.RunReport) int64 {
	if report.StartedAt == nil {
		return 0
	}

	return report.StartedAt.UnixNano()
}
