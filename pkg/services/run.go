package services

import (
	"context"
	"fmt"

	"github.com/dukex/pipewright/pkg/engine"
	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/persistence"
)

// Run starts, inspects and cancels runs.
type Run struct {
	engine      *engine.Engine
	dispatcher  *engine.Dispatcher
	definitions persistence.DefinitionRepository
}

func NewRun(e *engine.Engine, dispatcher *engine.Dispatcher, definitions persistence.DefinitionRepository) *Run {
	return &Run{
		engine:      e,
		dispatcher:  dispatcher,
		definitions: definitions,
	}
}

// Trigger starts a manual run of the stored definition id.
func (r *Run) Trigger(ctx context.Context, id string, data map[string]any) (*models.RunReport, error) {
	def, err := r.definitions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	run, err := r.engine.Start(ctx, def, models.TriggerManual, data)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	return run.Report(), nil
}

// Dispatch starts a run of every stored definition triggered by kind and
// returns their provisional reports.
func (r *Run) Dispatch(ctx context.Context, kind models.TriggerKind, data map[string]any) ([]*models.RunReport, error) {
	runs, err := r.dispatcher.OnEvent(ctx, kind, data)

	reports := make([]*models.RunReport, 0, len(runs))
	for _, run := range runs {
		reports = append(reports, run.Report())
	}

	return reports, err
}

func (r *Run) Report(ctx context.Context, runID string) (*models.RunReport, error) {
	return r.engine.Report(ctx, runID)
}

// Cancel cancels an active run. Cancelling a stored, finished run is a
// conflict.
func (r *Run) Cancel(ctx context.Context, runID string) (*models.RunReport, error) {
	err := r.engine.Cancel(runID)
	if err == nil {
		return r.engine.Report(ctx, runID)
	}

	if !persistence.IsRunNotFound(err) {
		return nil, err
	}

	if _, reportErr := r.engine.Report(ctx, runID); reportErr != nil {
		return nil, err
	}

	return nil, &ServiceError{Op: "Cancel", Code: "run_finished", Err: ErrRunFinished}
}
