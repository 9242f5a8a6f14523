package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/persistence"
	"github.com/dukex/pipewright/pkg/protocol"
)

var ErrEmptyTriggerKind = errors.New("trigger kind is required")

// DefinitionSource lists the stored definitions that react to a trigger kind.
type DefinitionSource interface {
	GetByTrigger(ctx context.Context, kind models.TriggerKind) ([]*models.WorkflowDefinition, error)
}

// Dispatcher starts one run for every stored definition whose trigger set
// contains the kind of an incoming event.
type Dispatcher struct {
	engine      *Engine
	definitions DefinitionSource
	logger      *slog.Logger
}

func NewDispatcher(engine *Engine, definitions DefinitionSource, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		engine:      engine,
		definitions: definitions,
		logger:      logger.With("module", "dispatcher"),
	}
}

// OnEvent starts the matching runs. A definition that fails to start does not
// prevent the others; the returned error joins every failure.
func (d *Dispatcher) OnEvent(ctx context.Context, kind models.TriggerKind, data map[string]any) ([]*Run, error) {
	if kind == "" {
		return nil, ErrEmptyTriggerKind
	}

	definitions, err := d.definitions.GetByTrigger(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions for trigger '%s': %w", kind, err)
	}

	var (
		runs []*Run
		errs []error
	)

	for _, def := range definitions {
		if !def.HasTrigger(kind) {
			continue
		}

		run, err := d.engine.Start(ctx, def, kind, data)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to start run", "definition_id", def.ID, "trigger", kind, "error", err)
			errs = append(errs, persistence.NewDefinitionError("Start", def.ID, err))

			continue
		}

		runs = append(runs, run)
	}

	d.logger.InfoContext(ctx, "Dispatched event", "trigger", kind, "definitions", len(definitions), "runs", len(runs))

	return runs, errors.Join(errs...)
}

// Callback adapts the dispatcher to a trigger source that always fires the
// same kind.
func (d *Dispatcher) Callback(kind models.TriggerKind) protocol.TriggerCallback {
	return func(ctx context.Context, data map[string]any) error {
		_, err := d.OnEvent(ctx, kind, data)

		return err
	}
}

// EventCallback adapts the dispatcher to a trigger source whose data names
// the kind in its "event" field.
func (d *Dispatcher) EventCallback() protocol.TriggerCallback {
	return func(ctx context.Context, data map[string]any) error {
		kind, _ := data["event"].(string)

		_, err := d.OnEvent(ctx, models.TriggerKind(kind), data)

		return err
	}
}
