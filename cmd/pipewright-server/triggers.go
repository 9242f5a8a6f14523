package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/pipewright/pkg/engine"
	"github.com/dukex/pipewright/pkg/eventbus"
	"github.com/dukex/pipewright/pkg/events"
	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/protocol"
	"github.com/dukex/pipewright/pkg/registry"
)

type triggerConfig struct {
	schedule  string
	redisAddr string
	queue     string
}

// startTriggers creates and starts the configured trigger sources. Schedule
// ticks dispatch the schedule kind; queue messages dispatch the kind named by
// their "event" field. When one source fails, the ones already started are
// stopped again.
func startTriggers(
	ctx context.Context,
	logger *slog.Logger,
	reg *registry.Registry,
	dispatcher *engine.Dispatcher,
	config triggerConfig,
) ([]protocol.Trigger, error) {
	started := make([]protocol.Trigger, 0, 2)

	start := func(triggerID string, triggerConfig map[string]any, callback protocol.TriggerCallback) error {
		trigger, err := reg.CreateTrigger(triggerID, triggerConfig)
		if err != nil {
			return fmt.Errorf("failed to create %s trigger: %w", triggerID, err)
		}

		if err := trigger.Start(ctx, callback); err != nil {
			return fmt.Errorf("failed to start %s trigger: %w", triggerID, err)
		}

		started = append(started, trigger)

		logger.InfoContext(ctx, "Started trigger", "trigger", triggerID)

		return nil
	}

	var err error

	if config.schedule != "" {
		err = start("schedule", map[string]any{
			"id":   "server-schedule",
			"cron": config.schedule,
		}, dispatcher.Callback(models.TriggerSchedule))
	}

	if err == nil && config.redisAddr != "" {
		err = start("queue", map[string]any{
			"id":         "server-queue",
			"provider":   "redis",
			"queue":      config.queue,
			"connection": map[string]any{"addr": config.redisAddr},
		}, dispatcher.EventCallback())
	}

	if err != nil {
		if stopErr := stopTriggers(context.WithoutCancel(ctx), started); stopErr != nil {
			logger.ErrorContext(ctx, "Failed to stop triggers", "error", stopErr)
		}

		return nil, err
	}

	return started, nil
}

func stopTriggers(ctx context.Context, triggers []protocol.Trigger) error {
	var errs []error

	for _, trigger := range triggers {
		if err := trigger.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// subscribeRunLog logs every finished run seen on the bus, including runs
// published by other server instances sharing a broker.
func subscribeRunLog(ctx context.Context, logger *slog.Logger, bus eventbus.EventBus) error {
	err := bus.Handle(events.RunFinishedEvent, func(ctx context.Context, event any) error {
		finished, ok := event.(*events.RunFinished)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		logger.InfoContext(ctx, "Run finished",
			"run_id", finished.RunID,
			"definition_id", finished.DefinitionID,
			"status", finished.Status,
			"cancelled", finished.Cancelled,
			"duration", finished.Duration,
		)

		return nil
	})
	if err != nil {
		return err
	}

	return bus.Subscribe(ctx)
}
