// Package schedule fires the "schedule" trigger kind on a cron expression.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/protocol"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Trigger struct {
	ID       string
	CronExpr string
	Enabled  bool

	mu       sync.Mutex
	cron     *cron.Cron
	callback protocol.TriggerCallback
	logger   *slog.Logger
}

func NewTrigger(config map[string]any, logger *slog.Logger) (*Trigger, error) {
	id, _ := config["id"].(string)
	cronExpr, _ := config["cron"].(string)

	enabled := true
	if value, ok := config["enabled"].(bool); ok {
		enabled = value
	}

	trigger := &Trigger{
		ID:       id,
		CronExpr: cronExpr,
		Enabled:  enabled,
		logger: logger.With(
			"module", "schedule_trigger",
			"id", id,
			"cron", cronExpr,
		),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate() error {
	if t.ID == "" {
		return errors.New("schedule trigger ID is required")
	}

	if t.CronExpr == "" {
		return errors.New("schedule trigger cron expression is required")
	}

	if _, err := parser.Parse(t.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Schedule trigger is disabled")

		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cron != nil {
		return fmt.Errorf("schedule trigger %s already started", t.ID)
	}

	t.callback = callback
	t.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		),
	)

	entry, err := t.cron.AddFunc(t.CronExpr, func() { t.fire(ctx) })
	if err != nil {
		t.cron = nil

		return fmt.Errorf("failed to add cron job for trigger %s: %w", t.ID, err)
	}

	t.logger.InfoContext(ctx, "Starting schedule trigger", "entry", entry)
	t.cron.Start()

	return nil
}

func (t *Trigger) fire(ctx context.Context) {
	t.logger.InfoContext(ctx, "Schedule fired")

	data := map[string]any{
		"trigger":    string(models.TriggerSchedule),
		"trigger_id": t.ID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}

	if err := t.callback(ctx, data); err != nil {
		t.logger.ErrorContext(ctx, "Failed to start scheduled runs", "error", err)
	}
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.logger.InfoContext(ctx, "Stopping schedule trigger")

	if t.cron != nil {
		<-t.cron.Stop().Done()
		t.cron = nil
	}

	return nil
}
