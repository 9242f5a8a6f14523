package schedule

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/pipewright/pkg/protocol"
)

var (
	ErrConfigNil = errors.New("config cannot be nil")
)

func NewTriggerFactory() *TriggerFactory {
	return &TriggerFactory{}
}

type TriggerFactory struct{}

func (f *TriggerFactory) ID() string {
	return "schedule"
}

func (f *TriggerFactory) Name() string {
	return "Schedule"
}

func (f *TriggerFactory) Description() string {
	return "Start runs of every definition triggered by 'schedule' on a cron expression"
}

func (f *TriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type":  "object",
		"title": "Schedule Trigger Configuration",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Identifier of this schedule, included in the trigger data",
			},
			"cron": map[string]any{
				"type":        "string",
				"description": "Cron expression, standard 5-field format with an optional leading seconds field",
				"examples":    []string{"0 2 * * *", "*/15 * * * *", "@hourly"},
			},
			"enabled": map[string]any{
				"type":    "boolean",
				"default": true,
			},
		},
		"required": []string{"id", "cron"},
	}
}

func (f *TriggerFactory) Create(config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, ErrConfigNil
	}

	trigger, err := NewTrigger(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule trigger: %w", err)
	}

	return trigger, nil
}
