package queue

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/pipewright/pkg/protocol"
)

var ErrConfigNil = errors.New("config cannot be nil")

func NewTriggerFactory() *TriggerFactory {
	return &TriggerFactory{}
}

type TriggerFactory struct{}

func (f *TriggerFactory) ID() string {
	return "queue"
}

func (f *TriggerFactory) Name() string {
	return "Queue"
}

func (f *TriggerFactory) Description() string {
	return "Start runs from JSON event messages pushed to a Redis list"
}

func (f *TriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type":  "object",
		"title": "Queue Trigger Configuration",
		"properties": map[string]any{
			"id": map[string]any{
				"type": "string",
			},
			"provider": map[string]any{
				"type":    "string",
				"enum":    []string{"redis"},
				"default": "redis",
			},
			"queue": map[string]any{
				"type":        "string",
				"description": "Name of the list to pop messages from",
			},
			"connection": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"addr":     map[string]any{"type": "string", "default": "localhost:6379"},
					"password": map[string]any{"type": "string"},
					"db":       map[string]any{"type": "string"},
				},
			},
			"enabled": map[string]any{
				"type":    "boolean",
				"default": true,
			},
		},
		"required": []string{"id", "queue"},
	}
}

func (f *TriggerFactory) Create(config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, ErrConfigNil
	}

	trigger, err := NewTrigger(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue trigger: %w", err)
	}

	return trigger, nil
}
