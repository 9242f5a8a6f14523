// Package log provides the action that writes a message to the job log.
package log

import (
	"github.com/dukex/pipewright/pkg/protocol"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "log"
}

func (*ActionFactory) Name() string {
	return "Log"
}

func (*ActionFactory) Description() string {
	return "Logs a message at the given level, optionally failing the step"
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. $VARS are expanded from the job environment.",
				"examples":    []string{"Building $GITHUB_SHA", "done"},
			},
			"level": map[string]any{
				"type":    "string",
				"enum":    []string{"debug", "info", "warn", "error"},
				"default": "info",
			},
			"fail": map[string]any{
				"type":        "string",
				"enum":        []string{"true", "false"},
				"description": "Exit with status 1 after logging",
			},
		},
		"additionalProperties": false,
	}
}

func (*ActionFactory) Create(params map[string]string) (protocol.Executable, error) {
	return NewAction(params), nil
}
