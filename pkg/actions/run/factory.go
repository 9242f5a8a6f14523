package run

import (
	"github.com/dukex/pipewright/pkg/protocol"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "run"
}

func (*ActionFactory) Name() string {
	return "Run command"
}

func (*ActionFactory) Description() string {
	return "Runs a command in the job workspace and fails the step on a non-zero exit status"
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Command or multi-line script. Runs as '<shell> -e -c <command>'.",
				"examples": []string{
					"cargo fmt --all -- --check",
					"go test ./...",
				},
			},
			"shell": map[string]any{
				"type":        "string",
				"description": "Shell running the command, 'sh' by default. 'none' executes a single argv without a shell.",
				"default":     DefaultShell,
				"examples":    []string{"sh", "bash", NoShell},
			},
			"working-directory": map[string]any{
				"type":        "string",
				"description": "Directory relative to the workspace",
			},
		},
		"required":             []string{"command"},
		"additionalProperties": false,
	}
}

func (*ActionFactory) Create(params map[string]string) (protocol.Executable, error) {
	return NewAction(params), nil
}
