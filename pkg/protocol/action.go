// Package protocol defines the interfaces between the engine and its
// external collaborators: actions, environments, triggers and report sinks.
package protocol

import (
	"context"
	"log/slog"
)

// ActionResult is what an executable reports back for one step.
type ActionResult struct {
	ExitCode int
	Output   string
}

// Executable is a resolved, parameterized action ready to run as a step.
// A non-nil error means the action could not be executed at all; a non-zero
// exit code means it ran and failed.
type Executable interface {
	Invoke(ctx context.Context, env EnvironmentContext, logger *slog.Logger) (ActionResult, error)
}

// ActionFactory builds executables for one action identifier. Schema returns
// the JSON schema of the action's parameters.
type ActionFactory interface {
	ID() string
	Name() string
	Description() string
	Schema() map[string]any
	Create(params map[string]string) (Executable, error)
}
