// Package env provides the action that sets environment variables for the
// remaining steps of a job.
package env

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/dukex/pipewright/pkg/protocol"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "env"
}

func (*ActionFactory) Name() string {
	return "Set environment"
}

func (*ActionFactory) Description() string {
	return "Exports variables to later steps of the same job; values may reference existing variables"
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type":          "object",
		"minProperties": 1,
		"propertyNames": map[string]any{
			"pattern": `^[A-Za-z_][A-Za-z0-9_]*$`,
		},
		"additionalProperties": map[string]any{"type": "string"},
	}
}

func (*ActionFactory) Create(params map[string]string) (protocol.Executable, error) {
	return &Action{Vars: params}, nil
}

type Action struct {
	Vars map[string]string
}

func (a *Action) Invoke(ctx context.Context, env protocol.EnvironmentContext, logger *slog.Logger) (protocol.ActionResult, error) {
	keys := make([]string, 0, len(a.Vars))
	for k := range a.Vars {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	current := env.Env()

	for _, key := range keys {
		value := os.Expand(a.Vars[key], func(name string) string { return current[name] })
		env.SetEnv(key, value)
		current[key] = value
	}

	logger.DebugContext(ctx, "Environment updated", "action_type", "env", "keys", keys)

	// values may carry secrets; only the names leave the environment.
	return protocol.ActionResult{Output: "set " + strings.Join(keys, ", ")}, nil
}
