package log

import (
	"context"
	"log/slog"
	"os"

	"github.com/dukex/pipewright/pkg/protocol"
)

type Action struct {
	Message string
	Level   string
	Fail    bool
}

func NewAction(params map[string]string) *Action {
	level := params["level"]
	if level == "" {
		level = "info"
	}

	return &Action{
		Message: params["message"],
		Level:   level,
		Fail:    params["fail"] == "true",
	}
}

func (a *Action) Invoke(ctx context.Context, env protocol.EnvironmentContext, logger *slog.Logger) (protocol.ActionResult, error) {
	vars := env.Env()
	message := os.Expand(a.Message, func(key string) string { return vars[key] })

	logger = logger.With("action_type", "log")

	switch a.Level {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}

	exitCode := 0
	if a.Fail {
		exitCode = 1
	}

	return protocol.ActionResult{ExitCode: exitCode, Output: message}, nil
}
