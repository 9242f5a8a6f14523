package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/pipewright/pkg/protocol"
	"github.com/dukex/pipewright/pkg/registry"
)

// ExecutableFunc adapts a function to protocol.Executable.
type ExecutableFunc func(ctx context.Context, env protocol.EnvironmentContext) (protocol.ActionResult, error)

func (f ExecutableFunc) Invoke(ctx context.Context, env protocol.EnvironmentContext, _ *slog.Logger) (protocol.ActionResult, error) {
	return f(ctx, env)
}

// Succeed is an executable that always exits 0 with output.
func Succeed(output string) ExecutableFunc {
	return func(context.Context, protocol.EnvironmentContext) (protocol.ActionResult, error) {
		return protocol.ActionResult{Output: output}, nil
	}
}

// Exit is an executable that exits with code.
func Exit(code int) ExecutableFunc {
	return func(context.Context, protocol.EnvironmentContext) (protocol.ActionResult, error) {
		return protocol.ActionResult{ExitCode: code, Output: fmt.Sprintf("exit %d", code)}, nil
	}
}

// Resolver is a static action resolver that records every resolved action.
type Resolver struct {
	mu      sync.Mutex
	actions map[string]protocol.Executable
	calls   []string
}

func NewResolver() *Resolver {
	return &Resolver{actions: make(map[string]protocol.Executable)}
}

func (r *Resolver) Add(id string, executable protocol.Executable) *Resolver {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actions[id] = executable

	return r
}

func (r *Resolver) Resolve(_ context.Context, actionID string, _ map[string]string) (protocol.Executable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, actionID)

	executable, ok := r.actions[actionID]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", registry.ErrActionNotFound, actionID)
	}

	return executable, nil
}

// Calls returns the resolved action ids in order.
func (r *Resolver) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}
