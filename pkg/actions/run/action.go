// Package run provides the action that executes commands in a job workspace.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/pipewright/pkg/protocol"
	"github.com/mattn/go-shellwords"
)

// maxOutput bounds the captured output kept per step; the tail is kept.
const maxOutput = 64 * 1024

const (
	// DefaultShell runs the command as '<shell> -e -c <command>'.
	DefaultShell = "sh"
	// NoShell executes the command as a single argv, without a shell.
	NoShell = "none"
)

var ErrUnsupportedSyntax = errors.New("command needs a shell")

type Action struct {
	Command          string
	Shell            string
	WorkingDirectory string
}

func NewAction(params map[string]string) *Action {
	shell := params["shell"]
	if shell == "" {
		shell = DefaultShell
	}

	return &Action{
		Command:          params["command"],
		Shell:            shell,
		WorkingDirectory: params["working-directory"],
	}
}

func (a *Action) argv(env map[string]string) ([]string, error) {
	if strings.TrimSpace(a.Command) == "" {
		return nil, errors.New("empty command")
	}

	if a.Shell != NoShell {
		return []string{a.Shell, "-e", "-c", a.Command}, nil
	}

	if strings.ContainsAny(a.Command, "\n\r") {
		return nil, fmt.Errorf("%w: multi-line scripts are not supported with shell '%s'", ErrUnsupportedSyntax, NoShell)
	}

	if strings.Contains(a.Command, "`") || strings.Contains(a.Command, "$(") {
		return nil, fmt.Errorf("%w: command substitution is not supported with shell '%s'", ErrUnsupportedSyntax, NoShell)
	}

	parser := shellwords.NewParser()
	parser.ParseEnv = true
	parser.Getenv = func(key string) string { return env[key] }

	args, err := parser.Parse(a.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	// the parser stops at operators such as &&, | or > and leaves the rest.
	if parser.Position != -1 {
		return nil, fmt.Errorf("%w: unsupported syntax at %q", ErrUnsupportedSyntax, string([]rune(a.Command)[parser.Position:]))
	}

	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	return args, nil
}

func (a *Action) Invoke(ctx context.Context, env protocol.EnvironmentContext, logger *slog.Logger) (protocol.ActionResult, error) {
	logger = logger.With("action_type", "run")

	args, err := a.argv(env.Env())
	if err != nil {
		return protocol.ActionResult{}, err
	}

	dir := env.WorkDir()
	if a.WorkingDirectory != "" {
		dir = filepath.Join(dir, filepath.Clean("/"+a.WorkingDirectory))
	}

	// #nosec G204 -- running pipeline commands is the purpose of this action
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = environ(env.Env())

	output := &tailBuffer{limit: maxOutput}
	cmd.Stdout = output
	cmd.Stderr = output

	logger.DebugContext(ctx, "Running command", "command", a.Command, "dir", dir)

	err = cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.InfoContext(ctx, "Command exited with non-zero status", "exit_code", exitErr.ExitCode())

			return protocol.ActionResult{ExitCode: exitErr.ExitCode(), Output: output.String()}, nil
		}

		return protocol.ActionResult{ExitCode: -1, Output: output.String()}, fmt.Errorf("failed to run '%s': %w", args[0], err)
	}

	return protocol.ActionResult{ExitCode: 0, Output: output.String()}, nil
}

func environ(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}

	return list
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	limit     int
	buf       []byte
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = append([]byte(nil), b.buf[len(b.buf)-b.limit:]...)
		b.truncated = true
	}

	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := strings.TrimRight(string(b.buf), "\n")
	if b.truncated {
		return "[output truncated]\n" + out
	}

	return out
}
