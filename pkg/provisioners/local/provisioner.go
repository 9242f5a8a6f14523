// Package local provisions job environments as temporary workspaces on the
// machine running the engine.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"runtime"
	"slices"
	"sync"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/protocol"
	"github.com/google/uuid"
)

var (
	ErrUnsatisfiable      = errors.New("requirements cannot be satisfied")
	ErrForeignEnvironment = errors.New("environment was not acquired from this provisioner")
)

var defaultInherited = []string{"PATH", "HOME", "USER", "LANG", "TMPDIR", "SHELL"}

// Config controls where workspaces live and which capabilities are offered.
type Config struct {
	Root         string   // Parent directory of workspaces; the system temp dir when empty
	Capabilities []string // Labels a job may require; DefaultCapabilities when empty
	Inherit      []string // Host variables copied into every environment
}

func DefaultCapabilities() []string {
	return []string{"local", runtime.GOOS, runtime.GOARCH}
}

type Provisioner struct {
	config Config
	logger *slog.Logger
}

func NewProvisioner(config Config, logger *slog.Logger) *Provisioner {
	if len(config.Capabilities) == 0 {
		config.Capabilities = DefaultCapabilities()
	}

	if config.Inherit == nil {
		config.Inherit = defaultInherited
	}

	return &Provisioner{
		config: config,
		logger: logger.With("module", "local_provisioner"),
	}
}

func (p *Provisioner) Acquire(ctx context.Context, requirements models.Requirements) (protocol.EnvironmentContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var missing []string

	for _, capability := range requirements.Capabilities {
		if !slices.Contains(p.config.Capabilities, capability) {
			missing = append(missing, capability)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing capabilities %v (offered %v)", ErrUnsatisfiable, missing, p.config.Capabilities)
	}

	dir, err := os.MkdirTemp(p.config.Root, "pipewright-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	id := "env-" + uuid.New().String()[:8]

	vars := make(map[string]string, len(p.config.Inherit)+len(requirements.Env)+3)
	for _, key := range p.config.Inherit {
		if value, ok := os.LookupEnv(key); ok {
			vars[key] = value
		}
	}

	maps.Copy(vars, requirements.Env)
	vars["CI"] = "true"
	vars["PIPEWRIGHT_WORKSPACE"] = dir
	vars["PIPEWRIGHT_ENVIRONMENT_ID"] = id

	p.logger.DebugContext(ctx, "Acquired environment", "environment_id", id, "workspace", dir)

	return &Environment{id: id, dir: dir, env: vars}, nil
}

func (p *Provisioner) Release(ctx context.Context, env protocol.EnvironmentContext) error {
	environment, ok := env.(*Environment)
	if !ok || environment == nil {
		return ErrForeignEnvironment
	}

	environment.release.Do(func() {
		environment.releaseErr = os.RemoveAll(environment.dir)

		p.logger.DebugContext(ctx, "Released environment", "environment_id", environment.id, "error", environment.releaseErr)
	})

	return environment.releaseErr
}

// Environment is a workspace directory plus the job's environment variables.
type Environment struct {
	mu  sync.Mutex
	id  string
	dir string
	env map[string]string

	release    sync.Once
	releaseErr error
}

func (e *Environment) ID() string {
	return e.id
}

func (e *Environment) WorkDir() string {
	return e.dir
}

func (e *Environment) Env() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return maps.Clone(e.env)
}

func (e *Environment) SetEnv(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.env[key] = value
}
