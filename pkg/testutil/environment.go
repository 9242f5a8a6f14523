package testutil

import (
	"context"
	"maps"
	"sync"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/protocol"
)

// Environment is an in-memory protocol.EnvironmentContext for tests.
type Environment struct {
	mu  sync.Mutex
	id  string
	dir string
	env map[string]string
}

// NewEnvironment creates an environment rooted at dir with a copy of env.
func NewEnvironment(dir string, env map[string]string) *Environment {
	e := &Environment{id: "test-env", dir: dir, env: make(map[string]string, len(env))}
	maps.Copy(e.env, env)

	return e
}

func (e *Environment) ID() string      { return e.id }
func (e *Environment) WorkDir() string { return e.dir }

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

// Provisioner hands out in-memory environments and tracks how many are still
// held.
type Provisioner struct {
	mu       sync.Mutex
	acquired int
	released int
}

func NewProvisioner() *Provisioner {
	return &Provisioner{}
}

func (p *Provisioner) Acquire(_ context.Context, requirements models.Requirements) (protocol.EnvironmentContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.acquired++

	return NewEnvironment("", requirements.Env), nil
}

func (p *Provisioner) Release(context.Context, protocol.EnvironmentContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.released++

	return nil
}

// Outstanding returns the number of environments acquired but not released.
func (p *Provisioner) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.acquired - p.released
}
