package protocol

import (
	"context"

	"github.com/dukex/pipewright/pkg/models"
)

// EnvironmentContext is the isolated execution environment of one job. It is
// never shared between jobs.
type EnvironmentContext interface {
	ID() string
	WorkDir() string
	// Env returns a copy of the current environment variables.
	Env() map[string]string
	// SetEnv changes the environment seen by later steps of the same job.
	SetEnv(key, value string)
}

// Provisioner hands out environments. Release must be idempotent and safe to
// call with an environment returned alongside an Acquire error.
type Provisioner interface {
	Acquire(ctx context.Context, requirements models.Requirements) (EnvironmentContext, error)
	Release(ctx context.Context, env EnvironmentContext) error
}
