// Package sequencer runs the steps of a single job, in order, inside one
// provisioned environment.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/otelhelper"
	"github.com/dukex/pipewright/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// JobEnvVar holds the name of the running job in every environment.
const JobEnvVar = "PIPEWRIGHT_JOB"

// ActionResolver maps an action identifier and its params to an executable.
type ActionResolver interface {
	Resolve(ctx context.Context, actionID string, params map[string]string) (protocol.Executable, error)
}

// ErrJobTimeout means the job ran out of time between two steps.
var ErrJobTimeout = errors.New("job timeout exceeded")

// ProvisioningError means the job's environment could not be acquired.
type ProvisioningError struct {
	Job string
	Err error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("failed to provision environment for job '%s': %v", e.Job, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

func IsProvisioningError(err error) bool {
	var perr *ProvisioningError

	return errors.As(err, &perr)
}

// Outcome is what a job run produced. The scheduler applies it to the run.
type Outcome struct {
	Status     models.JobStatus
	Steps      []models.StepResult
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// StepHook observes every finished step.
type StepHook func(ctx context.Context, job string, result models.StepResult)

type Sequencer struct {
	resolver    ActionResolver
	provisioner protocol.Provisioner
	logger      *slog.Logger
	tracer      trace.Tracer
	hooks       []StepHook
}

type Option func(*Sequencer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sequencer) {
		s.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Sequencer) {
		s.tracer = tracer
	}
}

func WithStepHook(hook StepHook) Option {
	return func(s *Sequencer) {
		s.hooks = append(s.hooks, hook)
	}
}

func New(resolver ActionResolver, provisioner protocol.Provisioner, opts ...Option) *Sequencer {
	s := &Sequencer{
		resolver:    resolver,
		provisioner: provisioner,
		logger:      slog.Default(),
		tracer:      otelhelper.NoopTracer(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run executes job fail-fast: the first failing step stops the job and every
// later step is reported not_run. The environment is released on every path.
// Cancellation of ctx is honoured between steps; a step already running is
// allowed to finish, bounded only by the job timeout.
func (s *Sequencer) Run(ctx context.Context, job *models.JobSpec, workflowEnv map[string]string) Outcome {
	logger := s.logger.With("job", job.Name)
	outcome := Outcome{StartedAt: time.Now().UTC()}

	defer func() {
		outcome.FinishedAt = time.Now().UTC()
	}()

	if len(job.Steps) == 0 {
		outcome.Status = models.JobStatusSucceeded
		outcome.FinishedAt = outcome.StartedAt

		return outcome
	}

	if ctx.Err() != nil {
		outcome.Status = models.JobStatusSkipped
		outcome.Steps = models.NotRunResults(job.Steps, 0)

		return outcome
	}

	requirements := models.Requirements{
		Capabilities: job.Requirements.Capabilities,
		Env:          make(map[string]string, len(workflowEnv)+len(job.Requirements.Env)),
	}
	maps.Copy(requirements.Env, workflowEnv)
	maps.Copy(requirements.Env, job.Requirements.Env)
	requirements.Env[JobEnvVar] = job.Name

	env, err := s.provisioner.Acquire(ctx, requirements)
	if env != nil {
		defer s.release(ctx, logger, env)
	}

	if err != nil {
		logger.ErrorContext(ctx, "Failed to provision environment", "error", err)

		outcome.Status = models.JobStatusFailed
		outcome.Steps = models.NotRunResults(job.Steps, 0)
		outcome.Err = &ProvisioningError{Job: job.Name, Err: err}

		return outcome
	}

	stepCtx := context.WithoutCancel(ctx)

	if job.Timeout > 0 {
		var cancel context.CancelFunc

		stepCtx, cancel = context.WithTimeout(stepCtx, job.Timeout)
		defer cancel()
	}

	outcome.Status = models.JobStatusSucceeded
	outcome.Steps = make([]models.StepResult, 0, len(job.Steps))

	for i, step := range job.Steps {
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "Run cancelled, stopping before step", "step", step.Name)

			outcome.Status = models.JobStatusSkipped

			break
		}

		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			logger.WarnContext(ctx, "Job timeout exceeded, stopping before step", "step", step.Name, "timeout", job.Timeout)

			outcome.Status = models.JobStatusFailed
			outcome.Err = fmt.Errorf("%w: %s elapsed before step '%s'", ErrJobTimeout, job.Timeout, step.Name)

			break
		}

		result := s.runStep(stepCtx, logger, job, env, i, step)
		outcome.Steps = append(outcome.Steps, result)

		for _, hook := range s.hooks {
			hook(ctx, job.Name, result)
		}

		if result.Status == models.StepStatusFailed {
			outcome.Status = models.JobStatusFailed

			break
		}
	}

	outcome.Steps = append(outcome.Steps, models.NotRunResults(job.Steps, len(outcome.Steps))...)

	return outcome
}

func (s *Sequencer) release(ctx context.Context, logger *slog.Logger, env protocol.EnvironmentContext) {
	err := s.provisioner.Release(context.WithoutCancel(ctx), env)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to release environment", "environment_id", env.ID(), "error", err)
	}
}

func (s *Sequencer) runStep(
	ctx context.Context,
	logger *slog.Logger,
	job *models.JobSpec,
	env protocol.EnvironmentContext,
	index int,
	step *models.StepSpec,
) models.StepResult {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "step",
		attribute.String(otelhelper.JobNameKey, job.Name),
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.String(otelhelper.ActionIDKey, step.Action),
		attribute.Int(otelhelper.StepIndexKey, index),
	)
	defer span.End()

	logger = logger.With("step", step.Name, "action", step.Action)
	logger.InfoContext(ctx, "Starting step")

	started := time.Now().UTC()
	result := models.StepResult{
		Index:     index,
		Name:      step.Name,
		Action:    step.Action,
		StartedAt: &started,
	}

	out, err := s.invoke(ctx, logger, env, step)
	result.ExitCode = out.ExitCode
	result.Output = out.Output

	switch {
	case err != nil:
		result.Status = models.StepStatusFailed
		result.Failure = &models.StepFailure{Kind: models.FailureActionError, Message: err.Error()}
	case out.ExitCode != 0:
		result.Status = models.StepStatusFailed
		result.Failure = &models.StepFailure{
			Kind:    models.FailureExitStatus,
			Message: fmt.Sprintf("exited with status %d", out.ExitCode),
		}
	default:
		result.Status = models.StepStatusSucceeded
	}

	if result.Failure != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Failure.Message = fmt.Sprintf("job timeout of %s exceeded: %s", job.Timeout, result.Failure.Message)
	}

	finished := time.Now().UTC()
	result.FinishedAt = &finished
	result.Duration = finished.Sub(started)

	if result.Failure != nil {
		otelhelper.SetError(span, errors.New(result.Failure.Message))
		logger.WarnContext(ctx, "Step failed", "kind", result.Failure.Kind, "reason", result.Failure.Message)
	} else {
		logger.InfoContext(ctx, "Step succeeded", "duration", result.Duration)
	}

	return result
}

func (s *Sequencer) invoke(
	ctx context.Context,
	logger *slog.Logger,
	env protocol.EnvironmentContext,
	step *models.StepSpec,
) (out protocol.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action '%s' panicked: %v", step.Action, r)
		}
	}()

	executable, err := s.resolver.Resolve(ctx, step.Action, step.Params)
	if err != nil {
		return protocol.ActionResult{}, err
	}

	return executable.Invoke(ctx, env, logger)
}
