// Package scheduler drives the jobs of a run through their lifecycle,
// admitting ready jobs up to a concurrency ceiling and propagating failures to
// dependents.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/pipewright/pkg/graph"
	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/sequencer"
)

const (
	DefaultMaxConcurrency = 4

	reasonCancelled = "run cancelled"
)

// FailurePolicy decides what a failed job does to the rest of the run.
type FailurePolicy string

const (
	// FailureSkipDependents skips every job downstream of the failure and
	// lets unrelated branches run to completion.
	FailureSkipDependents FailurePolicy = "skip-dependents"
	// FailureHalt stops admitting jobs after the first failure. Jobs already
	// running finish; everything else is skipped.
	FailureHalt           FailurePolicy = "halt"
)

var ErrUnknownFailurePolicy = errors.New("unknown failure policy")

func ParseFailurePolicy(value string) (FailurePolicy, error) {
	switch FailurePolicy(value) {
	case "", FailureSkipDependents:
		return FailureSkipDependents, nil
	case FailureHalt:
		return FailureHalt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFailurePolicy, value)
	}
}

type Config struct {
	// MaxConcurrency caps the number of jobs running at once. Values below 1
	// mean 1.
	MaxConcurrency int
	// FailurePolicy defaults to FailureSkipDependents.
	FailurePolicy FailurePolicy
}

func DefaultConfig() Config {
	return Config{MaxConcurrency: DefaultMaxConcurrency, FailurePolicy: FailureSkipDependents}
}

// JobRunner executes a single job to completion.
type JobRunner interface {
	Run(ctx context.Context, job *models.JobSpec, workflowEnv map[string]string) sequencer.Outcome
}

// JobRunnerFunc adapts a function to JobRunner.
type JobRunnerFunc func(ctx context.Context, job *models.JobSpec, workflowEnv map[string]string) sequencer.Outcome

func (f JobRunnerFunc) Run(ctx context.Context, job *models.JobSpec, workflowEnv map[string]string) sequencer.Outcome {
	return f(ctx, job, workflowEnv)
}

// Transition describes one job status change.
type Transition struct {
	RunID  string
	Job    string
	From   models.JobStatus
	To     models.JobStatus
	Reason string
	At     time.Time
}

// Observer is notified of every job transition, from the scheduler's
// goroutine and after the run lock is released.
type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

type ObserverFunc func(ctx context.Context, t Transition)

func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) {
	f(ctx, t)
}

type Scheduler struct {
	runner    JobRunner
	config    Config
	logger    *slog.Logger
	observers []Observer
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithObserver(observer Observer) Option {
	return func(s *Scheduler) {
		s.observers = append(s.observers, observer)
	}
}

func New(runner JobRunner, config Config, opts ...Option) *Scheduler {
	if config.MaxConcurrency < 1 {
		config.MaxConcurrency = 1
	}

	if config.FailurePolicy == "" {
		config.FailurePolicy = FailureSkipDependents
	}

	s := &Scheduler{
		runner: runner,
		config: config,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

type completion struct {
	job     string
	outcome sequencer.Outcome
}

// execution holds the state of one Execute call. It is only touched by the
// event loop goroutine.
type execution struct {
	*Scheduler

	ctx         context.Context
	run         *models.Run
	graph       *graph.JobGraph
	logger      *slog.Logger
	outstanding map[string]int
	ready       []string
	running     int
	cancelled   bool
	halted      bool
}

// Execute runs every job of g and blocks until the run is terminal. run must
// own the executions of g. Cancelling ctx stops admission; running jobs stop
// at their next step boundary and every unfinished job ends skipped.
func (s *Scheduler) Execute(ctx context.Context, run *models.Run, g *graph.JobGraph) models.RunStatus {
	e := &execution{
		Scheduler:   s,
		ctx:         ctx,
		run:         run,
		graph:       g,
		logger:      s.logger.With("run_id", run.ID),
		outstanding: make(map[string]int, g.Len()),
		ready:       g.Roots(),
	}

	for _, name := range g.Names() {
		e.outstanding[name] = len(g.Node(name).Dependencies)
	}

	started := time.Now().UTC()
	run.Update(func(r *models.Run) {
		r.Status = models.RunStatusRunning
		r.StartedAt = &started
	})

	e.logger.InfoContext(ctx, "Executing run",
		"jobs", g.Len(),
		"max_concurrency", s.config.MaxConcurrency,
		"failure_policy", s.config.FailurePolicy,
	)

	e.loop()

	return e.finish()
}

func (e *execution) loop() {
	completions := make(chan completion, e.config.MaxConcurrency)
	done := e.ctx.Done()

	for len(e.ready) > 0 || e.running > 0 {
		select {
		case <-done:
			done = nil
			e.cancel()
		default:
		}

		if !e.cancelled && !e.halted {
			e.admit(completions)
		}

		if e.running == 0 {
			continue
		}

		select {
		case c := <-completions:
			e.running--
			e.complete(c)
		case <-done:
			done = nil
			e.cancel()
		}
	}
}

func (e *execution) admit(completions chan<- completion) {
	for len(e.ready) > 0 {
		name := e.ready[0]
		node := e.graph.Node(name)

		if len(node.Spec.Steps) == 0 {
			e.ready = e.ready[1:]
			now := time.Now().UTC()

			e.transition(name, models.JobStatusSucceeded, "", func(job *models.JobExecution) {
				job.StartedAt = &now
				job.FinishedAt = &now
			})
			e.propagate(name, models.JobStatusSucceeded)

			continue
		}

		if e.running >= e.config.MaxConcurrency {
			return
		}

		e.ready = e.ready[1:]
		e.running++

		now := time.Now().UTC()
		e.transition(name, models.JobStatusRunning, "", func(job *models.JobExecution) {
			job.StartedAt = &now
		})

		go func(spec *models.JobSpec) {
			outcome := e.runner.Run(e.ctx, spec, e.graph.Env())
			completions <- completion{job: spec.Name, outcome: outcome}
		}(node.Spec)
	}
}

func (e *execution) complete(c completion) {
	reason := ""
	if c.outcome.Status == models.JobStatusSkipped {
		reason = reasonCancelled
	}

	e.transition(c.job, c.outcome.Status, reason, func(job *models.JobExecution) {
		finished := c.outcome.FinishedAt
		if finished.IsZero() {
			finished = time.Now().UTC()
		}

		job.Steps = c.outcome.Steps
		job.FinishedAt = &finished

		if c.outcome.Err != nil {
			job.Error = c.outcome.Err.Error()
		}
	})

	e.propagate(c.job, c.outcome.Status)

	if c.outcome.Status == models.JobStatusFailed && e.config.FailurePolicy == FailureHalt {
		e.halt(c.job)
	}
}

// propagate resolves the dependents of a job that just became terminal.
func (e *execution) propagate(name string, status models.JobStatus) {
	for _, dependent := range e.graph.Dependents(name) {
		if e.statusOf(dependent).IsTerminal() {
			continue
		}

		if status == models.JobStatusFailed || status == models.JobStatusSkipped {
			e.skip(dependent, fmt.Sprintf("dependency '%s' %s", name, status))

			continue
		}

		e.outstanding[dependent]--
		if e.outstanding[dependent] == 0 && !e.cancelled && !e.halted {
			e.transition(dependent, models.JobStatusReady, "", nil)
			e.ready = append(e.ready, dependent)
		}
	}
}

func (e *execution) skip(name, reason string) {
	e.transition(name, models.JobStatusSkipped, reason, func(job *models.JobExecution) {
		job.SkipReason = reason
	})
	e.propagate(name, models.JobStatusSkipped)
}

func (e *execution) cancel() {
	if e.cancelled {
		return
	}

	e.cancelled = true
	e.logger.WarnContext(e.ctx, "Run cancelled, skipping queued jobs", "queued", len(e.ready), "running", e.running)

	queued := e.ready
	e.ready = nil

	for _, name := range queued {
		if !e.statusOf(name).IsTerminal() {
			e.skip(name, reasonCancelled)
		}
	}
}

// halt skips every job that has not started yet. Running jobs are left to
// finish.
func (e *execution) halt(failed string) {
	if e.halted || e.cancelled {
		return
	}

	e.halted = true
	e.ready = nil

	reason := fmt.Sprintf("run halted after '%s' failed", failed)
	e.logger.WarnContext(e.ctx, "Halting run", "job", failed, "running", e.running)

	for _, name := range e.graph.Names() {
		status := e.statusOf(name)
		if !status.IsTerminal() && status != models.JobStatusRunning {
			e.skip(name, reason)
		}
	}
}

func (e *execution) finish() models.RunStatus {
	if e.cancelled {
		for _, name := range e.graph.Names() {
			if !e.statusOf(name).IsTerminal() {
				e.skip(name, reasonCancelled)
			}
		}
	}

	var status models.RunStatus

	finished := time.Now().UTC()
	e.run.Update(func(r *models.Run) {
		statuses := make([]models.JobStatus, 0, len(r.Jobs))
		for _, job := range r.Jobs {
			statuses = append(statuses, job.Status)
		}

		status = models.OverallStatus(statuses)
		r.Status = status
		r.Cancelled = e.cancelled
		r.FinishedAt = &finished
	})

	e.logger.InfoContext(e.ctx, "Run finished", "status", status, "cancelled", e.cancelled)

	return status
}

func (e *execution) statusOf(name string) models.JobStatus {
	var status models.JobStatus

	e.run.View(func(r *models.Run) {
		status = r.Jobs[name].Status
	})

	return status
}

func (e *execution) transition(name string, to models.JobStatus, reason string, mutate func(job *models.JobExecution)) {
	var from models.JobStatus

	e.run.Update(func(r *models.Run) {
		job := r.Jobs[name]
		from = job.Status
		job.Status = to

		if mutate != nil {
			mutate(job)
		}
	})

	t := Transition{RunID: e.run.ID, Job: name, From: from, To: to, Reason: reason, At: time.Now().UTC()}

	e.logger.DebugContext(e.ctx, "Job transition", "job", name, "from", from, "to", to, "reason", reason)

	ctx := context.WithoutCancel(e.ctx)
	for _, observer := range e.observers {
		observer.OnTransition(ctx, t)
	}
}
