// Package engine turns workflow definitions into runs: it builds the job
// graph, drives it through the scheduler and publishes what happened to the
// event bus, metrics, persistence and report sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/pipewright/pkg/definition"
	"github.com/dukex/pipewright/pkg/eventbus"
	"github.com/dukex/pipewright/pkg/events"
	"github.com/dukex/pipewright/pkg/graph"
	"github.com/dukex/pipewright/pkg/metrics"
	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/otelhelper"
	"github.com/dukex/pipewright/pkg/persistence"
	"github.com/dukex/pipewright/pkg/protocol"
	"github.com/dukex/pipewright/pkg/report"
	"github.com/dukex/pipewright/pkg/scheduler"
	"github.com/dukex/pipewright/pkg/sequencer"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrRunNotFound = persistence.ErrRunNotFound

type Options struct {
	Resolver    sequencer.ActionResolver
	Provisioner protocol.Provisioner

	// Optional collaborators.
	Persistence persistence.Persistence
	EventBus    eventbus.EventPublisher
	Sinks       []protocol.ReportSink
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
	Logger      *slog.Logger

	MaxConcurrency int
	FailurePolicy  scheduler.FailurePolicy
}

type Engine struct {
	scheduler   *scheduler.Scheduler
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	sinks       []protocol.ReportSink
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger

	mu   sync.RWMutex
	runs map[string]*Run
	wg   sync.WaitGroup
}

func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Tracer == nil {
		opts.Tracer = otelhelper.NoopTracer()
	}

	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = scheduler.DefaultMaxConcurrency
	}

	e := &Engine{
		persistence: opts.Persistence,
		eventBus:    opts.EventBus,
		sinks:       opts.Sinks,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		logger:      opts.Logger.With("module", "engine"),
		runs:        make(map[string]*Run),
	}

	seqOpts := []sequencer.Option{
		sequencer.WithLogger(opts.Logger.With("module", "sequencer")),
		sequencer.WithTracer(opts.Tracer),
	}

	if opts.Metrics != nil {
		seqOpts = append(seqOpts, sequencer.WithStepHook(func(_ context.Context, _ string, result models.StepResult) {
			opts.Metrics.StepFinished(result.Action, string(result.Status), result.Duration)
		}))
	}

	seq := sequencer.New(opts.Resolver, opts.Provisioner, seqOpts...)

	e.scheduler = scheduler.New(
		e.traced(seq),
		scheduler.Config{MaxConcurrency: opts.MaxConcurrency, FailurePolicy: opts.FailurePolicy},
		scheduler.WithLogger(opts.Logger.With("module", "scheduler")),
		scheduler.WithObserver(scheduler.ObserverFunc(e.onTransition)),
	)

	return e
}

// traced wraps every job in a span under the run span.
func (e *Engine) traced(runner scheduler.JobRunner) scheduler.JobRunner {
	return scheduler.JobRunnerFunc(func(ctx context.Context, job *models.JobSpec, workflowEnv map[string]string) sequencer.Outcome {
		ctx, span := otelhelper.StartSpan(ctx, e.tracer, "job", attribute.String(otelhelper.JobNameKey, job.Name))
		defer span.End()

		outcome := runner.Run(ctx, job, workflowEnv)

		span.SetAttributes(attribute.String(otelhelper.JobStatusKey, string(outcome.Status)))

		if outcome.Err != nil {
			otelhelper.SetError(span, outcome.Err)
		}

		return outcome
	})
}

// Start validates def, creates a run and executes it in the background. The
// run is detached from ctx; use Cancel to stop it.
func (e *Engine) Start(ctx context.Context, def *models.WorkflowDefinition, kind models.TriggerKind, data map[string]any) (*Run, error) {
	return e.start(ctx, context.WithoutCancel(ctx), def, kind, data)
}

// Execute runs def to completion and returns its final report. Cancelling ctx
// cancels the run; the report of the cancelled run is still returned.
func (e *Engine) Execute(ctx context.Context, def *models.WorkflowDefinition, kind models.TriggerKind, data map[string]any) (*models.RunReport, error) {
	run, err := e.start(ctx, ctx, def, kind, data)
	if err != nil {
		return nil, err
	}

	<-run.Done()

	return run.Report(), nil
}

func (e *Engine) start(
	ctx context.Context,
	parent context.Context,
	def *models.WorkflowDefinition,
	kind models.TriggerKind,
	data map[string]any,
) (*Run, error) {
	if err := definition.Validate(def); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	g := graph.Build(def)
	g.SetEnv("PIPEWRIGHT_RUN_ID", id.String())
	g.SetEnv("PIPEWRIGHT_DEFINITION", def.Name)
	g.SetEnv("PIPEWRIGHT_TRIGGER", string(kind))

	state := models.NewRun(id.String(), def, kind, data, g.Executions())

	runCtx, cancel := context.WithCancel(parent)

	run := &Run{
		state:  state,
		graph:  g,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.runs[run.ID()] = run
	e.mu.Unlock()

	logger := e.logger.With("run_id", run.ID(), "definition", def.Name, "trigger", kind)
	logger.InfoContext(ctx, "Starting run", "jobs", g.Len())

	if e.metrics != nil {
		e.metrics.RunStarted(def.Name, string(kind))
	}

	e.publish(ctx, run.ID(), events.RunStarted{
		BaseEvent:      events.NewBaseEvent(events.RunStartedEvent, run.ID(), def.ID),
		DefinitionName: def.Name,
		Trigger:        kind,
		TriggerData:    data,
		Jobs:           g.Names(),
	})

	e.wg.Add(1)

	go e.execute(runCtx, logger, run)

	return run, nil
}

func (e *Engine) execute(ctx context.Context, logger *slog.Logger, run *Run) {
	defer e.wg.Done()
	defer close(run.done)

	var defID, defName string

	run.state.View(func(r *models.Run) {
		defID, defName = r.DefinitionID, r.DefinitionName
	})

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "run",
		attribute.String(otelhelper.RunIDKey, run.ID()),
		attribute.String(otelhelper.DefinitionIDKey, defID),
		attribute.String(otelhelper.DefinitionNameKey, defName),
	)
	defer span.End()

	status := e.scheduler.Execute(ctx, run.state, run.graph)
	span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(status)))

	rep := report.Summarize(run.state)
	run.setReport(rep)

	// the run context is cancelled on Cancel; delivery must still happen.
	ctx = context.WithoutCancel(ctx)

	duration := report.Duration(rep.StartedAt, rep.FinishedAt)
	logger.InfoContext(ctx, "Run finished", "status", status, "cancelled", rep.Cancelled, "duration", duration)

	if e.metrics != nil {
		e.metrics.RunFinished(defName, string(status), duration)
	}

	e.deliver(ctx, logger, rep)

	e.publish(ctx, run.ID(), events.RunFinished{
		BaseEvent: events.NewBaseEvent(events.RunFinishedEvent, run.ID(), defID),
		Status:    status,
		Cancelled: rep.Cancelled,
		Duration:  duration,
		Report:    rep,
	})

	run.cancel()

	if e.persistence != nil {
		e.mu.Lock()
		delete(e.runs, run.ID())
		e.mu.Unlock()
	}
}

// deliver persists the report and hands it to every sink. Failures are only
// logged; the run outcome does not change.
func (e *Engine) deliver(ctx context.Context, logger *slog.Logger, rep *models.RunReport) {
	if e.persistence != nil {
		if err := e.persistence.RunReportRepository().Save(ctx, rep); err != nil {
			logger.ErrorContext(ctx, "Failed to persist run report", "error", err)
		}
	}

	for _, sink := range e.sinks {
		if err := sink.Consume(ctx, rep); err != nil {
			logger.ErrorContext(ctx, "Report sink failed", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
}

func (e *Engine) publish(ctx context.Context, runID string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, runID, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "run_id", runID, "event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) onTransition(ctx context.Context, t scheduler.Transition) {
	run, ok := e.lookup(t.RunID)
	if !ok {
		return
	}

	var (
		defID   string
		job     models.JobExecution
		started bool
	)

	run.state.View(func(r *models.Run) {
		defID = r.DefinitionID
		job = *r.Jobs[t.Job]
		job.Steps = append([]models.StepResult(nil), job.Steps...)
	})

	if e.metrics != nil {
		started = t.From == models.JobStatusRunning

		switch {
		case t.To == models.JobStatusRunning:
			e.metrics.JobStarted()
		case t.To.IsTerminal():
			e.metrics.JobFinished(string(t.To), report.Duration(job.StartedAt, job.FinishedAt), started)

			for _, step := range job.Steps {
				if step.Status == models.StepStatusNotRun {
					e.metrics.StepFinished(step.Action, string(step.Status), 0)
				}
			}
		}
	}

	e.publish(ctx, t.RunID, events.JobStatusChanged{
		BaseEvent: events.NewBaseEvent(events.JobStatusChangedEvent, t.RunID, defID),
		Job:       t.Job,
		From:      t.From,
		To:        t.To,
		Reason:    t.Reason,
	})
}

func (e *Engine) lookup(runID string) (*Run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	run, ok := e.runs[runID]

	return run, ok
}

// Wait blocks until the run is terminal or ctx is done.
func (e *Engine) Wait(ctx context.Context, runID string) (*models.RunReport, error) {
	run, ok := e.lookup(runID)
	if !ok {
		return e.Report(ctx, runID)
	}

	select {
	case <-run.Done():
		return run.Report(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops admitting jobs of the run. Running jobs stop at their next
// step boundary. Cancelling a finished run is a no-op.
func (e *Engine) Cancel(runID string) error {
	run, ok := e.lookup(runID)
	if !ok {
		return persistence.NewRunError("Cancel", runID, ErrRunNotFound)
	}

	run.Cancel()

	return nil
}

// Report returns the live report of an active run, provisional while it is
// running, or the stored report of a finished one.
func (e *Engine) Report(ctx context.Context, runID string) (*models.RunReport, error) {
	if run, ok := e.lookup(runID); ok {
		return run.Report(), nil
	}

	if e.persistence == nil {
		return nil, persistence.NewRunError("Report", runID, ErrRunNotFound)
	}

	rep, err := e.persistence.RunReportRepository().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	return rep, nil
}

// Active returns the ids of runs that have not finished yet.
func (e *Engine) Active() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.runs))

	for id, run := range e.runs {
		select {
		case <-run.Done():
		default:
			ids = append(ids, id)
		}
	}

	return ids
}

// Shutdown cancels every active run and waits for them to finish or for ctx
// to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.RLock()
	for _, run := range e.runs {
		run.Cancel()
	}
	e.mu.RUnlock()

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("runs still active at shutdown"), ctx.Err())
	}
}

// Run is the handle of one started run.
type Run struct {
	state  *models.Run
	graph  *graph.JobGraph
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	report *models.RunReport
}

func (r *Run) ID() string {
	return r.state.ID
}

// Done is closed once the run is terminal and its report delivered.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) Cancel() {
	r.cancel()
}

// Report returns the final report once the run is terminal, or a provisional
// snapshot before that.
func (r *Run) Report() *models.RunReport {
	r.mu.Lock()
	final := r.report
	r.mu.Unlock()

	if final != nil {
		return final
	}

	return report.Summarize(r.state)
}

func (r *Run) setReport(rep *models.RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report = rep
}

