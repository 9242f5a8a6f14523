package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/pipewright/pkg/definition"
	"github.com/dukex/pipewright/pkg/engine"
	"github.com/dukex/pipewright/pkg/eventbus"
	"github.com/dukex/pipewright/pkg/events"
	"github.com/dukex/pipewright/pkg/metrics"
	"github.com/dukex/pipewright/pkg/mocks"
	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/persistence"
	"github.com/dukex/pipewright/pkg/persistence/file"
	"github.com/dukex/pipewright/pkg/protocol"
	"github.com/dukex/pipewright/pkg/provisioners/local"
	"github.com/dukex/pipewright/pkg/testutil"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)

	return nil
}

func (b *recordingBus) types() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()

	types := make([]events.EventType, 0, len(b.events))
	for _, event := range b.events {
		types = append(types, event.GetType())
	}

	return types
}

type recordingSink struct {
	mu      sync.Mutex
	reports []*models.RunReport
}

func (s *recordingSink) Consume(_ context.Context, rep *models.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, rep)

	return nil
}

// blocker is an action that signals when it starts and returns once released.
type blocker struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlocker() *blocker {
	return &blocker{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blocker) Invoke(context.Context, protocol.EnvironmentContext, *slog.Logger) (protocol.ActionResult, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release

	return protocol.ActionResult{}, nil
}

func rustDefinition() *models.WorkflowDefinition {
	return testutil.CreateTestDefinition(
		testutil.WithName("rust"),
		testutil.WithJob("check", nil, testutil.Step("check", "check")),
		testutil.WithJob("test", nil, testutil.Step("test", "test")),
		testutil.WithJob("build", []string{"check"}, testutil.Step("build", "build")),
	)
}

func TestEngine_Execute(t *testing.T) {
	t.Parallel()

	bus := &recordingBus{}
	sink := &recordingSink{}
	provisioner := testutil.NewProvisioner()
	resolver := testutil.NewResolver().
		Add("check", testutil.Succeed("ok")).
		Add("test", testutil.Succeed("ok")).
		Add("build", testutil.Succeed("ok"))

	e := engine.New(engine.Options{
		Resolver:    resolver,
		Provisioner: provisioner,
		EventBus:    bus,
		Sinks:       []protocol.ReportSink{sink},
		Logger:      testLogger(),
	})

	rep, err := e.Execute(context.Background(), rustDefinition(), models.TriggerPush, map[string]any{"ref": "main"})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSucceeded, rep.Status)
	assert.False(t, rep.Provisional)
	assert.Equal(t, 3, rep.Totals["succeeded"])
	assert.Zero(t, provisioner.Outstanding())

	require.Len(t, sink.reports, 1)
	assert.Equal(t, rep.RunID, sink.reports[0].RunID)

	types := bus.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.RunStartedEvent, types[0])
	assert.Equal(t, events.RunFinishedEvent, types[len(types)-1])
	assert.Contains(t, types, events.JobStatusChangedEvent)
}

func TestEngine_FailedDependency(t *testing.T) {
	t.Parallel()

	resolver := testutil.NewResolver().
		Add("check", testutil.Exit(101)).
		Add("test", testutil.Succeed("ok")).
		Add("build", testutil.Succeed("ok"))

	e := engine.New(engine.Options{Resolver: resolver, Provisioner: testutil.NewProvisioner(), Logger: testLogger()})

	rep, err := e.Execute(context.Background(), rustDefinition(), models.TriggerPush, nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusFailed, rep.Status)

	build, ok := rep.Job("build")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusSkipped, build.Status)
	assert.Equal(t, "dependency 'check' failed", build.SkipReason)
	assert.Equal(t, models.StepStatusNotRun, build.Steps[0].Status)

	test, _ := rep.Job("test")
	assert.Equal(t, models.JobStatusSucceeded, test.Status)
	assert.NotContains(t, resolver.Calls(), "build")
}

func TestEngine_RejectsInvalidDefinition(t *testing.T) {
	t.Parallel()

	e := engine.New(engine.Options{Resolver: testutil.NewResolver(), Provisioner: testutil.NewProvisioner(), Logger: testLogger()})

	cyclic := testutil.CreateTestDefinition(
		testutil.WithJob("a", []string{"b"}, testutil.Step("a", "log")),
		testutil.WithJob("b", []string{"a"}, testutil.Step("b", "log")),
	)

	run, err := e.Start(context.Background(), cyclic, models.TriggerPush, nil)
	require.Error(t, err)
	assert.Nil(t, run)
	assert.True(t, definition.IsCyclicDependency(err))
	assert.Empty(t, e.Active())
}

func TestEngine_Cancel(t *testing.T) {
	t.Parallel()

	block := newBlocker()
	resolver := testutil.NewResolver().
		Add("block", block).
		Add("log", testutil.Succeed("ok"))
	provisioner := testutil.NewProvisioner()

	e := engine.New(engine.Options{Resolver: resolver, Provisioner: provisioner, Logger: testLogger(), MaxConcurrency: 1})

	def := testutil.CreateTestDefinition(
		testutil.WithJob("a", nil, testutil.Step("wait", "block"), testutil.Step("after", "log")),
		testutil.WithJob("b", nil, testutil.Step("b", "log")),
	)

	run, err := e.Start(context.Background(), def, models.TriggerManual, nil)
	require.NoError(t, err)

	<-block.started

	live, err := e.Report(context.Background(), run.ID())
	require.NoError(t, err)
	assert.True(t, live.Provisional)
	assert.Equal(t, models.RunStatusRunning, live.Status)
	assert.Equal(t, []string{run.ID()}, e.Active())

	require.NoError(t, e.Cancel(run.ID()))
	close(block.release)

	rep, err := e.Wait(context.Background(), run.ID())
	require.NoError(t, err)

	assert.True(t, rep.Cancelled)
	assert.Equal(t, models.RunStatusSucceeded, rep.Status)

	a, _ := rep.Job("a")
	assert.Equal(t, models.JobStatusSkipped, a.Status)
	assert.Equal(t, models.StepStatusSucceeded, a.Steps[0].Status)
	assert.Equal(t, models.StepStatusNotRun, a.Steps[1].Status)

	b, _ := rep.Job("b")
	assert.Equal(t, models.JobStatusSkipped, b.Status)
	assert.Equal(t, "run cancelled", b.SkipReason)

	assert.Zero(t, provisioner.Outstanding())
	require.NoError(t, e.Cancel(run.ID()))
}

func TestEngine_ExecuteContextCancelled(t *testing.T) {
	t.Parallel()

	block := newBlocker()
	resolver := testutil.NewResolver().Add("block", block).Add("log", testutil.Succeed("ok"))

	e := engine.New(engine.Options{Resolver: resolver, Provisioner: testutil.NewProvisioner(), Logger: testLogger()})

	def := testutil.CreateTestDefinition(
		testutil.WithJob("a", nil, testutil.Step("wait", "block"), testutil.Step("after", "log")),
	)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-block.started
		cancel()
		close(block.release)
	}()

	rep, err := e.Execute(ctx, def, models.TriggerManual, nil)
	require.NoError(t, err)
	assert.True(t, rep.Cancelled)
	assert.Equal(t, 1, rep.Totals["skipped"])
}

func TestEngine_ReportFromPersistence(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())
	resolver := testutil.NewResolver().Add("log", testutil.Succeed("ok"))

	e := engine.New(engine.Options{
		Resolver:    resolver,
		Provisioner: testutil.NewProvisioner(),
		Persistence: store,
		Logger:      testLogger(),
	})

	def := testutil.IndependentJobs("lint", "fmt")

	rep, err := e.Execute(context.Background(), def, models.TriggerPush, nil)
	require.NoError(t, err)
	assert.Empty(t, e.Active())

	stored, err := e.Report(context.Background(), rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, rep.Status, stored.Status)
	assert.False(t, stored.Provisional)

	waited, err := e.Wait(context.Background(), rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, waited.RunID)

	history, err := store.RunReportRepository().GetByDefinition(context.Background(), def.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = e.Report(context.Background(), "unknown")
	assert.True(t, persistence.IsRunNotFound(err))
	assert.True(t, persistence.IsRunNotFound(e.Cancel("unknown")))
}

func TestEngine_ReportWithoutPersistence(t *testing.T) {
	t.Parallel()

	e := engine.New(engine.Options{
		Resolver:    testutil.NewResolver().Add("log", testutil.Succeed("ok")),
		Provisioner: testutil.NewProvisioner(),
		Logger:      testLogger(),
	})

	rep, err := e.Execute(context.Background(), testutil.IndependentJobs("lint"), models.TriggerPush, nil)
	require.NoError(t, err)

	again, err := e.Report(context.Background(), rep.RunID)
	require.NoError(t, err)
	assert.Same(t, rep, again)

	_, err = e.Report(context.Background(), "unknown")
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestEngine_Metrics(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	resolver := testutil.NewResolver().
		Add("check", testutil.Exit(1)).
		Add("test", testutil.Succeed("ok")).
		Add("build", testutil.Succeed("ok"))

	e := engine.New(engine.Options{Resolver: resolver, Provisioner: testutil.NewProvisioner(), Metrics: m, Logger: testLogger()})

	_, err := e.Execute(context.Background(), rustDefinition(), models.TriggerPush, nil)
	require.NoError(t, err)

	count, err := promtestutil.GatherAndCount(m.Registry(), "pipewright_run_finished_total", "pipewright_job_finished_total")
	require.NoError(t, err)
	// one run series, three job status series
	assert.Equal(t, 4, count)

	count, err = promtestutil.GatherAndCount(m.Registry(), "pipewright_step_finished_total")
	require.NoError(t, err)
	// check/failed, test/succeeded, build/not_run
	assert.Equal(t, 3, count)
}

func TestEngine_Shutdown(t *testing.T) {
	t.Parallel()

	block := newBlocker()
	e := engine.New(engine.Options{
		Resolver:    testutil.NewResolver().Add("block", block),
		Provisioner: testutil.NewProvisioner(),
		Logger:      testLogger(),
	})

	def := testutil.CreateTestDefinition(testutil.WithJob("a", nil, testutil.Step("wait", "block")))

	_, err := e.Start(context.Background(), def, models.TriggerManual, nil)
	require.NoError(t, err)

	<-block.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.Error(t, e.Shutdown(ctx))

	close(block.release)
	require.NoError(t, e.Shutdown(context.Background()))
	assert.Empty(t, e.Active())
}

func TestEngine_DeliveryFailuresDoNotChangeOutcome(t *testing.T) {
	t.Parallel()

	store := mocks.NewMockPersistence()
	store.RunReports.On("Save", mock.Anything, mock.AnythingOfType("*models.RunReport")).
		Return(errors.New("disk full")).Once()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(errors.New("broker down"))

	sink := &mocks.MockReportSink{}
	sink.On("Consume", mock.Anything, mock.AnythingOfType("*models.RunReport")).
		Return(errors.New("closed pipe")).Once()

	e := engine.New(engine.Options{
		Resolver:    testutil.NewResolver().Add("check", testutil.Succeed("ok")),
		Provisioner: testutil.NewProvisioner(),
		Persistence: store,
		EventBus:    bus,
		Sinks:       []protocol.ReportSink{sink},
		Logger:      testLogger(),
	})

	def := testutil.CreateTestDefinition(testutil.WithJob("check", nil, testutil.Step("check", "check")))

	rep, err := e.Execute(context.Background(), def, models.TriggerPush, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, rep.Status)

	store.RunReports.AssertExpectations(t)
	sink.AssertExpectations(t)
	bus.AssertCalled(t, "Publish", mock.Anything, rep.RunID, mock.AnythingOfType("events.RunFinished"))
}

func TestEngine_RunEnvironment(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen map[string]string
	)

	capture := testutil.ExecutableFunc(func(_ context.Context, env protocol.EnvironmentContext) (protocol.ActionResult, error) {
		mu.Lock()
		defer mu.Unlock()

		seen = env.Env()

		return protocol.ActionResult{}, nil
	})

	e := engine.New(engine.Options{
		Resolver:    testutil.NewResolver().Add("capture", capture),
		Provisioner: testutil.NewProvisioner(),
		Logger:      testLogger(),
	})

	def := testutil.CreateTestDefinition(
		testutil.WithName("env"),
		testutil.WithJob("check", nil, testutil.Step("check", "capture")),
	)
	def.Env = map[string]string{"CARGO_TERM_COLOR": "always"}

	rep, err := e.Execute(context.Background(), def, models.TriggerPush, nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, rep.RunID, seen["PIPEWRIGHT_RUN_ID"])
	assert.Equal(t, "env", seen["PIPEWRIGHT_DEFINITION"])
	assert.Equal(t, "push", seen["PIPEWRIGHT_TRIGGER"])
	assert.Equal(t, "check", seen["PIPEWRIGHT_JOB"])
	assert.Equal(t, "always", seen["CARGO_TERM_COLOR"])
	assert.NotContains(t, def.Env, "PIPEWRIGHT_RUN_ID", "definition is not mutated")
}

func TestEngine_ProvisioningFailure(t *testing.T) {
	t.Parallel()

	def := testutil.CreateTestDefinition(
		testutil.WithName("gpu"),
		testutil.WithJob("a", nil, testutil.Step("train", "ok")),
		testutil.WithJob("b", []string{"a"}, testutil.Step("evaluate", "ok")),
		testutil.WithJob("c", nil, testutil.Step("lint", "ok")),
	)
	def.Jobs["a"].Requirements.Capabilities = []string{"gpu"}

	e := engine.New(engine.Options{
		Resolver:    testutil.NewResolver().Add("ok", testutil.Succeed("ok")),
		Provisioner: local.NewProvisioner(local.Config{Root: t.TempDir(), Capabilities: []string{"local"}}, testLogger()),
		Logger:      testLogger(),
	})

	rep, err := e.Execute(context.Background(), def, models.TriggerPush, nil)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusFailed, rep.Status)
	assert.False(t, rep.Cancelled)

	a, ok := rep.Job("a")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusFailed, a.Status)
	assert.Contains(t, a.Error, "failed to provision environment for job 'a'")
	assert.Contains(t, a.Error, "gpu")
	require.Len(t, a.Steps, 1)
	assert.Equal(t, models.StepStatusNotRun, a.Steps[0].Status)

	b, ok := rep.Job("b")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusSkipped, b.Status)
	assert.Equal(t, "dependency 'a' failed", b.SkipReason)
	assert.Equal(t, models.StepStatusNotRun, b.Steps[0].Status)

	c, ok := rep.Job("c")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusSucceeded, c.Status)
	assert.Equal(t, models.StepStatusSucceeded, c.Steps[0].Status)
}
