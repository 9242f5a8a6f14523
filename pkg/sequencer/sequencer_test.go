package sequencer_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/pipewright/pkg/mocks"
	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/protocol"
	"github.com/dukex/pipewright/pkg/sequencer"
	"github.com/dukex/pipewright/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func job(name string, steps ...*models.StepSpec) *models.JobSpec {
	return &models.JobSpec{Name: name, Steps: steps}
}

func provisioner(t *testing.T) (*mocks.MockProvisioner, *testutil.Environment) {
	t.Helper()

	env := testutil.NewEnvironment(t.TempDir(), nil)

	p := &mocks.MockProvisioner{}
	p.On("Acquire", mock.Anything, mock.Anything).Return(env, nil).Once()
	p.On("Release", mock.Anything, env).Return(nil).Once()

	return p, env
}

func statuses(steps []models.StepResult) []models.StepStatus {
	out := make([]models.StepStatus, 0, len(steps))
	for _, step := range steps {
		out = append(out, step.Status)
	}

	return out
}

func TestSequencer_AllStepsSucceed(t *testing.T) {
	t.Parallel()

	p, _ := provisioner(t)
	resolver := testutil.NewResolver().Add("ok", testutil.Succeed("done"))

	outcome := sequencer.New(resolver, p).Run(context.Background(), job("build",
		testutil.Step("one", "ok"),
		testutil.Step("two", "ok"),
	), nil)

	assert.Equal(t, models.JobStatusSucceeded, outcome.Status)
	require.NoError(t, outcome.Err)
	assert.Equal(t, []models.StepStatus{models.StepStatusSucceeded, models.StepStatusSucceeded}, statuses(outcome.Steps))
	assert.Equal(t, "done", outcome.Steps[1].Output)
	assert.Equal(t, 1, outcome.Steps[1].Index)
	assert.NotNil(t, outcome.Steps[0].StartedAt)
	assert.False(t, outcome.FinishedAt.Before(outcome.StartedAt))
	p.AssertExpectations(t)
}

func TestSequencer_FailFast(t *testing.T) {
	t.Parallel()

	p, _ := provisioner(t)
	resolver := testutil.NewResolver().
		Add("ok", testutil.Succeed("")).
		Add("fail", testutil.Exit(3))

	outcome := sequencer.New(resolver, p).Run(context.Background(), job("test",
		testutil.Step("setup", "ok"),
		testutil.Step("unit", "fail"),
		testutil.Step("coverage", "ok"),
	), nil)

	assert.Equal(t, models.JobStatusFailed, outcome.Status)
	assert.Equal(t, []models.StepStatus{
		models.StepStatusSucceeded,
		models.StepStatusFailed,
		models.StepStatusNotRun,
	}, statuses(outcome.Steps))

	failed := outcome.Steps[1]
	assert.Equal(t, 3, failed.ExitCode)
	require.NotNil(t, failed.Failure)
	assert.Equal(t, models.FailureExitStatus, failed.Failure.Kind)
	assert.Equal(t, "coverage", outcome.Steps[2].Name)
	assert.Equal(t, []string{"ok", "fail"}, resolver.Calls())
	p.AssertExpectations(t)
}

func TestSequencer_UnknownAction(t *testing.T) {
	t.Parallel()

	p, _ := provisioner(t)
	resolver := testutil.NewResolver().Add("ok", testutil.Succeed(""))

	outcome := sequencer.New(resolver, p).Run(context.Background(), job("lint",
		testutil.Step("checkout", "actions/checkout@v4"),
		testutil.Step("lint", "ok"),
	), nil)

	assert.Equal(t, models.JobStatusFailed, outcome.Status)
	require.NotNil(t, outcome.Steps[0].Failure)
	assert.Equal(t, models.FailureActionError, outcome.Steps[0].Failure.Kind)
	assert.Contains(t, outcome.Steps[0].Failure.Message, "actions/checkout@v4")
	assert.Equal(t, models.StepStatusNotRun, outcome.Steps[1].Status)
	p.AssertExpectations(t)
}

func TestSequencer_ActionPanics(t *testing.T) {
	t.Parallel()

	p, _ := provisioner(t)
	resolver := testutil.NewResolver().Add("boom", testutil.ExecutableFunc(
		func(context.Context, protocol.EnvironmentContext) (protocol.ActionResult, error) {
			panic("unexpected")
		},
	))

	outcome := sequencer.New(resolver, p).Run(context.Background(), job("build", testutil.Step("boom", "boom")), nil)

	assert.Equal(t, models.JobStatusFailed, outcome.Status)
	require.NotNil(t, outcome.Steps[0].Failure)
	assert.Equal(t, models.FailureActionError, outcome.Steps[0].Failure.Kind)
	assert.Contains(t, outcome.Steps[0].Failure.Message, "panicked")
	p.AssertExpectations(t)
}

func TestSequencer_ProvisioningFailure(t *testing.T) {
	t.Parallel()

	p := &mocks.MockProvisioner{}
	p.On("Acquire", mock.Anything, mock.Anything).Return(nil, errors.New("no runner with gpu")).Once()

	resolver := testutil.NewResolver().Add("ok", testutil.Succeed(""))

	outcome := sequencer.New(resolver, p).Run(context.Background(), job("train",
		testutil.Step("one", "ok"),
		testutil.Step("two", "ok"),
	), nil)

	assert.Equal(t, models.JobStatusFailed, outcome.Status)
	require.Error(t, outcome.Err)
	assert.True(t, sequencer.IsProvisioningError(outcome.Err))
	assert.Contains(t, outcome.Err.Error(), "no runner with gpu")
	assert.Equal(t, []models.StepStatus{models.StepStatusNotRun, models.StepStatusNotRun}, statuses(outcome.Steps))
	assert.Empty(t, resolver.Calls())
	p.AssertExpectations(t)
	p.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}

func TestSequencer_PartialAcquireIsReleased(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnvironment(t.TempDir(), nil)

	p := &mocks.MockProvisioner{}
	p.On("Acquire", mock.Anything, mock.Anything).Return(env, errors.New("volume mount failed")).Once()
	p.On("Release", mock.Anything, env).Return(nil).Once()

	outcome := sequencer.New(testutil.NewResolver(), p).Run(context.Background(), job("build", testutil.Step("one", "ok")), nil)

	assert.Equal(t, models.JobStatusFailed, outcome.Status)
	assert.True(t, sequencer.IsProvisioningError(outcome.Err))
	p.AssertExpectations(t)
}

func TestSequencer_ReleaseErrorDoesNotChangeOutcome(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnvironment(t.TempDir(), nil)

	p := &mocks.MockProvisioner{}
	p.On("Acquire", mock.Anything, mock.Anything).Return(env, nil).Once()
	p.On("Release", mock.Anything, env).Return(errors.New("busy")).Once()

	resolver := testutil.NewResolver().Add("ok", testutil.Succeed(""))

	outcome := sequencer.New(resolver, p).Run(context.Background(), job("build", testutil.Step("one", "ok")), nil)

	assert.Equal(t, models.JobStatusSucceeded, outcome.Status)
	p.AssertExpectations(t)
}

func TestSequencer_ZeroSteps(t *testing.T) {
	t.Parallel()

	p := &mocks.MockProvisioner{}

	outcome := sequencer.New(testutil.NewResolver(), p).Run(context.Background(), job("noop"), nil)

	assert.Equal(t, models.JobStatusSucceeded, outcome.Status)
	assert.Empty(t, outcome.Steps)
	p.AssertNotCalled(t, "Acquire", mock.Anything, mock.Anything)
}

func TestSequencer_CancelledBetweenSteps(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, _ := provisioner(t)
	resolver := testutil.NewResolver().Add("cancel", testutil.ExecutableFunc(
		func(stepCtx context.Context, _ protocol.EnvironmentContext) (protocol.ActionResult, error) {
			cancel()

			// The running step is not interrupted by run cancellation.
			assert.NoError(t, stepCtx.Err())

			return protocol.ActionResult{}, nil
		},
	)).Add("ok", testutil.Succeed(""))

	outcome := sequencer.New(resolver, p).Run(ctx, job("deploy",
		testutil.Step("first", "cancel"),
		testutil.Step("second", "ok"),
	), nil)

	assert.Equal(t, models.JobStatusSkipped, outcome.Status)
	assert.Equal(t, []models.StepStatus{models.StepStatusSucceeded, models.StepStatusNotRun}, statuses(outcome.Steps))
	p.AssertExpectations(t)
}

func TestSequencer_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &mocks.MockProvisioner{}

	outcome := sequencer.New(testutil.NewResolver(), p).Run(ctx, job("deploy", testutil.Step("first", "ok")), nil)

	assert.Equal(t, models.JobStatusSkipped, outcome.Status)
	assert.Equal(t, []models.StepStatus{models.StepStatusNotRun}, statuses(outcome.Steps))
	p.AssertNotCalled(t, "Acquire", mock.Anything, mock.Anything)
}

func TestSequencer_JobTimeout(t *testing.T) {
	t.Parallel()

	p, _ := provisioner(t)
	resolver := testutil.NewResolver().Add("hang", testutil.ExecutableFunc(
		func(ctx context.Context, _ protocol.EnvironmentContext) (protocol.ActionResult, error) {
			<-ctx.Done()

			return protocol.ActionResult{ExitCode: -1}, ctx.Err()
		},
	))

	spec := job("slow", testutil.Step("hang", "hang"), testutil.Step("after", "hang"))
	spec.Timeout = 20 * time.Millisecond

	outcome := sequencer.New(resolver, p).Run(context.Background(), spec, nil)

	assert.Equal(t, models.JobStatusFailed, outcome.Status)
	require.NotNil(t, outcome.Steps[0].Failure)
	assert.Contains(t, outcome.Steps[0].Failure.Message, "job timeout of 20ms exceeded")
	assert.Equal(t, models.StepStatusNotRun, outcome.Steps[1].Status)
	p.AssertExpectations(t)
}

func TestSequencer_JobTimeoutBetweenSteps(t *testing.T) {
	t.Parallel()

	p, _ := provisioner(t)

	var calls atomic.Int32

	resolver := testutil.NewResolver().Add("slow", testutil.ExecutableFunc(
		func(context.Context, protocol.EnvironmentContext) (protocol.ActionResult, error) {
			calls.Add(1)
			time.Sleep(50 * time.Millisecond)

			return protocol.ActionResult{}, nil
		},
	))

	spec := job("overrun", testutil.Step("first", "slow"), testutil.Step("second", "slow"))
	spec.Timeout = 10 * time.Millisecond

	outcome := sequencer.New(resolver, p).Run(context.Background(), spec, nil)

	assert.Equal(t, models.JobStatusFailed, outcome.Status)
	assert.Equal(t, []models.StepStatus{models.StepStatusSucceeded, models.StepStatusNotRun}, statuses(outcome.Steps))
	require.ErrorIs(t, outcome.Err, sequencer.ErrJobTimeout)
	assert.Contains(t, outcome.Err.Error(), "before step 'second'")
	assert.Equal(t, int32(1), calls.Load())
	p.AssertExpectations(t)
}

func TestSequencer_RequirementsMergeWorkflowEnv(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnvironment(t.TempDir(), nil)

	p := &mocks.MockProvisioner{}
	p.On("Acquire", mock.Anything, mock.MatchedBy(func(r models.Requirements) bool {
		return r.Env["CARGO_TERM_COLOR"] == "always" &&
			r.Env["RUSTFLAGS"] == "-Dwarnings" &&
			r.Env[sequencer.JobEnvVar] == "build" &&
			len(r.Capabilities) == 1 && r.Capabilities[0] == "linux"
	})).Return(env, nil).Once()
	p.On("Release", mock.Anything, env).Return(nil).Once()

	spec := job("build", testutil.Step("one", "ok"))
	spec.Requirements = models.Requirements{
		Capabilities: []string{"linux"},
		Env:          map[string]string{"RUSTFLAGS": "-Dwarnings"},
	}

	workflowEnv := map[string]string{"CARGO_TERM_COLOR": "always", "RUSTFLAGS": ""}

	outcome := sequencer.New(testutil.NewResolver().Add("ok", testutil.Succeed("")), p).
		Run(context.Background(), spec, workflowEnv)

	assert.Equal(t, models.JobStatusSucceeded, outcome.Status)
	assert.Empty(t, spec.Requirements.Env["CARGO_TERM_COLOR"], "job spec is not mutated")
	p.AssertExpectations(t)
}

func TestSequencer_StepHook(t *testing.T) {
	t.Parallel()

	p, _ := provisioner(t)
	resolver := testutil.NewResolver().Add("ok", testutil.Succeed("")).Add("fail", testutil.Exit(1))

	var calls atomic.Int32

	seq := sequencer.New(resolver, p, sequencer.WithStepHook(func(_ context.Context, job string, result models.StepResult) {
		assert.Equal(t, "build", job)
		assert.NotEqual(t, models.StepStatusNotRun, result.Status)
		calls.Add(1)
	}))

	seq.Run(context.Background(), job("build",
		testutil.Step("a", "ok"),
		testutil.Step("b", "fail"),
		testutil.Step("c", "ok"),
	), nil)

	assert.Equal(t, int32(2), calls.Load())
}
