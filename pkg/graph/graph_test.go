package graph_test

import (
	"testing"

	"github.com/dukex/pipewright/pkg/graph"
	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_InitialStatuses(t *testing.T) {
	t.Parallel()

	def := testutil.CreateTestDefinition(
		testutil.WithJob("check", nil, testutil.Step("check", "run", "command", "cargo check")),
		testutil.WithJob("fmt", nil),
		testutil.WithJob("build", []string{"check"}, testutil.Step("build", "run"), testutil.Step("test", "run")),
		testutil.WithJob("release", []string{"build", "fmt", "build"}),
	)

	g := graph.Build(def)

	assert.Equal(t, 4, g.Len())
	assert.Equal(t, []string{"build", "check", "fmt", "release"}, g.Names())
	assert.Equal(t, []string{"check", "fmt"}, g.Roots())

	assert.Equal(t, models.JobStatusReady, g.Node("check").Execution.Status)
	assert.Equal(t, models.JobStatusReady, g.Node("fmt").Execution.Status)
	assert.Equal(t, models.JobStatusPending, g.Node("build").Execution.Status)
	assert.Equal(t, models.JobStatusPending, g.Node("release").Execution.Status)

	assert.Equal(t, []string{"build", "fmt"}, g.Node("release").Dependencies)
	assert.Nil(t, g.Node("missing"))
}

func TestBuild_DependentsIndex(t *testing.T) {
	t.Parallel()

	def := testutil.CreateTestDefinition(
		testutil.WithJob("check", nil),
		testutil.WithJob("lint", []string{"check"}),
		testutil.WithJob("build", []string{"check"}),
		testutil.WithJob("deploy", []string{"build", "lint"}),
	)

	g := graph.Build(def)

	assert.Equal(t, []string{"build", "lint"}, g.Dependents("check"))
	assert.Equal(t, []string{"deploy"}, g.Dependents("build"))
	assert.Equal(t, []string{"deploy"}, g.Dependents("lint"))
	assert.Empty(t, g.Dependents("deploy"))
	assert.Nil(t, g.Dependents("unknown"))
}

func TestBuild_ExecutionsStartWithNotRunSteps(t *testing.T) {
	t.Parallel()

	def := testutil.CreateTestDefinition(
		testutil.WithJob("build", nil, testutil.Step("compile", "run"), testutil.Step("test", "run")),
	)

	executions := graph.Build(def).Executions()
	require.Len(t, executions, 1)

	build := executions[0]
	assert.Equal(t, "build", build.Name)
	require.Len(t, build.Steps, 2)

	for i, step := range build.Steps {
		assert.Equal(t, i, step.Index)
		assert.Equal(t, models.StepStatusNotRun, step.Status)
	}

	assert.Equal(t, "compile", build.Steps[0].Name)
}
