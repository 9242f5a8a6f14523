package env

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/pipewright/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_Invoke(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	environment := testutil.NewEnvironment(t.TempDir(), map[string]string{"HOME": "/home/ci"})

	action, err := NewActionFactory().Create(map[string]string{
		"CARGO_HOME": "$HOME/.cargo",
		"TOOLCHAIN":  "stable",
	})
	require.NoError(t, err)

	result, err := action.Invoke(context.Background(), environment, logger)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "set CARGO_HOME, TOOLCHAIN", result.Output)

	assert.Equal(t, map[string]string{
		"HOME":       "/home/ci",
		"CARGO_HOME": "/home/ci/.cargo",
		"TOOLCHAIN":  "stable",
	}, environment.Env())
}

func TestAction_InvokeDoesNotExposeValues(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	environment := testutil.NewEnvironment(t.TempDir(), map[string]string{"VAULT_TOKEN": "s3cr3t"})

	action, err := NewActionFactory().Create(map[string]string{
		"DEPLOY_TOKEN": "$VAULT_TOKEN",
		"API_KEY":      "hunter2",
	})
	require.NoError(t, err)

	result, err := action.Invoke(context.Background(), environment, logger)
	require.NoError(t, err)

	assert.Equal(t, "set API_KEY, DEPLOY_TOKEN", result.Output)
	assert.NotContains(t, result.Output, "s3cr3t")
	assert.NotContains(t, result.Output, "hunter2")
	assert.Equal(t, "s3cr3t", environment.Env()["DEPLOY_TOKEN"])
}

func TestActionFactory_Schema(t *testing.T) {
	factory := NewActionFactory()

	assert.Equal(t, "env", factory.ID())
	assert.Equal(t, 1, factory.Schema()["minProperties"])
}
