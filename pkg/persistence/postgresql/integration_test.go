//go:build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/persistence"
	"github.com/dukex/pipewright/pkg/persistence/postgresql"
	"github.com/dukex/pipewright/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"run_reports", "definitions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("pipewright_test"),
			postgres.WithUsername("pipewright"),
			postgres.WithPassword("pipewright"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	for _, table := range []string{"definitions", "run_reports", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestDefinitionLifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.DefinitionRepository()

	ci := testutil.CreateTestDefinition(
		testutil.WithName("ci"),
		testutil.WithTriggers(models.TriggerPush, models.TriggerPullRequest),
		testutil.WithJob("check", nil, testutil.Step("check", "run", "command", "cargo check")),
		testutil.WithJob("build", []string{"check"}, testutil.Step("build", "run", "command", "cargo build")),
	)
	ci.Env = map[string]string{"CARGO_TERM_COLOR": "always"}

	nightly := testutil.CreateTestDefinition(
		testutil.WithName("nightly"),
		testutil.WithTriggers(models.TriggerSchedule),
		testutil.WithJob("bench", nil, testutil.Step("bench", "run", "command", "cargo bench")),
	)

	require.NoError(t, repo.Save(ctx, ci))
	require.NoError(t, repo.Save(ctx, nightly))

	loaded, err := repo.GetByID(ctx, ci.ID)
	require.NoError(t, err)
	assert.Equal(t, "ci", loaded.Name)
	assert.Equal(t, "always", loaded.Env["CARGO_TERM_COLOR"])
	assert.Equal(t, []string{"check"}, loaded.Jobs["build"].Needs)

	push, err := repo.GetByTrigger(ctx, models.TriggerPush)
	require.NoError(t, err)
	require.Len(t, push, 1)
	assert.Equal(t, ci.ID, push[0].ID)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.Delete(ctx, ci.ID))

	_, err = repo.GetByID(ctx, ci.ID)
	assert.True(t, persistence.IsDefinitionNotFound(err))
	assert.True(t, persistence.IsDefinitionNotFound(repo.Delete(ctx, ci.ID)))
}

func TestRunReportLifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.RunReportRepository()

	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"run-1", "run-2"} {
		started := base.Add(time.Duration(i) * time.Minute)

		require.NoError(t, repo.Save(ctx, &models.RunReport{
			RunID:        id,
			DefinitionID: "def-1",
			Status:       models.RunStatusFailed,
			Jobs:         []models.JobReport{{Name: "build", Status: models.JobStatusFailed}},
			StartedAt:    &started,
		}))
	}

	report, err := repo.GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, report.Status)

	reports, err := repo.GetByDefinition(ctx, "def-1", 1)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "run-2", reports[0].RunID)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsRunNotFound(err))
}
