package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/pipewright/pkg/engine"
	"github.com/dukex/pipewright/pkg/metrics"
	"github.com/dukex/pipewright/pkg/persistence/file"
	"github.com/dukex/pipewright/pkg/registry"
	"github.com/dukex/pipewright/pkg/testutil"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	persistence := file.NewPersistence(t.TempDir())
	m := metrics.New()

	e := engine.New(engine.Options{
		Resolver:    testutil.NewResolver(),
		Provisioner: testutil.NewProvisioner(),
		Persistence: persistence,
		Metrics:     m,
		Logger:      slog.Default(),
	})

	api := NewAPI(
		slog.Default(),
		persistence,
		registry.NewRegistry(slog.Default()),
		e,
		engine.NewDispatcher(e, persistence.DefinitionRepository(), slog.Default()),
		m,
	)

	return api.App()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	status, body := get(t, setupTestApp(t), "/")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Pipewright API", body)
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz"} {
		status, body := get(t, app, path)

		assert.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, "OK", body, path)
	}
}

func TestAPI_Metrics(t *testing.T) {
	status, body := get(t, setupTestApp(t), "/metrics")

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "pipewright_run_active")
}

func TestAPI_GetDefinitions_Empty(t *testing.T) {
	status, body := get(t, setupTestApp(t), "/definitions")

	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", body)
}
