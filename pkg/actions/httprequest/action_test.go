package httprequest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/pipewright/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewAction(t *testing.T) {
	tests := []struct {
		name        string
		params      map[string]string
		expectError string
		validate    func(t *testing.T, action *Action)
	}{
		{
			name:   "defaults",
			params: map[string]string{"url": "https://example.com"},
			validate: func(t *testing.T, action *Action) {
				t.Helper()
				assert.Equal(t, http.MethodGet, action.Method)
				assert.Equal(t, defaultTimeout, action.Timeout)
				assert.Equal(t, RetryConfig{Attempts: 1}, action.Retry)
				assert.Empty(t, action.Headers)
			},
		},
		{
			name: "full configuration",
			params: map[string]string{
				"url":                  "https://example.com/hook",
				"method":               "post",
				"body":                 `{"ok":true}`,
				"timeout":              "5s",
				"retry_attempts":       "3",
				"retry_delay":          "250ms",
				"header.Content-Type":  "application/json",
				"header.Authorization": "Bearer $TOKEN",
			},
			validate: func(t *testing.T, action *Action) {
				t.Helper()
				assert.Equal(t, http.MethodPost, action.Method)
				assert.Equal(t, 5*time.Second, action.Timeout)
				assert.Equal(t, RetryConfig{Attempts: 3, Delay: 250 * time.Millisecond}, action.Retry)
				assert.Equal(t, map[string]string{
					"Content-Type":  "application/json",
					"Authorization": "Bearer $TOKEN",
				}, action.Headers)
			},
		},
		{name: "missing url", params: map[string]string{}, expectError: "missing 'url'"},
		{name: "bad timeout", params: map[string]string{"url": "x", "timeout": "soon"}, expectError: "invalid timeout"},
		{name: "bad attempts", params: map[string]string{"url": "x", "retry_attempts": "0"}, expectError: "invalid retry_attempts"},
		{name: "bad delay", params: map[string]string{"url": "x", "retry_delay": "-1s"}, expectError: "invalid retry_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := NewAction(tt.params)
			if tt.expectError != "" {
				require.ErrorContains(t, err, tt.expectError)

				return
			}

			require.NoError(t, err)
			tt.validate(t, action)
		})
	}
}

func TestAction_Invoke(t *testing.T) {
	var received atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received.Store(r.Method + " " + r.URL.Path + " " + r.Header.Get("Authorization") + " " + string(body))

		_, _ = w.Write([]byte("deployed"))
	}))
	defer server.Close()

	action, err := NewAction(map[string]string{
		"url":                  server.URL + "/deploy/$RUN",
		"method":               "POST",
		"body":                 "sha=$SHA",
		"header.Authorization": "Bearer $TOKEN",
	})
	require.NoError(t, err)

	env := testutil.NewEnvironment(t.TempDir(), map[string]string{"RUN": "42", "SHA": "abc", "TOKEN": "secret"})

	result, err := action.Invoke(context.Background(), env, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Output, "200 OK")
	assert.Contains(t, result.Output, "deployed")
	assert.Equal(t, "POST /deploy/42 Bearer secret sha=abc", received.Load())
}

func TestAction_InvokeNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	action, err := NewAction(map[string]string{"url": server.URL})
	require.NoError(t, err)

	result, err := action.Invoke(context.Background(), testutil.NewEnvironment("", nil), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Output, "404")
}

func TestAction_InvokeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	action, err := NewAction(map[string]string{
		"url":            server.URL,
		"retry_attempts": "3",
		"retry_delay":    "10ms",
	})
	require.NoError(t, err)

	result, err := action.Invoke(context.Background(), testutil.NewEnvironment("", nil), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAction_InvokeUnreachable(t *testing.T) {
	action, err := NewAction(map[string]string{
		"url":            "http://127.0.0.1:1",
		"retry_attempts": "2",
		"timeout":        "1s",
	})
	require.NoError(t, err)

	result, err := action.Invoke(context.Background(), testutil.NewEnvironment("", nil), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Output, "http request failed")
}
