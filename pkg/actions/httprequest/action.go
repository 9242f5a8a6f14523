// Package httprequest provides the action that sends an HTTP request, for
// deploy hooks, notifications and smoke checks inside a job.
package httprequest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/pipewright/pkg/protocol"
)

const (
	defaultTimeout = 30 * time.Second
	headerPrefix   = "header."
	maxOutputBytes = 64 << 10
)

var (
	// ErrHTTPRequestURLInvalid is returned when the request URL is missing.
	ErrHTTPRequestURLInvalid = errors.New("invalid HTTP request url")
	// ErrHTTPServerError is returned when the server keeps answering 5xx.
	ErrHTTPServerError = errors.New("server error during HTTP request")
)

// Action performs an HTTP request with optional headers, body, and retry logic.
// The step fails when the final response is not 2xx.
type Action struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration
	Retry   RetryConfig
}

// RetryConfig defines retry behavior for HTTP requests.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// NewAction creates an Action from step params. Headers are given as
// "header.<Name>" params.
func NewAction(params map[string]string) (*Action, error) {
	url := params["url"]
	if url == "" {
		return nil, fmt.Errorf("missing 'url' param: %w", ErrHTTPRequestURLInvalid)
	}

	method := strings.ToUpper(params["method"])
	if method == "" {
		method = http.MethodGet
	}

	headers := make(map[string]string)

	for key, value := range params {
		if name, ok := strings.CutPrefix(key, headerPrefix); ok && name != "" {
			headers[name] = value
		}
	}

	timeout := defaultTimeout

	if value := params["timeout"]; value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid timeout %q", value)
		}

		timeout = parsed
	}

	retry, err := parseRetryConfig(params)
	if err != nil {
		return nil, err
	}

	return &Action{
		URL:     url,
		Method:  method,
		Headers: headers,
		Body:    params["body"],
		Timeout: timeout,
		Retry:   retry,
	}, nil
}

func parseRetryConfig(params map[string]string) (RetryConfig, error) {
	retry := RetryConfig{Attempts: 1}

	if value := params["retry_attempts"]; value != "" {
		attempts, err := strconv.Atoi(value)
		if err != nil || attempts < 1 {
			return retry, fmt.Errorf("invalid retry_attempts %q", value)
		}

		retry.Attempts = attempts
	}

	if value := params["retry_delay"]; value != "" {
		delay, err := time.ParseDuration(value)
		if err != nil || delay < 0 {
			return retry, fmt.Errorf("invalid retry_delay %q", value)
		}

		retry.Delay = delay
	}

	return retry, nil
}

// Invoke sends the request, retrying transport errors and 5xx responses.
// $VARS in the url, headers and body are expanded from the job environment.
func (a *Action) Invoke(ctx context.Context, env protocol.EnvironmentContext, logger *slog.Logger) (protocol.ActionResult, error) {
	logger = logger.With("action_type", "http", "method", a.Method)

	vars := env.Env()
	expand := func(s string) string {
		return os.Expand(s, func(key string) string { return vars[key] })
	}

	url := expand(a.URL)
	client := &http.Client{Timeout: a.Timeout}

	var lastErr error

	for attempt := 1; attempt <= a.Retry.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "Retrying HTTP request", "attempt", attempt, "attempts", a.Retry.Attempts)

			select {
			case <-ctx.Done():
				return protocol.ActionResult{}, ctx.Err()
			case <-time.After(a.Retry.Delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, a.Method, url, strings.NewReader(expand(a.Body)))
		if err != nil {
			return protocol.ActionResult{}, fmt.Errorf("failed to create http request: %w", err)
		}

		for key, value := range a.Headers {
			req.Header.Set(key, expand(value))
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request failed: %w", err)

			continue
		}

		if resp.StatusCode >= 500 && attempt < a.Retry.Attempts {
			_ = resp.Body.Close()

			lastErr = fmt.Errorf("server error (status %d): %w", resp.StatusCode, ErrHTTPServerError)

			continue
		}

		return a.processResponse(ctx, url, resp, logger)
	}

	logger.WarnContext(ctx, "HTTP request failed", "url", url, "error", lastErr)

	return protocol.ActionResult{ExitCode: 1, Output: lastErr.Error()}, nil
}

func (a *Action) processResponse(ctx context.Context, url string, resp *http.Response, logger *slog.Logger) (protocol.ActionResult, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
	if err != nil {
		return protocol.ActionResult{}, fmt.Errorf("failed to read response body: %w", err)
	}

	logger.InfoContext(ctx, "HTTP request completed", "url", url, "status", resp.StatusCode, "body_length", len(body))

	exitCode := 0
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		exitCode = 1
	}

	output := fmt.Sprintf("%s %s -> %s\n%s", a.Method, url, resp.Status, body)

	return protocol.ActionResult{ExitCode: exitCode, Output: output}, nil
}
