package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dukex/pipewright/pkg/models"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// WriterSink renders every consumed report to an io.Writer.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

func NewWriterSink(w io.Writer, format Format) *WriterSink {
	return &WriterSink{w: w, format: format}
}

func (s *WriterSink) Consume(_ context.Context, rep *models.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case FormatJSON:
		return RenderJSON(s.w, rep)
	case FormatText, "":
		return RenderText(s.w, rep)
	default:
		return fmt.Errorf("unknown report format '%s'", s.format)
	}
}

// LogSink logs a one-line summary per report plus one line per failed step.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Consume(ctx context.Context, rep *models.RunReport) error {
	level := slog.LevelInfo
	if rep.Status == models.RunStatusFailed {
		level = slog.LevelWarn
	}

	s.logger.Log(ctx, level, "Run report",
		"run_id", rep.RunID,
		"definition", rep.DefinitionName,
		"status", rep.Status,
		"cancelled", rep.Cancelled,
		"succeeded", rep.Totals[string(models.JobStatusSucceeded)],
		"failed", rep.Totals[string(models.JobStatusFailed)],
		"skipped", rep.Totals[string(models.JobStatusSkipped)],
	)

	for _, failed := range rep.FailedSteps() {
		reason := ""
		if failed.Step.Failure != nil {
			reason = failed.Step.Failure.Message
		}

		s.logger.WarnContext(ctx, "Step failed",
			"run_id", rep.RunID,
			"job", failed.Job,
			"step", failed.Step.Name,
			"exit_code", failed.Step.ExitCode,
			"reason", reason,
		)
	}

	return nil
}
