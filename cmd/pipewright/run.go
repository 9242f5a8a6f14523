package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/pipewright/pkg/cmd"
	"github.com/dukex/pipewright/pkg/definition"
	"github.com/dukex/pipewright/pkg/engine"
	"github.com/dukex/pipewright/pkg/log"
	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/otelhelper"
	"github.com/dukex/pipewright/pkg/protocol"
	"github.com/dukex/pipewright/pkg/provisioners/local"
	"github.com/dukex/pipewright/pkg/report"
	"github.com/dukex/pipewright/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const (
	exitSucceeded = 0
	exitFailed    = 1
	exitInvalid   = 2
)

var ErrUnknownFormat = errors.New("unknown report format")

type runOptions struct {
	path           string
	trigger        models.TriggerKind
	maxConcurrency int
	failurePolicy  scheduler.FailurePolicy
	format         report.Format
	capabilities   []string
	workspace      string
	tracer         trace.Tracer
}

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Execute a pipeline definition and print its report",
		ArgsUsage: "<definition.yaml>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "max-concurrency",
				Aliases: []string{"c"},
				Usage:   "Maximum number of jobs running at once",
				Value:   scheduler.DefaultMaxConcurrency,
				Sources: cli.EnvVars("PIPEWRIGHT_MAX_CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:    "on-failure",
				Usage:   "What a failed job does to the run (skip-dependents, halt)",
				Value:   string(scheduler.FailureSkipDependents),
				Sources: cli.EnvVars("PIPEWRIGHT_ON_FAILURE"),
			},
			&cli.StringFlag{
				Name:  "trigger",
				Usage: "Trigger kind the run simulates (manual, push, pull_request, schedule, ...)",
				Value: string(models.TriggerManual),
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Report format (text, json)",
				Value:   string(report.FormatText),
			},
			&cli.StringSliceFlag{
				Name:    "capabilities",
				Usage:   "Capabilities offered by this machine",
				Value:   local.DefaultCapabilities(),
				Sources: cli.EnvVars("PIPEWRIGHT_CAPABILITIES"),
			},
			&cli.StringFlag{
				Name:    "workspace",
				Usage:   "Directory under which job workspaces are created",
				Sources: cli.EnvVars("PIPEWRIGHT_WORKSPACE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export run, job and step spans over OTLP HTTP",
				Sources: cli.EnvVars("PIPEWRIGHT_TRACING"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("cli")

			if command.Args().Len() != 1 {
				return cli.Exit("exactly one definition file is required", exitInvalid)
			}

			policy, err := scheduler.ParseFailurePolicy(command.String("on-failure"))
			if err != nil {
				return cli.Exit(err.Error(), exitInvalid)
			}

			opts := runOptions{
				path:           command.Args().First(),
				trigger:        models.TriggerKind(command.String("trigger")),
				maxConcurrency: command.Int("max-concurrency"),
				failurePolicy:  policy,
				format:         report.Format(command.String("format")),
				capabilities:   command.StringSlice("capabilities"),
				workspace:      command.String("workspace"),
			}

			if command.Bool("tracing") {
				tracer, shutdown, err := otelhelper.NewTracer(ctx, "pipewright")
				if err != nil {
					return cli.Exit(fmt.Sprintf("failed to initialize tracer: %v", err), exitInvalid)
				}

				defer func() {
					if err := shutdown(context.WithoutCancel(ctx)); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()

				opts.tracer = tracer
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			code, err := executeFile(ctx, logger, opts, os.Stdout)
			if err != nil {
				return cli.Exit(err.Error(), code)
			}

			if code != exitSucceeded {
				return cli.Exit("", code)
			}

			return nil
		},
	}
}

// executeFile runs the definition at opts.path to completion, writing the
// report to out, and returns the process exit code.
func executeFile(ctx context.Context, logger *slog.Logger, opts runOptions, out io.Writer) (int, error) {
	switch opts.format {
	case report.FormatText, report.FormatJSON:
	default:
		return exitInvalid, fmt.Errorf("%w: %s", ErrUnknownFormat, opts.format)
	}

	def, err := definition.ParseFile(opts.path)
	if err != nil {
		return exitInvalid, err
	}

	if opts.trigger != models.TriggerManual && !def.HasTrigger(opts.trigger) {
		logger.InfoContext(ctx, "Definition is not triggered by this event", "trigger", opts.trigger)

		return exitSucceeded, nil
	}

	e := engine.New(engine.Options{
		Resolver: cmd.NewRegistry(logger),
		Provisioner: local.NewProvisioner(local.Config{
			Root:         opts.workspace,
			Capabilities: opts.capabilities,
		}, logger),
		Sinks:          []protocol.ReportSink{report.NewWriterSink(out, opts.format)},
		Tracer:         opts.tracer,
		Logger:         logger,
		MaxConcurrency: opts.maxConcurrency,
		FailurePolicy:  opts.failurePolicy,
	})

	rep, err := e.Execute(ctx, def, opts.trigger, map[string]any{"path": opts.path})
	if err != nil {
		if definition.IsValidationError(err) {
			return exitInvalid, err
		}

		return exitFailed, err
	}

	if rep.Status != models.RunStatusSucceeded {
		return exitFailed, nil
	}

	return exitSucceeded, nil
}
