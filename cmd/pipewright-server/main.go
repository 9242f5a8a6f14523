package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/pipewright/pkg/cmd"
	"github.com/dukex/pipewright/pkg/engine"
	"github.com/dukex/pipewright/pkg/log"
	"github.com/dukex/pipewright/pkg/metrics"
	"github.com/dukex/pipewright/pkg/otelhelper"
	"github.com/dukex/pipewright/pkg/protocol"
	"github.com/dukex/pipewright/pkg/provisioners/local"
	"github.com/dukex/pipewright/pkg/report"
	"github.com/dukex/pipewright/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 30 * time.Second
)

func main() {
	cmd := &cli.Command{
		Name:                  "pipewright-server",
		Usage:                 "Store pipeline definitions and run them on events",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://... or a directory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka); empty disables run events",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "max-concurrency",
				Usage:   "Maximum number of jobs running at once per run",
				Value:   scheduler.DefaultMaxConcurrency,
				Sources: cli.EnvVars("PIPEWRIGHT_MAX_CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:    "on-failure",
				Usage:   "What a failed job does to the run (skip-dependents, halt)",
				Value:   string(scheduler.FailureSkipDependents),
				Sources: cli.EnvVars("PIPEWRIGHT_ON_FAILURE"),
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
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression firing the schedule trigger",
				Sources: cli.EnvVars("PIPEWRIGHT_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address of the event queue; empty disables the queue trigger",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Redis list holding queued events",
				Value:   "pipewright:events",
				Sources: cli.EnvVars("PIPEWRIGHT_QUEUE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export run, job and step spans over OTLP HTTP",
				Sources: cli.EnvVars("PIPEWRIGHT_TRACING"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("server")

			logger.InfoContext(ctx, "Initializing Pipewright server")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("failed to open persistence: %w", err)
			}

			defer func() {
				if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			if eventBus != nil {
				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}()

				if err := subscribeRunLog(ctx, logger, eventBus); err != nil {
					return fmt.Errorf("failed to subscribe to run events: %w", err)
				}
			}

			policy, err := scheduler.ParseFailurePolicy(command.String("on-failure"))
			if err != nil {
				return err
			}

			options := engine.Options{
				Provisioner: local.NewProvisioner(local.Config{
					Root:         command.String("workspace"),
					Capabilities: command.StringSlice("capabilities"),
				}, logger),
				Persistence:    persistence,
				EventBus:       eventBus,
				Sinks:          []protocol.ReportSink{report.NewLogSink(logger)},
				Metrics:        metrics.New(),
				Logger:         logger,
				MaxConcurrency: command.Int("max-concurrency"),
				FailurePolicy:  policy,
			}

			if command.Bool("tracing") {
				tracer, shutdown, err := otelhelper.NewTracer(ctx, "pipewright-server")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(context.WithoutCancel(ctx)); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()

				options.Tracer = tracer
			}

			registry := cmd.NewRegistry(logger)
			options.Resolver = registry

			e := engine.New(options)
			dispatcher := engine.NewDispatcher(e, persistence.DefinitionRepository(), logger)

			triggers, err := startTriggers(ctx, logger, registry, dispatcher, triggerConfig{
				schedule:  command.String("schedule"),
				redisAddr: command.String("redis-addr"),
				queue:     command.String("queue"),
			})
			if err != nil {
				return err
			}

			api := NewAPI(logger, persistence, registry, e, dispatcher, options.Metrics)
			app := api.App()

			serveErr := make(chan error, 1)

			go func() {
				serveErr <- api.Start(app, command.Int("port"))
			}()

			logger.InfoContext(ctx, "Listening", "port", command.Int("port"))

			select {
			case err := <-serveErr:
				if err != nil {
					logger.ErrorContext(ctx, "API server stopped", "error", err)
				}
			case <-ctx.Done():
				logger.InfoContext(ctx, "Shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			return errors.Join(
				app.ShutdownWithContext(shutdownCtx),
				stopTriggers(shutdownCtx, triggers),
				e.Shutdown(shutdownCtx),
			)
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
