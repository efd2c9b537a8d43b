package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/outflowhq/outflow/pkg/actions"
	"github.com/outflowhq/outflow/pkg/cmd"
	"github.com/outflowhq/outflow/pkg/collab/fake"
	"github.com/outflowhq/outflow/pkg/engine"
	"github.com/outflowhq/outflow/pkg/invites"
	"github.com/outflowhq/outflow/pkg/log"
	"github.com/outflowhq/outflow/pkg/otelhelper"
	"github.com/outflowhq/outflow/pkg/ratelimit"
	"github.com/outflowhq/outflow/pkg/rotation"
)

func main() {
	command := &cli.Command{
		Name:                  "outflow-worker",
		Usage:                 "Start workers to process workflow jobs",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewValidateCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://... or 'memory')",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis connection URL for the job queue (or 'memory')",
				Required: true,
				Sources:  cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, channel)",
				Value:   "channel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("outflow-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing Outflow worker")

	tracerProvider, err := otelhelper.InitTracer(ctx, "outflow-worker")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		err := tracerProvider.Shutdown(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		err := persistence.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), "outflow-worker", logger)
	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	queue := cmd.NewScheduler(ctx, logger, command.String("redis-url"))

	// Delivery transport and AI generation run in separate services;
	// recording doubles stand in until their clients are wired here.
	messenger := fake.NewMessenger()
	notifier := &fake.Notifier{}
	mailer := &fake.Mailer{}
	generator := &fake.Generator{}

	rotationService := rotation.NewService(persistence, logger)
	handoff := rotation.NewHandoffService(rotationService, messenger, notifier, eventBus)

	registry := actions.NewRegistry(actions.Config{
		Persistence: persistence,
		Messenger:   messenger,
		Mailer:      mailer,
		Handoff:     handoff,
		Logger:      logger,
	})

	workflowEngine := engine.NewEngine(engine.Config{
		Persistence: persistence,
		Registry:    registry,
		Generator:   generator,
		Handoff:     handoff,
		Scheduler:   queue,
		Publisher:   eventBus,
		Logger:      logger,
		WorkerID:    workerID,
	})

	dispatcher := invites.NewDispatcher(invites.Config{
		Persistence: persistence,
		Limiter:     ratelimit.NewLimiter(persistence, logger),
		Messenger:   messenger,
		Scheduler:   queue,
		Publisher:   eventBus,
		Logger:      logger,
	})

	worker := NewWorker(workerID, workflowEngine, dispatcher, queue, messenger, persistence, logger)

	return worker.Run(ctx)
}
