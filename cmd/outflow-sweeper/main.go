package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/outflowhq/outflow/pkg/cmd"
	"github.com/outflowhq/outflow/pkg/collab/fake"
	"github.com/outflowhq/outflow/pkg/log"
	"github.com/outflowhq/outflow/pkg/otelhelper"
	"github.com/outflowhq/outflow/pkg/rotation"
	"github.com/outflowhq/outflow/pkg/sweeper"
)

func main() {
	command := &cli.Command{
		Name:                  "outflow-sweeper",
		Usage:                 "Expire stale connection invites on a schedule",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://... or 'memory')",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, channel)",
				Value:   "channel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron expression for the sweep",
				Value:   sweeper.DefaultSchedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "withdraw",
				Usage:   "Withdraw expired invites on the platform",
				Value:   true,
				Sources: cli.EnvVars("WITHDRAW_INVITES"),
			},
			&cli.BoolFlag{
				Name:    "once",
				Usage:   "Run a single sweep and exit",
				Sources: cli.EnvVars("SWEEP_ONCE"),
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

	logger := log.WithModule("outflow-sweeper")

	logger.InfoContext(ctx, "Initializing Outflow sweeper")

	tracerProvider, err := otelhelper.InitTracer(ctx, "outflow-sweeper")
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

	eventBus := cmd.NewEventBus(command.String("event-bus"), "outflow-sweeper", logger)
	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	// Delivery transport and operator notifications run in separate
	// services; recording doubles stand in until their clients are wired.
	messenger := fake.NewMessenger()
	notifier := &fake.Notifier{}

	s := sweeper.NewSweeper(sweeper.Config{
		Persistence: persistence,
		Messenger:   messenger,
		Notifier:    notifier,
		Rotation:    rotation.NewService(persistence, logger),
		Publisher:   eventBus,
		Logger:      logger,
		Withdraw:    command.Bool("withdraw"),
	})

	if command.Bool("once") {
		result, err := s.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}

		logger.InfoContext(ctx, "Sweep completed",
			"scanned", result.Scanned,
			"expired", result.Expired,
			"withdrawn", result.Withdrawn,
			"failed", result.Failed,
		)

		return nil
	}

	err = s.Start(ctx, command.String("sweep-schedule"))
	if err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-runCtx.Done()

	logger.InfoContext(ctx, "Shutting down sweeper")
	s.Stop()

	return nil
}
