package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outflowhq/outflow/pkg/scheduler"
)

// NewScheduler creates the durable job queue. "memory" runs an in-process
// queue with no durability, for local development and dry runs.
func NewScheduler(ctx context.Context, logger *slog.Logger, redisURL string) scheduler.Scheduler {
	if redisURL == "" || redisURL == "memory" {
		return scheduler.NewMemoryScheduler()
	}

	s, err := scheduler.NewRedisScheduler(ctx, logger, redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to create redis scheduler: %w", err))
	}

	return s
}
