package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/outflowhq/outflow/pkg/persistence"
	"github.com/outflowhq/outflow/pkg/persistence/memory"
	"github.com/outflowhq/outflow/pkg/persistence/postgres"
)

// NewPersistence creates the store for the database URL. "memory" keeps
// everything in process, for local development and dry runs.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case databaseURL == "" || databaseURL == "memory":
		return memory.NewPersistence()
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		p, err := postgres.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to connect to postgres: %w", err))
		}

		return p
	default:
		panic("Unsupported database URL: " + databaseURL)
	}
}
