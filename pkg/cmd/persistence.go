// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/luminacrm/copyflow/pkg/persistence"
	"github.com/luminacrm/copyflow/pkg/persistence/file"
	"github.com/luminacrm/copyflow/pkg/persistence/postgresql"
)

// NewPersistence creates a run ledger from a database URL. postgres:// URLs
// get the PostgreSQL ledger; anything else falls back to the file ledger.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		ledger, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return ledger
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
