package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/dukex/flowmedic/pkg/persistence/file"
	"github.com/dukex/flowmedic/pkg/persistence/postgresql"
)

// NewPersistence picks the storage backend from the URL scheme. URLs without
// a scheme are treated as file paths.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch provider := parsePersistenceProvider(databaseURL); provider {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "file":
		return file.NewPersistence(databaseURL), nil
	default:
		return nil, fmt.Errorf("%w: persistence %q", ErrUnsupportedProvider, provider)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
