package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// migrate brings the schema up to date. It uses a goose Provider rather
// than the package-level goose state so several stores can open at once.
func migrate(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	migrations, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug().
			Int64("version", r.Source.Version).
			Str("path", r.Source.Path).
			Dur("took", r.Duration).
			Msg("applied migration")
	}
	return nil
}
