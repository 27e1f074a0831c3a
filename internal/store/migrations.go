package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// Migrate brings the schema up to date using the embedded migrations for
// the handle's dialect.
func (d *DB) Migrate(ctx context.Context) error {
	dir := "migrations/postgres"
	gooseDialect := database.DialectPostgres
	if d.dialect == DialectMySQL {
		dir = "migrations/mysql"
		gooseDialect = database.DialectMySQL
	}

	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(gooseDialect, d.pool.DB, sub)
	if err != nil {
		return fmt.Errorf("building migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	for _, r := range results {
		d.logger.Info("migration applied", zap.String("migration", r.Source.Path))
	}
	return nil
}
