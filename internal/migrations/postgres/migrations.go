// Package postgres applies the embedded PostgreSQL ledger schema.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/garrettladley/plata/internal/xslog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Dir is the source directory of the PostgreSQL migrations, relative to the
// module root.
const Dir = "internal/migrations/postgres/sql"

const migrationsDir = "sql"

//go:embed sql/*.sql
var migrationsFS embed.FS

// Apply runs every pending migration in its own transaction and returns the
// names of the ones it applied.
func Apply(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	if err := createHistoryTable(ctx, pool); err != nil {
		return nil, err
	}

	names, err := Names()
	if err != nil {
		return nil, err
	}

	logger := xslog.FromContext(ctx)

	var applied []string
	for _, name := range names {
		done, err := isMigrationApplied(ctx, pool, name)
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}

		content, err := fs.ReadFile(migrationsFS, migrationsDir+"/"+name)
		if err != nil {
			return applied, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for stmt := range strings.SplitSeq(string(content), ";") {
				stmt = strings.TrimSpace(stmt)
				if stmt == "" {
					continue
				}
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("failed to execute migration %s: %w", name, err)
				}
			}
			_, err := tx.Exec(ctx, "INSERT INTO migrations_history (name) VALUES ($1)", name)
			return err
		})
		if err != nil {
			return applied, err
		}

		logger.InfoContext(ctx, "applied migration", xslog.Driver("postgres"), xslog.Migration(name))
		applied = append(applied, name)
	}

	return applied, nil
}

func Names() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	slices.Sort(names)
	return names, nil
}

func createHistoryTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS migrations_history (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	return err
}

func isMigrationApplied(ctx context.Context, pool *pgxpool.Pool, name string) (bool, error) {
	var count int
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM migrations_history WHERE name = $1", name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
