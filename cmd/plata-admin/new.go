package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/garrettladley/plata/internal/config"
	"github.com/garrettladley/plata/internal/migrations"
	pgmigrations "github.com/garrettladley/plata/internal/migrations/postgres"
	"github.com/spf13/cobra"
)

var migrationName = regexp.MustCompile(`^[a-z0-9_]+$`)

func newMigrationCmd() *cobra.Command {
	var driver string

	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a new migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !migrationName.MatchString(name) {
				return fmt.Errorf("migration name must match %s: %q", migrationName, name)
			}

			dir, err := migrationDir(config.Driver(driver))
			if err != nil {
				return err
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("failed to read migrations directory: %w", err)
			}

			filename := filepath.Join(dir, fmt.Sprintf("%06d_%s.sql", nextMigrationNum(entries), name))
			if _, err := os.Stat(filename); err == nil {
				return fmt.Errorf("migration file already exists: %s", filename)
			}

			content := fmt.Sprintf("-- Migration: %s\n\n", name)
			if err := os.WriteFile(filename, []byte(content), 0o600); err != nil {
				return fmt.Errorf("failed to create migration file: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created migration: %s\n", filename)
			return nil
		},
	}
	cmd.Flags().StringVar(&driver, "driver", string(config.DriverSQLite), "ledger driver the migration targets (sqlite or postgres)")
	return cmd
}

func migrationDir(driver config.Driver) (string, error) {
	switch driver {
	case config.DriverSQLite:
		return migrations.Dir, nil
	case config.DriverPostgres:
		return pgmigrations.Dir, nil
	default:
		return "", fmt.Errorf("%w %q", config.ErrUnknownDriver, string(driver))
	}
}

func nextMigrationNum(entries []os.DirEntry) int {
	var maxNum int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		prefix, _, _ := strings.Cut(entry.Name(), "_")
		var num int
		if _, err := fmt.Sscanf(prefix, "%d", &num); err != nil {
			continue
		}
		maxNum = max(maxNum, num)
	}
	return maxNum + 1
}
