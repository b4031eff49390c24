package main

import (
	"fmt"

	"github.com/garrettladley/plata/internal/config"
	"github.com/garrettladley/plata/internal/ledger"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending ledger migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := config.ReadDatabase()
			if err != nil {
				return err
			}

			l, err := ledger.Open(cmd.Context(), string(db.Driver), db.URL)
			if err != nil {
				return err
			}
			defer func() {
				_ = l.Close()
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied successfully (%s)\n", db.Driver)
			return nil
		},
	}
}
