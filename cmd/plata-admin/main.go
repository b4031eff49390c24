package main

import (
	"context"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/garrettladley/plata/internal/version"
	"github.com/garrettladley/plata/internal/xslog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	logger := xslog.NewLoggerFromEnv(os.Stderr)
	ctx := xslog.WithLogger(context.Background(), logger)

	rootCmd := &cobra.Command{
		Use:   "plata-admin",
		Short: "Ledger and provider maintenance commands",
	}
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(newMigrationCmd())
	rootCmd.AddCommand(pubkeyCmd())
	rootCmd.AddCommand(invoiceCmd())

	if err := fang.Execute(ctx, rootCmd,
		fang.WithVersion(version.Get()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(1)
	}
}
