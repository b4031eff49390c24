package main

import (
	"fmt"

	"github.com/garrettladley/plata/internal/config"
	"github.com/garrettladley/plata/internal/plata"
	"github.com/garrettladley/plata/internal/signature"
	"github.com/garrettladley/plata/internal/xslog"
	"github.com/spf13/cobra"
)

func pubkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey",
		Short: "Fetch the provider's webhook signing key and show its fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.ReadPlata()
			if err != nil {
				return err
			}

			api := plata.New(
				plata.TokenSource(cfg.Token()),
				plata.WithBaseURL(cfg.BaseURL),
				plata.WithTimeout(cfg.FetchTimeout),
				plata.WithLogger(xslog.FromContext(ctx)),
			)

			blob, err := api.Merchant.PublicKey(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch public key: %w", err)
			}

			key, err := signature.ParsePublicKey(blob)
			if err != nil {
				return fmt.Errorf("failed to parse public key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Algorithm:   %s\n", key.Algorithm())
			fmt.Fprintf(out, "Fingerprint: %s\n", key.Fingerprint())
			fmt.Fprintf(out, "Test mode:   %t\n", cfg.TestMode)
			return nil
		},
	}
}
