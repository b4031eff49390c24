package main

import (
	"fmt"
	"strings"

	"github.com/garrettladley/plata/internal/config"
	"github.com/garrettladley/plata/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func invoiceCmd() *cobra.Command {
	var (
		email    string
		total    string
		currency string
	)

	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Create a client and an unpaid invoice for testing payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			amount, err := parseTotal(total)
			if err != nil {
				return err
			}

			db, err := config.ReadDatabase()
			if err != nil {
				return err
			}

			l, err := ledger.Open(ctx, string(db.Driver), db.URL)
			if err != nil {
				return err
			}
			defer func() {
				_ = l.Close()
			}()

			client, err := l.CreateClient(ctx, ledger.Client{Email: email, Currency: currency, Balance: decimal.Zero})
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			inv, err := l.CreateInvoice(ctx, ledger.Invoice{
				ClientID: client.ID,
				Hash:     newInvoiceHash(),
				Total:    amount,
				Currency: currency,
			})
			if err != nil {
				return fmt.Errorf("failed to create invoice: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Client:    %d (%s)\n", client.ID, client.Email)
			fmt.Fprintf(out, "Invoice:   %d\n", inv.ID)
			fmt.Fprintf(out, "Reference: %s\n", inv.Hash)
			fmt.Fprintf(out, "Total:     %s %s\n", inv.Total.StringFixed(2), inv.Currency)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "client email")
	cmd.Flags().StringVar(&total, "total", "", "invoice total in major units, e.g. 42.00")
	cmd.Flags().StringVar(&currency, "currency", "UAH", "invoice currency")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}

func parseTotal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid total %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("invalid total %q: must be positive", s)
	}
	return d.Round(2), nil
}

// newInvoiceHash returns the reference a payment carries back in its
// webhook.
func newInvoiceHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
