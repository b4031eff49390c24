package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/garrettladley/plata/internal/ledger"
	"github.com/garrettladley/plata/internal/pubkey"
	"github.com/garrettladley/plata/internal/signature"
	"github.com/garrettladley/plata/internal/status"
	"github.com/garrettladley/plata/internal/xslog"
)

const DefaultLedgerTimeout = 15 * time.Second

const creditDescriptionPrefix = "Plata transaction "

// KeySource supplies the provider's verification key. *pubkey.Cache
// implements it.
type KeySource interface {
	Get(ctx context.Context) (pubkey.Material, error)
	Refresh(ctx context.Context, seen pubkey.Material) (pubkey.Material, error)
}

type Processor struct {
	keys          KeySource
	ledger        ledger.Store
	now           func() time.Time
	ledgerTimeout time.Duration
}

var (
	_ Service   = (*Processor)(nil)
	_ KeySource = (*pubkey.Cache)(nil)
)

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithLedgerTimeout bounds the ledger unit of work. It runs detached from
// the request context so a dropped connection cannot abandon it halfway.
func WithLedgerTimeout(d time.Duration) Option {
	return func(p *Processor) { p.ledgerTimeout = d }
}

func NewProcessor(keys KeySource, store ledger.Store, opts ...Option) *Processor {
	p := &Processor{
		keys:          keys,
		ledger:        store,
		now:           time.Now,
		ledgerTimeout: DefaultLedgerTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) ProcessWebhook(ctx context.Context, req ProcessRequest) (Result, error) {
	logger := xslog.FromContext(ctx).With(xslog.TransactionID(req.TransactionID))

	if strings.TrimSpace(req.Signature) == "" {
		return p.reject(ctx, logger, ErrMissingSignature)
	}

	env, err := decodeEnvelope(req.Body)
	if err != nil {
		return p.reject(ctx, logger, fmt.Errorf("%w: %w", ErrMalformedBody, err))
	}

	// unauthenticated, used for log context only
	reference, providerTxnID := env.identifiers()
	logger = logger.With(xslog.Reference(reference), xslog.ProviderTxnID(providerTxnID))

	sig, err := signature.DecodeSignature(req.Signature)
	if err != nil {
		return p.reject(ctx, logger, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err))
	}

	payload, err := p.authenticate(ctx, logger, req.Body, sig)
	if err != nil {
		return p.reject(ctx, logger, err)
	}

	n, err := payload.Notification()
	if err != nil {
		return p.reject(ctx, logger, err)
	}

	invoice, err := p.ledger.FindInvoiceByReference(ctx, n.Reference)
	switch {
	case errors.Is(err, ledger.ErrInvoiceNotFound), errors.Is(err, ledger.ErrAmbiguousInvoice):
		return p.reject(ctx, logger, fmt.Errorf("%w: %w", ErrInvoiceNotFound, err))
	case err != nil:
		return p.reject(ctx, logger, fmt.Errorf("%w: %w", ErrLedgerWriteFailed, err))
	}

	currency, err := lookupCurrency(n.CurrencyCode)
	if err != nil {
		return p.reject(ctx, logger, err)
	}

	return p.apply(ctx, logger, req, n, invoice, currency)
}

// authenticate verifies body with the cached key and, on failure, once more
// with a refreshed key so a provider key rotation is picked up immediately.
func (p *Processor) authenticate(ctx context.Context, logger *slog.Logger, body, sig []byte) (VerifiedPayload, error) {
	key, err := p.keys.Get(ctx)
	if err != nil {
		return VerifiedPayload{}, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}

	if payload, ok := verifyPayload(body, sig, key.Key); ok {
		return payload, nil
	}

	refreshed, err := p.keys.Refresh(ctx, key)
	if err != nil {
		logger.WarnContext(ctx, "public key refresh after failed verification", xslog.Error(err))
		return VerifiedPayload{}, ErrAuthenticationFailed
	}
	if refreshed.Key.Equal(key.Key) {
		return VerifiedPayload{}, ErrAuthenticationFailed
	}

	if payload, ok := verifyPayload(body, sig, refreshed.Key); ok {
		logger.InfoContext(ctx, "verified with rotated public key", xslog.KeyFingerprint(refreshed.Key.Fingerprint()))
		return payload, nil
	}
	return VerifiedPayload{}, ErrAuthenticationFailed
}

func (p *Processor) apply(ctx context.Context, logger *slog.Logger, req ProcessRequest, n Notification, invoice ledger.Invoice, currency Currency) (Result, error) {
	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.ledgerTimeout)
	defer cancel()

	amount := currency.Major(n.AmountMinor)
	mapped := status.Map(n.ProviderStatus)
	result := Result{TransactionID: req.TransactionID, Status: mapped}

	err := p.ledger.Atomically(ledgerCtx, req.TransactionID, func(ctx context.Context, tx ledger.Tx) error {
		txn, err := tx.LoadOrCreateTransaction(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		result.PreviousStatus = txn.Status

		txn.InvoiceID = &invoice.ID
		txn.ProviderTxnID = n.ProviderTxnID
		txn.Amount = amount
		txn.Currency = currency.Code
		txn.ProviderStatus = n.ProviderStatus
		txn.Status = mapped
		txn.Type = ledger.TransactionTypePayment
		txn.IP = req.RemoteIP
		txn.UpdatedAt = p.now()

		if err := tx.StoreTransaction(ctx, txn); err != nil {
			return err
		}

		if mapped != status.Succeeded || result.PreviousStatus == status.Succeeded {
			return nil
		}

		err = tx.CreditClientFunds(ctx, ledger.Credit{
			ClientID:    invoice.ClientID,
			Amount:      amount,
			Description: creditDescriptionPrefix + n.ProviderTxnID,
			Meta: ledger.CreditMeta{
				Type:  ledger.CreditTypeTransaction,
				RelID: txn.ID,
			},
			CreatedAt: txn.UpdatedAt,
		})
		if errors.Is(err, ledger.ErrDuplicateCredit) {
			logger.WarnContext(ctx, "funds already credited for transaction, skipping settlement",
				xslog.PreviousStatus(string(result.PreviousStatus)))
			return nil
		}
		if err != nil {
			return err
		}
		result.Credited = true

		result.Settled, err = tx.SettleInvoiceWithAvailableCredit(ctx, invoice)
		return err
	})
	if err != nil {
		return p.reject(ctx, logger, fmt.Errorf("%w: %w", ErrLedgerWriteFailed, err))
	}

	logger.InfoContext(ctx, "processed webhook",
		xslog.InvoiceID(invoice.ID),
		xslog.ClientID(invoice.ClientID),
		xslog.ProviderStatus(n.ProviderStatus),
		xslog.Status(string(mapped)),
		xslog.PreviousStatus(string(result.PreviousStatus)),
		xslog.Amount(amount.StringFixed(currency.Exponent)),
		xslog.Currency(currency.Numeric),
		slog.Bool("credited", result.Credited),
		slog.Bool("settled", result.Settled),
	)

	return result, nil
}

func (p *Processor) reject(ctx context.Context, logger *slog.Logger, err error) (Result, error) {
	if errors.Is(err, ErrLedgerWriteFailed) || errors.Is(err, ErrKeyUnavailable) {
		logger.ErrorContext(ctx, "webhook processing failed", xslog.Error(err))
	} else {
		logger.WarnContext(ctx, "webhook rejected", xslog.Error(err))
	}
	return Result{}, err
}
