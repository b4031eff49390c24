// Package ledger persists payment transactions, invoices and client funds.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garrettladley/plata/internal/status"
	"github.com/shopspring/decimal"
)

var (
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrAmbiguousInvoice = errors.New("reference matches more than one invoice")
	ErrClientNotFound   = errors.New("client not found")
	ErrDuplicateCredit  = errors.New("funds already credited for this reference")
)

type TransactionType string

const TransactionTypePayment TransactionType = "Payment"

type InvoiceStatus string

const (
	InvoiceStatusUnpaid InvoiceStatus = "unpaid"
	InvoiceStatusPaid   InvoiceStatus = "paid"
)

// CreditTypeTransaction tags funds credited for a provider transaction.
const CreditTypeTransaction = "transaction"

// Transaction is the local record of one provider payment attempt.
type Transaction struct {
	ID             int64
	InvoiceID      *int64
	ProviderTxnID  string
	Amount         decimal.Decimal
	Currency       string
	ProviderStatus string
	Status         status.Status
	Type           TransactionType
	IP             string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Invoice struct {
	ID       int64
	ClientID int64
	Hash     string
	Total    decimal.Decimal
	Currency string
	Status   InvoiceStatus
	PaidAt   *time.Time
}

func (i Invoice) IsPaid() bool { return i.Status == InvoiceStatusPaid }

type Client struct {
	ID       int64
	Email    string
	Currency string
	Balance  decimal.Decimal
}

// CreditMeta links a funds credit back to what caused it. A (Type, RelID)
// pair is credited at most once.
type CreditMeta struct {
	Type  string
	RelID int64
}

type Credit struct {
	ClientID    int64
	Amount      decimal.Decimal
	Description string
	Meta        CreditMeta
	CreatedAt   time.Time
}

// Store is the ledger consumed by webhook reconciliation.
type Store interface {
	// FindInvoiceByReference resolves an invoice by its opaque hash.
	// Returns ErrInvoiceNotFound or ErrAmbiguousInvoice unless exactly one
	// invoice matches.
	FindInvoiceByReference(ctx context.Context, reference string) (Invoice, error)

	// Atomically runs fn in a single storage transaction, serialized against
	// every other Atomically call for the same transaction id. Writes made
	// through tx are committed only if fn returns nil.
	Atomically(ctx context.Context, transactionID int64, fn func(ctx context.Context, tx Tx) error) error

	Ping(ctx context.Context) error
}

// Tx is the set of writes available inside Store.Atomically.
type Tx interface {
	// LoadOrCreateTransaction returns the transaction, inserting a pending
	// one if none exists.
	LoadOrCreateTransaction(ctx context.Context, id int64) (Transaction, error)

	StoreTransaction(ctx context.Context, t Transaction) error

	// CreditClientFunds adds credit.Amount to the client's balance. Returns
	// ErrDuplicateCredit if credit.Meta was credited before.
	CreditClientFunds(ctx context.Context, credit Credit) error

	// SettleInvoiceWithAvailableCredit pays an unpaid invoice from the
	// client's balance when the balance covers the invoice total, and
	// reports whether the invoice was settled by this call.
	SettleInvoiceWithAvailableCredit(ctx context.Context, invoice Invoice) (bool, error)
}

// Issuer creates the clients and invoices that webhooks reconcile against.
// Invoice issuance itself belongs to checkout; this exists for operators and
// tests.
type Issuer interface {
	CreateClient(ctx context.Context, c Client) (Client, error)
	CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error)
}

func newTransaction(id int64, now time.Time) Transaction {
	return Transaction{
		ID:        id,
		Amount:    decimal.Zero,
		Status:    status.Pending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func covers(balance, total decimal.Decimal) bool {
	return balance.GreaterThanOrEqual(total)
}

// scanner is satisfied by pgx.Row, pgx.CollectableRow, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanInvoice reads id, client_id, hash, total, currency, status, paid_at.
func scanInvoice(row scanner) (Invoice, error) {
	var (
		inv      Invoice
		rawTotal string
		invStat  string
	)
	if err := row.Scan(&inv.ID, &inv.ClientID, &inv.Hash, &rawTotal, &inv.Currency, &invStat, &inv.PaidAt); err != nil {
		return Invoice{}, err
	}

	total, err := decimal.NewFromString(rawTotal)
	if err != nil {
		return Invoice{}, fmt.Errorf("invoice %d total: %w", inv.ID, err)
	}
	inv.Total = total
	inv.Status = InvoiceStatus(invStat)
	return inv, nil
}

// scanTransaction reads the transactions columns in declaration order.
func scanTransaction(row scanner) (Transaction, error) {
	var (
		txn       Transaction
		rawAmount string
		txnStat   string
		txnType   string
	)
	err := row.Scan(&txn.ID, &txn.InvoiceID, &txn.ProviderTxnID, &rawAmount, &txn.Currency,
		&txn.ProviderStatus, &txnStat, &txnType, &txn.IP, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return Transaction{}, err
	}

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %d amount: %w", txn.ID, err)
	}
	txn.Amount = amount
	txn.Status = status.Status(txnStat)
	if !txn.Status.Valid() {
		return Transaction{}, fmt.Errorf("transaction %d has unknown status %q", txn.ID, txnStat)
	}
	txn.Type = TransactionType(txnType)
	return txn, nil
}
