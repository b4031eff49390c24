package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgmigrations "github.com/garrettladley/plata/internal/migrations/postgres"
	"github.com/garrettladley/plata/internal/status"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore serializes Atomically calls per transaction id with a
// transaction-scoped advisory lock and a row lock on the transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Issuer = (*PostgresStore)(nil)
)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// OpenPostgres connects to url and applies pending migrations.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if _, err := pgmigrations.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return NewPostgresStore(pool), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) FindInvoiceByReference(ctx context.Context, reference string) (Invoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, client_id, hash, total::text, currency, status, paid_at
		FROM invoices
		WHERE hash = $1
		LIMIT 2`, reference)
	if err != nil {
		return Invoice{}, fmt.Errorf("find invoice: %w", err)
	}

	invoices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Invoice, error) {
		return scanInvoice(row)
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("find invoice: %w", err)
	}

	switch len(invoices) {
	case 0:
		return Invoice{}, ErrInvoiceNotFound
	case 1:
		return invoices[0], nil
	default:
		return Invoice{}, ErrAmbiguousInvoice
	}
}

func (s *PostgresStore) Atomically(ctx context.Context, transactionID int64, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", transactionID); err != nil {
			return fmt.Errorf("lock transaction %d: %w", transactionID, err)
		}
		return fn(ctx, &postgresTx{tx: tx, now: s.now})
	})
}

func (s *PostgresStore) CreateClient(ctx context.Context, c Client) (Client, error) {
	if c.Currency == "" {
		c.Currency = "UAH"
	}
	err := s.pool.QueryRow(ctx, `INSERT INTO clients (email, currency, balance) VALUES ($1, $2, $3::numeric) RETURNING id`,
		c.Email, c.Currency, c.Balance.String()).Scan(&c.ID)
	if err != nil {
		return Client{}, fmt.Errorf("create client: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	if inv.Status == "" {
		inv.Status = InvoiceStatusUnpaid
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO invoices (client_id, hash, total, currency, status)
		VALUES ($1, $2, $3::numeric, $4, $5)
		RETURNING id`,
		inv.ClientID, inv.Hash, inv.Total.String(), inv.Currency, string(inv.Status)).Scan(&inv.ID)
	if err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	return inv, nil
}

type postgresTx struct {
	tx  pgx.Tx
	now func() time.Time
}

func (t *postgresTx) LoadOrCreateTransaction(ctx context.Context, id int64) (Transaction, error) {
	now := t.now()
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions (id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO NOTHING`, id, string(status.Pending), now)
	if err != nil {
		return Transaction{}, fmt.Errorf("create transaction %d: %w", id, err)
	}

	row := t.tx.QueryRow(ctx, `
		SELECT id, invoice_id, provider_txn_id, amount::text, currency, provider_status,
		       status, type, ip, created_at, updated_at
		FROM transactions
		WHERE id = $1
		FOR UPDATE`, id)

	txn, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, fmt.Errorf("load transaction %d: %w", id, err)
	}
	return txn, nil
}

func (t *postgresTx) StoreTransaction(ctx context.Context, txn Transaction) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE transactions
		SET invoice_id = $2, provider_txn_id = $3, amount = $4::numeric, currency = $5,
		    provider_status = $6, status = $7, type = $8, ip = $9, updated_at = $10
		WHERE id = $1`,
		txn.ID, txn.InvoiceID, txn.ProviderTxnID, txn.Amount.String(), txn.Currency,
		txn.ProviderStatus, string(txn.Status), string(txn.Type), txn.IP, txn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store transaction %d: %w", txn.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store transaction %d: no such row", txn.ID)
	}
	return nil
}

func (t *postgresTx) CreditClientFunds(ctx context.Context, credit Credit) error {
	createdAt := credit.CreatedAt
	if createdAt.IsZero() {
		createdAt = t.now()
	}

	// a unique violation would abort the whole transaction, so the
	// duplicate is detected without raising one
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO client_funds (client_id, amount, description, type, rel_id, created_at)
		VALUES ($1, $2::numeric, $3, $4, $5, $6)
		ON CONFLICT (type, rel_id) WHERE rel_id IS NOT NULL DO NOTHING`,
		credit.ClientID, credit.Amount.String(), credit.Description, credit.Meta.Type, credit.Meta.RelID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("credit client %d: %w", credit.ClientID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateCredit
	}

	tag, err = t.tx.Exec(ctx, `UPDATE clients SET balance = balance + $2::numeric WHERE id = $1`,
		credit.ClientID, credit.Amount.String())
	if err != nil {
		return fmt.Errorf("credit client %d: %w", credit.ClientID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrClientNotFound, credit.ClientID)
	}
	return nil
}

func (t *postgresTx) SettleInvoiceWithAvailableCredit(ctx context.Context, invoice Invoice) (bool, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx, `
		SELECT id, client_id, hash, total::text, currency, status, paid_at
		FROM invoices
		WHERE id = $1
		FOR UPDATE`, invoice.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%w: id %d", ErrInvoiceNotFound, invoice.ID)
	}
	if err != nil {
		return false, fmt.Errorf("load invoice %d: %w", invoice.ID, err)
	}
	if inv.IsPaid() {
		return false, nil
	}

	var rawBalance string
	err = t.tx.QueryRow(ctx, `SELECT balance::text FROM clients WHERE id = $1 FOR UPDATE`, inv.ClientID).Scan(&rawBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%w: %d", ErrClientNotFound, inv.ClientID)
	}
	if err != nil {
		return false, fmt.Errorf("load client %d: %w", inv.ClientID, err)
	}

	balance, err := decimal.NewFromString(rawBalance)
	if err != nil {
		return false, fmt.Errorf("client %d balance: %w", inv.ClientID, err)
	}
	if !covers(balance, inv.Total) {
		return false, nil
	}

	if _, err := t.tx.Exec(ctx, `UPDATE clients SET balance = balance - $2::numeric WHERE id = $1`,
		inv.ClientID, inv.Total.String()); err != nil {
		return false, fmt.Errorf("debit client %d: %w", inv.ClientID, err)
	}
	if _, err := t.tx.Exec(ctx, `UPDATE invoices SET status = $2, paid_at = $3 WHERE id = $1`,
		inv.ID, string(InvoiceStatusPaid), t.now()); err != nil {
		return false, fmt.Errorf("mark invoice %d paid: %w", inv.ID, err)
	}
	return true, nil
}
