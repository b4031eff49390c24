package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/garrettladley/plata/internal/migrations"
	"github.com/garrettladley/plata/internal/status"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// SQLiteStore runs every Atomically call in an IMMEDIATE transaction, which
// takes the database write lock up front and so serializes writers across
// processes.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ Store  = (*SQLiteStore)(nil)
	_ Issuer = (*SQLiteStore)(nil)
)

// SQLiteDSN builds a go-sqlite3 DSN for path with immediate transactions,
// foreign keys and a busy timeout.
func SQLiteDSN(path string) string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", "5000")
	q.Set("_journal_mode", "WAL")
	return "file:" + path + "?" + q.Encode()
}

// OpenSQLite opens the database at path and applies pending migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := migrations.Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return NewSQLiteStore(db), nil
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) FindInvoiceByReference(ctx context.Context, reference string) (Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, hash, total, currency, status, paid_at
		FROM invoices
		WHERE hash = ?
		LIMIT 2`, reference)
	if err != nil {
		return Invoice{}, fmt.Errorf("find invoice: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return Invoice{}, fmt.Errorf("find invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
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

func (s *SQLiteStore) Atomically(ctx context.Context, _ int64, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, &sqliteTx{tx: tx, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateClient(ctx context.Context, c Client) (Client, error) {
	if c.Currency == "" {
		c.Currency = "UAH"
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO clients (email, currency, balance) VALUES (?, ?, ?)`,
		c.Email, c.Currency, c.Balance.String())
	if err != nil {
		return Client{}, fmt.Errorf("create client: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return Client{}, fmt.Errorf("create client: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	if inv.Status == "" {
		inv.Status = InvoiceStatusUnpaid
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO invoices (client_id, hash, total, currency, status) VALUES (?, ?, ?, ?, ?)`,
		inv.ClientID, inv.Hash, inv.Total.String(), inv.Currency, string(inv.Status))
	if err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	inv.ID, err = res.LastInsertId()
	if err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	return inv, nil
}

type sqliteTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *sqliteTx) LoadOrCreateTransaction(ctx context.Context, id int64) (Transaction, error) {
	now := t.now()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`, id, string(status.Pending), now, now)
	if err != nil {
		return Transaction{}, fmt.Errorf("create transaction %d: %w", id, err)
	}

	txn, err := scanTransaction(t.tx.QueryRowContext(ctx, `
		SELECT id, invoice_id, provider_txn_id, amount, currency, provider_status,
		       status, type, ip, created_at, updated_at
		FROM transactions
		WHERE id = ?`, id))
	if err != nil {
		return Transaction{}, fmt.Errorf("load transaction %d: %w", id, err)
	}
	return txn, nil
}

func (t *sqliteTx) StoreTransaction(ctx context.Context, txn Transaction) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE transactions
		SET invoice_id = ?, provider_txn_id = ?, amount = ?, currency = ?,
		    provider_status = ?, status = ?, type = ?, ip = ?, updated_at = ?
		WHERE id = ?`,
		txn.InvoiceID, txn.ProviderTxnID, txn.Amount.String(), txn.Currency,
		txn.ProviderStatus, string(txn.Status), string(txn.Type), txn.IP, txn.UpdatedAt, txn.ID,
	)
	if err != nil {
		return fmt.Errorf("store transaction %d: %w", txn.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store transaction %d: no such row", txn.ID)
	}
	return nil
}

func (t *sqliteTx) CreditClientFunds(ctx context.Context, credit Credit) error {
	createdAt := credit.CreatedAt
	if createdAt.IsZero() {
		createdAt = t.now()
	}

	balance, err := t.balance(ctx, credit.ClientID)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO client_funds (client_id, amount, description, type, rel_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		credit.ClientID, credit.Amount.String(), credit.Description, credit.Meta.Type, credit.Meta.RelID, createdAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateCredit
		}
		return fmt.Errorf("credit client %d: %w", credit.ClientID, err)
	}

	return t.setBalance(ctx, credit.ClientID, balance.Add(credit.Amount))
}

func (t *sqliteTx) SettleInvoiceWithAvailableCredit(ctx context.Context, invoice Invoice) (bool, error) {
	inv, err := scanInvoice(t.tx.QueryRowContext(ctx, `
		SELECT id, client_id, hash, total, currency, status, paid_at
		FROM invoices
		WHERE id = ?`, invoice.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: id %d", ErrInvoiceNotFound, invoice.ID)
	}
	if err != nil {
		return false, fmt.Errorf("load invoice %d: %w", invoice.ID, err)
	}
	if inv.IsPaid() {
		return false, nil
	}

	balance, err := t.balance(ctx, inv.ClientID)
	if err != nil {
		return false, err
	}
	if !covers(balance, inv.Total) {
		return false, nil
	}

	if err := t.setBalance(ctx, inv.ClientID, balance.Sub(inv.Total)); err != nil {
		return false, err
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE invoices SET status = ?, paid_at = ? WHERE id = ?`,
		string(InvoiceStatusPaid), t.now(), inv.ID); err != nil {
		return false, fmt.Errorf("mark invoice %d paid: %w", inv.ID, err)
	}
	return true, nil
}

// balances are stored as decimal text, so arithmetic happens here rather
// than in SQL
func (t *sqliteTx) balance(ctx context.Context, clientID int64) (decimal.Decimal, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx, `SELECT balance FROM clients WHERE id = ?`, clientID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrClientNotFound, clientID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load client %d: %w", clientID, err)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("client %d balance: %w", clientID, err)
	}
	return balance, nil
}

func (t *sqliteTx) setBalance(ctx context.Context, clientID int64, balance decimal.Decimal) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE clients SET balance = ? WHERE id = ?`, balance.String(), clientID); err != nil {
		return fmt.Errorf("update client %d balance: %w", clientID, err)
	}
	return nil
}
