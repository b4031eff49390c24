package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var errSettledConcurrently = errors.New("invoice settled by a concurrent transaction")

// MemoryStore is an in-process Store. Atomically holds a lock per
// transaction id and applies the staged writes in one step when fn returns.
type MemoryStore struct {
	now func() time.Time

	mu           sync.RWMutex
	clients      map[int64]Client
	invoices     map[int64]Invoice
	transactions map[int64]Transaction
	credits      []Credit
	nextID       int64

	locksMu sync.Mutex
	locks   map[int64]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Issuer = (*MemoryStore)(nil)
)

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:          now,
		clients:      make(map[int64]Client),
		invoices:     make(map[int64]Invoice),
		transactions: make(map[int64]Transaction),
		locks:        make(map[int64]*idLock),
	}
}

// AddClient stores c, assigning an id when c.ID is zero.
func (s *MemoryStore) AddClient(c Client) Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		s.nextID++
		c.ID = s.nextID
	}
	s.clients[c.ID] = c
	return c
}

// AddInvoice stores inv, assigning an id when inv.ID is zero. Hashes are not
// checked for uniqueness.
func (s *MemoryStore) AddInvoice(inv Invoice) Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == 0 {
		s.nextID++
		inv.ID = s.nextID
	}
	if inv.Status == "" {
		inv.Status = InvoiceStatusUnpaid
	}
	s.invoices[inv.ID] = inv
	return inv
}

func (s *MemoryStore) CreateClient(_ context.Context, c Client) (Client, error) {
	return s.AddClient(c), nil
}

func (s *MemoryStore) CreateInvoice(_ context.Context, inv Invoice) (Invoice, error) {
	s.mu.RLock()
	_, ok := s.clients[inv.ClientID]
	s.mu.RUnlock()
	if !ok {
		return Invoice{}, fmt.Errorf("%w: %d", ErrClientNotFound, inv.ClientID)
	}
	return s.AddInvoice(inv), nil
}

// PutTransaction records a transaction as the payment-link path would before
// any notification arrives.
func (s *MemoryStore) PutTransaction(t Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.ID] = t
}

func (s *MemoryStore) Transaction(id int64) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	return t, ok
}

func (s *MemoryStore) Invoice(id int64) (Invoice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	return inv, ok
}

func (s *MemoryStore) Client(id int64) (Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

func (s *MemoryStore) Credits() []Credit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.credits)
}

func (s *MemoryStore) FindInvoiceByReference(_ context.Context, reference string) (Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found Invoice
		n     int
	)
	for _, inv := range s.invoices {
		if inv.Hash == reference {
			found = inv
			n++
		}
	}

	switch n {
	case 0:
		return Invoice{}, ErrInvoiceNotFound
	case 1:
		return found, nil
	default:
		return Invoice{}, ErrAmbiguousInvoice
	}
}

func (s *MemoryStore) Atomically(ctx context.Context, transactionID int64, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lock(transactionID)
	defer unlock()

	tx := &memoryTx{
		store:    s,
		id:       transactionID,
		balances: make(map[int64]decimal.Decimal),
		settled:  make(map[int64]time.Time),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) lock(id int64) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

type memoryTx struct {
	store *MemoryStore
	id    int64

	txn      *Transaction
	credits  []Credit
	balances map[int64]decimal.Decimal
	settled  map[int64]time.Time
}

func (tx *memoryTx) LoadOrCreateTransaction(_ context.Context, id int64) (Transaction, error) {
	if id != tx.id {
		return Transaction{}, fmt.Errorf("transaction %d is not locked by this unit of work", id)
	}
	if tx.txn != nil {
		return *tx.txn, nil
	}

	t, ok := tx.store.Transaction(id)
	if !ok {
		t = newTransaction(id, tx.store.now())
	}
	tx.txn = &t
	return t, nil
}

func (tx *memoryTx) StoreTransaction(_ context.Context, t Transaction) error {
	if t.ID != tx.id {
		return fmt.Errorf("transaction %d is not locked by this unit of work", t.ID)
	}
	tx.txn = &t
	return nil
}

func (tx *memoryTx) CreditClientFunds(_ context.Context, credit Credit) error {
	s := tx.store
	s.mu.RLock()
	_, ok := s.clients[credit.ClientID]
	dup := s.credited(credit.Meta)
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrClientNotFound, credit.ClientID)
	}
	if dup || slices.ContainsFunc(tx.credits, func(c Credit) bool { return c.Meta == credit.Meta }) {
		return ErrDuplicateCredit
	}

	if credit.CreatedAt.IsZero() {
		credit.CreatedAt = s.now()
	}
	tx.credits = append(tx.credits, credit)
	tx.balances[credit.ClientID] = tx.balances[credit.ClientID].Add(credit.Amount)
	return nil
}

func (tx *memoryTx) SettleInvoiceWithAvailableCredit(_ context.Context, invoice Invoice) (bool, error) {
	s := tx.store
	s.mu.RLock()
	inv, ok := s.invoices[invoice.ID]
	client, clientOK := s.clients[inv.ClientID]
	s.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("%w: id %d", ErrInvoiceNotFound, invoice.ID)
	}
	if !clientOK {
		return false, fmt.Errorf("%w: %d", ErrClientNotFound, inv.ClientID)
	}
	if _, staged := tx.settled[inv.ID]; inv.IsPaid() || staged {
		return false, nil
	}

	balance := client.Balance.Add(tx.balances[inv.ClientID])
	if !covers(balance, inv.Total) {
		return false, nil
	}

	tx.balances[inv.ClientID] = tx.balances[inv.ClientID].Sub(inv.Total)
	tx.settled[inv.ID] = s.now()
	return true, nil
}

func (tx *memoryTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range tx.credits {
		if s.credited(c.Meta) {
			return ErrDuplicateCredit
		}
	}
	for id := range tx.settled {
		if s.invoices[id].IsPaid() {
			return errSettledConcurrently
		}
	}

	if tx.txn != nil {
		s.transactions[tx.txn.ID] = *tx.txn
	}
	s.credits = append(s.credits, tx.credits...)
	for id, delta := range tx.balances {
		c := s.clients[id]
		c.Balance = c.Balance.Add(delta)
		s.clients[id] = c
	}
	for id, at := range tx.settled {
		inv := s.invoices[id]
		inv.Status = InvoiceStatusPaid
		inv.PaidAt = &at
		s.invoices[id] = inv
	}
	return nil
}

// credited must be called with s.mu held.
func (s *MemoryStore) credited(meta CreditMeta) bool {
	return slices.ContainsFunc(s.credits, func(c Credit) bool { return c.Meta == meta })
}
