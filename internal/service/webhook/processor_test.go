package webhook_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garrettladley/plata/internal/ledger"
	"github.com/garrettladley/plata/internal/pubkey"
	"github.com/garrettladley/plata/internal/service/webhook"
	"github.com/garrettladley/plata/internal/signature/signaturetest"
	"github.com/garrettladley/plata/internal/status"
	"github.com/garrettladley/plata/internal/storage"
	go_json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

const (
	testReference = "abc123"
	testTxnID     = int64(1001)
	testRemoteIP  = "203.0.113.7"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

type keyServer struct {
	mu    sync.Mutex
	blob  string
	err   error
	calls atomic.Int32
}

func (k *keyServer) set(blob string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.blob, k.err = blob, err
}

func (k *keyServer) fetch(context.Context, bool) (pubkey.Fetched, error) {
	k.calls.Add(1)
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return pubkey.Fetched{}, k.err
	}
	return pubkey.Fetched{Blob: k.blob}, nil
}

// spyStore counts calls into the ledger.
type spyStore struct {
	ledger.Store
	finds      atomic.Int32
	atomically atomic.Int32
	failWith   error
}

func (s *spyStore) FindInvoiceByReference(ctx context.Context, reference string) (ledger.Invoice, error) {
	s.finds.Add(1)
	return s.Store.FindInvoiceByReference(ctx, reference)
}

func (s *spyStore) Atomically(ctx context.Context, id int64, fn func(context.Context, ledger.Tx) error) error {
	s.atomically.Add(1)
	if s.failWith != nil {
		return s.failWith
	}
	return s.Store.Atomically(ctx, id, fn)
}

func (s *spyStore) calls() int32 { return s.finds.Load() + s.atomically.Load() }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	signer    *signaturetest.Signer
	keys      *keyServer
	store     *ledger.MemoryStore
	spy       *spyStore
	clock     *clock
	processor *webhook.Processor
	client    ledger.Client
	invoice   ledger.Invoice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	signer := signaturetest.NewECDSA(t)
	keys := &keyServer{blob: signer.Blob()}
	clk := &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	store := ledger.NewMemoryStore(clk.Now)
	client := store.AddClient(ledger.Client{Email: "client@example.com", Currency: "UAH", Balance: decimal.Zero})
	invoice := store.AddInvoice(ledger.Invoice{
		ClientID: client.ID,
		Hash:     testReference,
		Total:    decimal.RequireFromString("42.00"),
		Currency: "UAH",
	})

	spy := &spyStore{Store: store}
	cache := pubkey.New(keys.fetch, pubkey.WithClock(clk.Now), pubkey.WithMinRefreshInterval(0))

	return &fixture{
		signer:    signer,
		keys:      keys,
		store:     store,
		spy:       spy,
		clock:     clk,
		processor: webhook.NewProcessor(cache, spy, webhook.WithClock(clk.Now), webhook.WithLedgerTimeout(time.Second)),
		client:    client,
		invoice:   invoice,
	}
}

func notification(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	body, err := go_json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}
	return body
}

func paymentBody(t *testing.T, providerStatus string) []byte {
	t.Helper()
	return notification(t, map[string]any{
		"invoiceId":   "p2_9ZgpZVsl3",
		"status":      providerStatus,
		"amount":      4200,
		"finalAmount": 4200,
		"ccy":         980,
		"reference":   testReference,
		"createdDate": "2025-06-01T12:00:00Z",
	})
}

func (f *fixture) signed(body []byte) webhook.ProcessRequest {
	return webhook.ProcessRequest{
		TransactionID: testTxnID,
		Body:          body,
		Signature:     f.signer.Sign(body),
		RemoteIP:      testRemoteIP,
	}
}

func (f *fixture) process(t *testing.T, req webhook.ProcessRequest) webhook.Result {
	t.Helper()
	result, err := f.processor.ProcessWebhook(context.Background(), req)
	if err != nil {
		t.Fatalf("ProcessWebhook() error = %v", err)
	}
	return result
}

func TestProcessWebhookSettlesInvoice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	got := f.process(t, f.signed(paymentBody(t, "success")))

	want := webhook.Result{
		TransactionID:  testTxnID,
		Status:         status.Succeeded,
		PreviousStatus: status.Pending,
		Credited:       true,
		Settled:        true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ProcessWebhook() mismatch (-want +got):\n%s", diff)
	}

	txn, ok := f.store.Transaction(testTxnID)
	if !ok {
		t.Fatal("transaction was not stored")
	}
	wantTxn := ledger.Transaction{
		ID:             testTxnID,
		InvoiceID:      &f.invoice.ID,
		ProviderTxnID:  "p2_9ZgpZVsl3",
		Amount:         decimal.RequireFromString("42.00"),
		Currency:       "UAH",
		ProviderStatus: "success",
		Status:         status.Succeeded,
		Type:           ledger.TransactionTypePayment,
		IP:             testRemoteIP,
		CreatedAt:      f.clock.Now(),
		UpdatedAt:      f.clock.Now(),
	}
	if diff := cmp.Diff(wantTxn, txn, decimalEqual); diff != "" {
		t.Errorf("transaction mismatch (-want +got):\n%s", diff)
	}
	if got := txn.Amount.StringFixed(2); got != "42.00" {
		t.Errorf("amount = %s, want 42.00", got)
	}

	wantCredits := []ledger.Credit{{
		ClientID:    f.client.ID,
		Amount:      decimal.RequireFromString("42"),
		Description: "Plata transaction p2_9ZgpZVsl3",
		Meta:        ledger.CreditMeta{Type: ledger.CreditTypeTransaction, RelID: testTxnID},
		CreatedAt:   f.clock.Now(),
	}}
	if diff := cmp.Diff(wantCredits, f.store.Credits(), decimalEqual); diff != "" {
		t.Errorf("credits mismatch (-want +got):\n%s", diff)
	}

	invoice, _ := f.store.Invoice(f.invoice.ID)
	if !invoice.IsPaid() {
		t.Errorf("invoice status = %q, want paid", invoice.Status)
	}
	client, _ := f.store.Client(f.client.ID)
	if !client.Balance.IsZero() {
		t.Errorf("client balance = %s, want 0", client.Balance)
	}
}

func TestProcessWebhookDuplicateDeliveryCreditsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	body := paymentBody(t, "success")

	first := f.process(t, f.signed(body))
	f.clock.Advance(time.Minute)
	second := f.process(t, f.signed(body))

	if !first.Credited || !first.Settled {
		t.Errorf("first delivery = %+v, want credited and settled", first)
	}
	if second.Credited || second.Settled {
		t.Errorf("second delivery = %+v, want no side effects", second)
	}
	if second.PreviousStatus != status.Succeeded {
		t.Errorf("second PreviousStatus = %q, want succeeded", second.PreviousStatus)
	}

	if got := len(f.store.Credits()); got != 1 {
		t.Errorf("credits = %d, want 1", got)
	}

	txn, _ := f.store.Transaction(testTxnID)
	if !txn.UpdatedAt.Equal(f.clock.Now()) {
		t.Errorf("UpdatedAt = %v, want %v", txn.UpdatedAt, f.clock.Now())
	}
}

func TestProcessWebhookConcurrentDeliveryCreditsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.signed(paymentBody(t, "success"))

	const n = 16
	var (
		wg       sync.WaitGroup
		credited atomic.Int32
		settled  atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.processor.ProcessWebhook(context.Background(), req)
			if err != nil {
				t.Errorf("ProcessWebhook() error = %v", err)
				return
			}
			if result.Credited {
				credited.Add(1)
			}
			if result.Settled {
				settled.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := credited.Load(); got != 1 {
		t.Errorf("credited deliveries = %d, want 1", got)
	}
	if got := settled.Load(); got != 1 {
		t.Errorf("settled deliveries = %d, want 1", got)
	}
	if got := len(f.store.Credits()); got != 1 {
		t.Errorf("credits = %d, want 1", got)
	}
	if got := f.keys.calls.Load(); got != 1 {
		t.Errorf("key fetches = %d, want 1", got)
	}
}

func TestProcessWebhookStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		statuses         []string
		wantStatus       status.Status
		wantLastCredited bool
		wantCredits      int
		wantInvoice      ledger.InvoiceStatus
	}{
		{
			name:        "processing does not credit",
			statuses:    []string{"processing"},
			wantStatus:  status.Pending,
			wantInvoice: ledger.InvoiceStatusUnpaid,
		},
		{
			name:        "failure does not credit",
			statuses:    []string{"processing", "failure"},
			wantStatus:  status.Failed,
			wantInvoice: ledger.InvoiceStatusUnpaid,
		},
		{
			name:        "unknown status is pending",
			statuses:    []string{"mystery"},
			wantStatus:  status.Pending,
			wantInvoice: ledger.InvoiceStatusUnpaid,
		},
		{
			name:             "hold then success credits once",
			statuses:         []string{"hold", "success"},
			wantStatus:       status.Succeeded,
			wantLastCredited: true,
			wantCredits:      1,
			wantInvoice:      ledger.InvoiceStatusPaid,
		},
		{
			name:        "reversed after success refunds without crediting",
			statuses:    []string{"success", "reversed"},
			wantStatus:  status.Refunded,
			wantCredits: 1,
			wantInvoice: ledger.InvoiceStatusPaid,
		},
		{
			name:        "success after reversal does not credit again",
			statuses:    []string{"success", "reversed", "success"},
			wantStatus:  status.Succeeded,
			wantCredits: 1,
			wantInvoice: ledger.InvoiceStatusPaid,
		},
		{
			name:             "success after reversal of an uncredited payment credits",
			statuses:         []string{"reversed", "success"},
			wantStatus:       status.Succeeded,
			wantLastCredited: true,
			wantCredits:      1,
			wantInvoice:      ledger.InvoiceStatusPaid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)

			var last webhook.Result
			for _, s := range tt.statuses {
				last = f.process(t, f.signed(paymentBody(t, s)))
			}

			if last.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", last.Status, tt.wantStatus)
			}
			if last.Credited != tt.wantLastCredited {
				t.Errorf("last delivery Credited = %t, want %t", last.Credited, tt.wantLastCredited)
			}

			txn, _ := f.store.Transaction(testTxnID)
			if txn.Status != tt.wantStatus {
				t.Errorf("stored status = %q, want %q", txn.Status, tt.wantStatus)
			}
			if want := tt.statuses[len(tt.statuses)-1]; txn.ProviderStatus != want {
				t.Errorf("stored provider status = %q, want %q", txn.ProviderStatus, want)
			}
			if got := len(f.store.Credits()); got != tt.wantCredits {
				t.Errorf("credits = %d, want %d", got, tt.wantCredits)
			}
			invoice, _ := f.store.Invoice(f.invoice.ID)
			if invoice.Status != tt.wantInvoice {
				t.Errorf("invoice status = %q, want %q", invoice.Status, tt.wantInvoice)
			}
		})
	}
}

func TestProcessWebhookRejections(t *testing.T) {
	t.Parallel()

	other := signaturetest.NewECDSA(t)

	tests := []struct {
		name        string
		build       func(t *testing.T, f *fixture) webhook.ProcessRequest
		wantErr     error
		wantFields  []string
		wantFetches int32
		wantFinds   int32
	}{
		{
			name: "missing signature",
			build: func(t *testing.T, f *fixture) webhook.ProcessRequest {
				req := f.signed(paymentBody(t, "success"))
				req.Signature = ""
				return req
			},
			wantErr: webhook.ErrMissingSignature,
		},
		{
			name: "blank signature",
			build: func(t *testing.T, f *fixture) webhook.ProcessRequest {
				req := f.signed(paymentBody(t, "success"))
				req.Signature = "   "
				return req
			},
			wantErr: webhook.ErrMissingSignature,
		},
		{
			name: "empty body",
			build: func(_ *testing.T, f *fixture) webhook.ProcessRequest {
				return f.signed(nil)
			},
			wantErr: webhook.ErrMalformedBody,
		},
		{
			name: "body is not json",
			build: func(_ *testing.T, f *fixture) webhook.ProcessRequest {
				return f.signed([]byte("status=success"))
			},
			wantErr: webhook.ErrMalformedBody,
		},
		{
			name: "body is a json array",
			build: func(_ *testing.T, f *fixture) webhook.ProcessRequest {
				return f.signed([]byte(`[{"status":"success"}]`))
			},
			wantErr: webhook.ErrMalformedBody,
		},
		{
			name: "body is json null",
			build: func(_ *testing.T, f *fixture) webhook.ProcessRequest {
				return f.signed([]byte(`null`))
			},
			wantErr: webhook.ErrMalformedBody,
		},
		{
			name: "signature is not base64",
			build: func(t *testing.T, f *fixture) webhook.ProcessRequest {
				req := f.signed(paymentBody(t, "success"))
				req.Signature = "%%%not-base64%%%"
				return req
			},
			wantErr: webhook.ErrAuthenticationFailed,
		},
		{
			name: "signed by another key",
			build: func(t *testing.T, _ *fixture) webhook.ProcessRequest {
				body := paymentBody(t, "success")
				return webhook.ProcessRequest{TransactionID: testTxnID, Body: body, Signature: other.Sign(body)}
			},
			wantErr: webhook.ErrAuthenticationFailed,
			// the failed verification forces one refresh
			wantFetches: 2,
		},
		{
			name: "body tampered after signing",
			build: func(t *testing.T, f *fixture) webhook.ProcessRequest {
				req := f.signed(paymentBody(t, "processing"))
				req.Body = paymentBody(t, "success")
				return req
			},
			wantErr:     webhook.ErrAuthenticationFailed,
			wantFetches: 2,
		},
		{
			name: "missing fields",
			build: func(t *testing.T, f *fixture) webhook.ProcessRequest {
				return f.signed(notification(t, map[string]any{
					"status":    "success",
					"reference": testReference,
				}))
			},
			wantErr:     webhook.ErrMissingFields,
			wantFetches: 1,
			wantFields:  []string{"invoiceId", "finalAmount", "ccy"},
		},
		{
			name: "zero amount",
			build: func(t *testing.T, f *fixture) webhook.ProcessRequest {
				return f.signed(notification(t, map[string]any{
					"status":      "success",
					"reference":   testReference,
					"invoiceId":   "p2_x",
					"finalAmount": 0,
					"ccy":         980,
				}))
			},
			wantErr:     webhook.ErrMissingFields,
			wantFetches: 1,
			wantFields:  []string{"finalAmount"},
		},
		{
			name: "zero final amount does not fall back to amount",
			build: func(t *testing.T, f *fixture) webhook.ProcessRequest {
				return f.signed(notification(t, map[string]any{
					"status":      "success",
					"reference":   testReference,
					"invoiceId":   "p2_x",
					"amount":      4200,
					"finalAmount": 0,
					"ccy":         980,
				}))
			},
			wantErr:     webhook.ErrMissingFields,
			wantFetches: 1,
			wantFields:  []string{"finalAmount"},
		},
		{
			name: "wrongly typed fields",
			build: func(t *testing.T, f *fixture) webhook.ProcessRequest {
				return f.signed(notification(t, map[string]any{
					"status":    200,
					"reference": testReference,
					"invoiceId": "p2_x",
					"amount":    "4200",
					"ccy":       980,
				}))
			},
			wantErr:     webhook.ErrMissingFields,
			wantFetches: 1,
			wantFields:  []string{"status", "finalAmount"},
		},
		{
			name: "invoice not found",
			build: func(t *testing.T, f *fixture) webhook.ProcessRequest {
				return f.signed(notification(t, map[string]any{
					"status":    "success",
					"reference": "unknown",
					"invoiceId": "p2_x",
					"amount":    4200,
					"ccy":       980,
				}))
			},
			wantErr:     webhook.ErrInvoiceNotFound,
			wantFetches: 1,
			wantFinds:   1,
		},
		{
			name: "unsupported currency",
			build: func(t *testing.T, f *fixture) webhook.ProcessRequest {
				return f.signed(notification(t, map[string]any{
					"status":    "success",
					"reference": testReference,
					"invoiceId": "p2_x",
					"amount":    4200,
					"ccy":       840,
				}))
			},
			wantErr:     webhook.ErrUnsupportedCurrency,
			wantFetches: 1,
			wantFinds:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)

			_, err := f.processor.ProcessWebhook(context.Background(), tt.build(t, f))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ProcessWebhook() error = %v, want %v", err, tt.wantErr)
			}

			if tt.wantFields != nil {
				var mfe *webhook.MissingFieldsError
				if !errors.As(err, &mfe) {
					t.Fatalf("error %v is not a *MissingFieldsError", err)
				}
				if diff := cmp.Diff(tt.wantFields, mfe.Fields); diff != "" {
					t.Errorf("missing fields mismatch (-want +got):\n%s", diff)
				}
			}

			if got := f.keys.calls.Load(); got != tt.wantFetches {
				t.Errorf("key fetches = %d, want %d", got, tt.wantFetches)
			}
			if got := f.spy.finds.Load(); got != tt.wantFinds {
				t.Errorf("invoice lookups = %d, want %d", got, tt.wantFinds)
			}
			if got := f.spy.atomically.Load(); got != 0 {
				t.Errorf("ledger units of work = %d, want 0", got)
			}
			if _, ok := f.store.Transaction(testTxnID); ok {
				t.Error("transaction record was created")
			}
			if got := len(f.store.Credits()); got != 0 {
				t.Errorf("credits = %d, want 0", got)
			}
		})
	}
}

func TestProcessWebhookMissingSignatureTouchesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.signed(paymentBody(t, "success"))
	req.Signature = ""

	if _, err := f.processor.ProcessWebhook(context.Background(), req); !errors.Is(err, webhook.ErrMissingSignature) {
		t.Fatalf("ProcessWebhook() error = %v, want ErrMissingSignature", err)
	}
	if got := f.spy.calls(); got != 0 {
		t.Errorf("ledger calls = %d, want 0", got)
	}
}

func TestProcessWebhookKeyUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.keys.set("", errors.New("connection refused"))

	_, err := f.processor.ProcessWebhook(context.Background(), f.signed(paymentBody(t, "success")))
	if !errors.Is(err, webhook.ErrKeyUnavailable) {
		t.Fatalf("ProcessWebhook() error = %v, want ErrKeyUnavailable", err)
	}
	if !errors.Is(err, pubkey.ErrUnavailable) {
		t.Errorf("ProcessWebhook() error = %v, want wrapped pubkey.ErrUnavailable", err)
	}
	if got := f.spy.calls(); got != 0 {
		t.Errorf("ledger calls = %d, want 0", got)
	}
}

func TestProcessWebhookPicksUpRotatedKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// prime the cache with the original key
	f.process(t, f.signed(paymentBody(t, "processing")))

	rotated := signaturetest.NewECDSA(t)
	f.keys.set(rotated.Blob(), nil)

	body := paymentBody(t, "success")
	result := f.process(t, webhook.ProcessRequest{
		TransactionID: testTxnID,
		Body:          body,
		Signature:     rotated.Sign(body),
		RemoteIP:      testRemoteIP,
	})

	if !result.Credited {
		t.Errorf("result = %+v, want credited", result)
	}
	if got := f.keys.calls.Load(); got != 2 {
		t.Errorf("key fetches = %d, want 2", got)
	}
}

func TestProcessWebhookPicksUpRotatedKeyThroughSharedStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	keyStore := storage.NewMemoryKeyStore(f.clock.Now)
	newProcessor := func() *webhook.Processor {
		cache := pubkey.New(pubkey.Shared(keyStore, f.keys.fetch, time.Hour, f.clock.Now),
			pubkey.WithClock(f.clock.Now),
			pubkey.WithTTL(time.Hour),
			pubkey.WithMinRefreshInterval(time.Minute),
		)
		return webhook.NewProcessor(cache, f.spy, webhook.WithClock(f.clock.Now), webhook.WithLedgerTimeout(time.Second))
	}
	replicaA, replicaB := newProcessor(), newProcessor()

	if _, err := replicaA.ProcessWebhook(context.Background(), f.signed(paymentBody(t, "processing"))); err != nil {
		t.Fatalf("ProcessWebhook() error = %v", err)
	}

	rotated := signaturetest.NewECDSA(t)
	f.keys.set(rotated.Blob(), nil)
	f.clock.Advance(2 * time.Minute)

	rotatedReq := func(providerStatus string) webhook.ProcessRequest {
		body := paymentBody(t, providerStatus)
		return webhook.ProcessRequest{
			TransactionID: testTxnID,
			Body:          body,
			Signature:     rotated.Sign(body),
			RemoteIP:      testRemoteIP,
		}
	}

	result, err := replicaA.ProcessWebhook(context.Background(), rotatedReq("success"))
	if err != nil {
		t.Fatalf("ProcessWebhook() with rotated key error = %v", err)
	}
	if !result.Credited || !result.Settled {
		t.Errorf("result = %+v, want credited and settled", result)
	}
	if got := f.keys.calls.Load(); got != 2 {
		t.Errorf("key fetches = %d, want 2", got)
	}

	// the other replica finds the rotated key in the shared store
	if _, err := replicaB.ProcessWebhook(context.Background(), rotatedReq("success")); err != nil {
		t.Fatalf("second replica ProcessWebhook() error = %v", err)
	}
	if got := f.keys.calls.Load(); got != 2 {
		t.Errorf("key fetches after second replica = %d, want 2", got)
	}
	if got := len(f.store.Credits()); got != 1 {
		t.Errorf("credits = %d, want 1", got)
	}
}

func TestProcessWebhookCompletesSeededTransaction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	createdAt := f.clock.Now().Add(-time.Hour)
	f.store.PutTransaction(ledger.Transaction{
		ID:        testTxnID,
		InvoiceID: &f.invoice.ID,
		Amount:    decimal.RequireFromString("42.00"),
		Currency:  "UAH",
		Status:    status.Pending,
		Type:      ledger.TransactionTypePayment,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	})

	result := f.process(t, f.signed(paymentBody(t, "success")))

	if result.PreviousStatus != status.Pending || !result.Credited || !result.Settled {
		t.Errorf("result = %+v, want pending to credited and settled", result)
	}
	txn, _ := f.store.Transaction(testTxnID)
	if !txn.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt = %v, want %v", txn.CreatedAt, createdAt)
	}
	if !txn.UpdatedAt.Equal(f.clock.Now()) {
		t.Errorf("UpdatedAt = %v, want %v", txn.UpdatedAt, f.clock.Now())
	}
	if txn.ProviderTxnID != "p2_9ZgpZVsl3" || txn.Status != status.Succeeded {
		t.Errorf("stored transaction = %+v", txn)
	}
}

func TestProcessWebhookLedgerFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.spy.failWith = errors.New("connection reset")

	_, err := f.processor.ProcessWebhook(context.Background(), f.signed(paymentBody(t, "success")))
	if !errors.Is(err, webhook.ErrLedgerWriteFailed) {
		t.Fatalf("ProcessWebhook() error = %v, want ErrLedgerWriteFailed", err)
	}
}

func TestProcessWebhookLedgerOutlivesCanceledRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// fresh key, so the cache does not need the request context
	f.process(t, f.signed(paymentBody(t, "processing")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.processor.ProcessWebhook(ctx, f.signed(paymentBody(t, "success")))
	if err != nil {
		t.Fatalf("ProcessWebhook() error = %v", err)
	}
	if !result.Credited || !result.Settled {
		t.Errorf("result = %+v, want credited and settled", result)
	}
}
