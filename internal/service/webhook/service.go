package webhook

import (
	"context"
	"errors"
	"strings"

	"github.com/garrettladley/plata/internal/status"
)

var (
	ErrMissingSignature     = errors.New("missing signature header")
	ErrMalformedBody        = errors.New("malformed body")
	ErrKeyUnavailable       = errors.New("provider public key unavailable")
	ErrAuthenticationFailed = errors.New("signature verification failed")
	ErrMissingFields        = errors.New("missing required fields")
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrUnsupportedCurrency  = errors.New("unsupported currency")
	ErrLedgerWriteFailed    = errors.New("ledger write failed")
)

// MissingFieldsError lists the required notification fields that were
// absent or unusable. It matches ErrMissingFields.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return ErrMissingFields.Error() + ": " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldsError) Is(target error) bool { return target == ErrMissingFields }

type ProcessRequest struct {
	// TransactionID is the local transaction id carried in the callback
	// path, not the provider's id.
	TransactionID int64
	Body          []byte
	Signature     string
	RemoteIP      string
}

type Result struct {
	TransactionID  int64
	Status         status.Status
	PreviousStatus status.Status
	// Credited and Settled report side effects of this delivery only; a
	// redelivered success has both false.
	Credited bool
	Settled  bool
}

type Service interface {
	// ProcessWebhook authenticates a provider notification and applies it to
	// the ledger. Every returned error matches exactly one of the package
	// sentinels. Rejections before the ledger step leave the ledger untouched.
	ProcessWebhook(ctx context.Context, req ProcessRequest) (Result, error)
}
