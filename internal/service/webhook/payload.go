package webhook

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/garrettladley/plata/internal/signature"
	go_json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const (
	fieldStatus      = "status"
	fieldReference   = "reference"
	fieldInvoiceID   = "invoiceId"
	fieldFinalAmount = "finalAmount"
	fieldAmount      = "amount"
	fieldCurrency    = "ccy"
)

var errNotObject = errors.New("body is not a JSON object")

// envelope is a decoded but unauthenticated body. Nothing read from it may
// drive a side effect.
type envelope map[string]go_json.RawMessage

func decodeEnvelope(body []byte) (envelope, error) {
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	var env envelope
	if err := go_json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	// a literal null decodes into a nil map
	if env == nil {
		return nil, errNotObject
	}
	return env, nil
}

func (e envelope) stringField(name string) (string, bool) {
	raw, ok := e[name]
	if !ok {
		return "", false
	}
	var s string
	if err := go_json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// value returns the raw field, treating an explicit null as absent.
func (e envelope) value(name string) ([]byte, bool) {
	raw, ok := e[name]
	if !ok || string(bytes.TrimSpace(raw)) == "null" {
		return nil, false
	}
	return raw, true
}

func (e envelope) intField(name string) (int64, bool) {
	raw, ok := e.value(name)
	if !ok {
		return 0, false
	}
	var n int64
	if err := go_json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// VerifiedPayload is a body whose signature has been checked against the
// provider key. Only verifyPayload constructs one, and its fields are read
// from the exact bytes that were verified.
type VerifiedPayload struct {
	env         envelope
	fingerprint string
}

func verifyPayload(body, sig []byte, key signature.PublicKey) (VerifiedPayload, bool) {
	if !signature.Verify(body, sig, key) {
		return VerifiedPayload{}, false
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return VerifiedPayload{}, false
	}
	return VerifiedPayload{env: env, fingerprint: key.Fingerprint()}, true
}

// KeyFingerprint identifies the key the payload was verified with.
func (p VerifiedPayload) KeyFingerprint() string { return p.fingerprint }

// Notification is the provider's payment status report.
type Notification struct {
	ProviderStatus string
	Reference      string
	ProviderTxnID  string
	// AmountMinor is finalAmount when present, amount otherwise.
	AmountMinor  int64
	CurrencyCode int
}

// Notification extracts the required fields, returning a
// *MissingFieldsError naming every one that is absent, empty or non-positive.
func (p VerifiedPayload) Notification() (Notification, error) {
	var (
		n       Notification
		missing []string
		ok      bool
	)

	if n.ProviderStatus, ok = p.env.stringField(fieldStatus); !ok {
		missing = append(missing, fieldStatus)
	}
	if n.Reference, ok = p.env.stringField(fieldReference); !ok {
		missing = append(missing, fieldReference)
	}
	if n.ProviderTxnID, ok = p.env.stringField(fieldInvoiceID); !ok {
		missing = append(missing, fieldInvoiceID)
	}

	// amount is only consulted when finalAmount is absent or null
	n.AmountMinor, ok = p.env.intField(fieldFinalAmount)
	if _, present := p.env.value(fieldFinalAmount); !present {
		n.AmountMinor, ok = p.env.intField(fieldAmount)
	}
	if !ok || n.AmountMinor <= 0 {
		missing = append(missing, fieldFinalAmount)
	}

	code, ok := p.env.intField(fieldCurrency)
	if !ok || code <= 0 {
		missing = append(missing, fieldCurrency)
	}
	n.CurrencyCode = int(code)

	if len(missing) > 0 {
		return Notification{}, &MissingFieldsError{Fields: missing}
	}
	return n, nil
}

// identifiers returns the reference and provider transaction id of an
// unauthenticated body, for logging only.
func (e envelope) identifiers() (reference, providerTxnID string) {
	reference, _ = e.stringField(fieldReference)
	providerTxnID, _ = e.stringField(fieldInvoiceID)
	return reference, providerTxnID
}

// Currency converts provider minor units for one ISO 4217 currency.
type Currency struct {
	Code     string
	Numeric  int
	Exponent int32
}

// Major converts an amount in minor units, rounded to the currency's
// exponent.
func (c Currency) Major(minor int64) decimal.Decimal {
	return decimal.New(minor, -c.Exponent).Round(c.Exponent)
}

var currencies = map[int]Currency{
	980: {Code: "UAH", Numeric: 980, Exponent: 2},
}

func lookupCurrency(numeric int) (Currency, error) {
	c, ok := currencies[numeric]
	if !ok {
		return Currency{}, fmt.Errorf("%w: %d", ErrUnsupportedCurrency, numeric)
	}
	return c, nil
}
