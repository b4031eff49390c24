package xslog

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/garrettladley/plata/internal/version"
	"github.com/garrettladley/plata/internal/xhttp"
)

const (
	keyError = "error"
)

func Error(err error) slog.Attr {
	return slog.String(keyError, err.Error())
}

func RequestID(requestID string) slog.Attr {
	const requestIDKey = "request_id"
	return slog.String(requestIDKey, requestID)
}

func Stack() slog.Attr {
	const stackKey = "stack"
	return slog.String(stackKey, string(debug.Stack()))
}

func HTTPStatus(status int) slog.Attr {
	const statusKey = "status"
	return slog.Int(statusKey, status)
}

func Duration(duration time.Duration) slog.Attr {
	const durationKey = "duration"
	return slog.Duration(durationKey, duration)
}

func RequestMethod(r *http.Request) slog.Attr {
	const methodKey = "method"
	return slog.String(methodKey, r.Method)
}

func RequestPath(r *http.Request) slog.Attr {
	const pathKey = "path"
	return slog.String(pathKey, r.URL.Path)
}

func IP(ip string) slog.Attr {
	const ipKey = "ip"
	return slog.String(ipKey, ip)
}

func RequestIP(r *http.Request) slog.Attr {
	return IP(xhttp.GetRequestIP(r))
}

func Version() slog.Attr {
	const versionKey = "version"
	return slog.String(versionKey, version.Get())
}

func Reference(reference string) slog.Attr {
	const referenceKey = "reference"
	return slog.String(referenceKey, reference)
}

func ProviderTxnID(id string) slog.Attr {
	const providerTxnIDKey = "provider_txn_id"
	return slog.String(providerTxnIDKey, id)
}

func TransactionID(id int64) slog.Attr {
	const transactionIDKey = "transaction_id"
	return slog.Int64(transactionIDKey, id)
}

func InvoiceID(id int64) slog.Attr {
	const invoiceIDKey = "invoice_id"
	return slog.Int64(invoiceIDKey, id)
}

func ClientID(id int64) slog.Attr {
	const clientIDKey = "client_id"
	return slog.Int64(clientIDKey, id)
}

func Status(status string) slog.Attr {
	const statusKey = "tx_status"
	return slog.String(statusKey, status)
}

func PreviousStatus(status string) slog.Attr {
	const previousStatusKey = "previous_tx_status"
	return slog.String(previousStatusKey, status)
}

func ProviderStatus(status string) slog.Attr {
	const providerStatusKey = "provider_status"
	return slog.String(providerStatusKey, status)
}

func Amount(amount string) slog.Attr {
	const amountKey = "amount"
	return slog.String(amountKey, amount)
}

func Currency(code int) slog.Attr {
	const currencyKey = "ccy"
	return slog.Int(currencyKey, code)
}

func KeyFingerprint(fingerprint string) slog.Attr {
	const keyFingerprintKey = "key_fingerprint"
	return slog.String(keyFingerprintKey, fingerprint)
}

func KeyAge(age time.Duration) slog.Attr {
	const keyAgeKey = "key_age"
	return slog.Duration(keyAgeKey, age)
}

func Driver(driver string) slog.Attr {
	const driverKey = "driver"
	return slog.String(driverKey, driver)
}

func Migration(name string) slog.Attr {
	const migrationKey = "migration"
	return slog.String(migrationKey, name)
}
