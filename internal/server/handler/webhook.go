package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/garrettladley/plata/internal/service/webhook"
	"github.com/garrettladley/plata/internal/xerrors"
	"github.com/garrettladley/plata/internal/xhttp"
)

const (
	headerSignature    = "X-Sign"
	pathTransactionID  = "transactionID"
	maxWebhookBodySize = 1 << 20
)

type Webhook struct {
	service webhook.Service
}

func NewWebhook(service webhook.Service) *Webhook {
	return &Webhook{service: service}
}

// HandleWebhook handles POST /webhooks/plata/{transactionID} requests.
func (h *Webhook) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	transactionID, err := strconv.ParseInt(r.PathValue(pathTransactionID), 10, 64)
	if err != nil || transactionID <= 0 {
		xerrors.WriteError(ctx, w, xerrors.BadRequest(
			xerrors.WithCode("invalid_transaction_id"),
			xerrors.WithMessage("transaction id must be a positive integer"),
		))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			xerrors.WriteError(ctx, w, xerrors.BadRequest(
				xerrors.WithCode("malformed_body"),
				xerrors.WithMessage("request body too large"),
			))
			return
		}
		xerrors.WriteError(ctx, w, xerrors.BadRequest(
			xerrors.WithCode("malformed_body"),
			xerrors.WithMessage("failed to read request body"),
			xerrors.WithCause(err),
		))
		return
	}

	_, err = h.service.ProcessWebhook(ctx, webhook.ProcessRequest{
		TransactionID: transactionID,
		Body:          body,
		Signature:     r.Header.Get(headerSignature),
		RemoteIP:      xhttp.GetRequestIP(r),
	})
	if err != nil {
		xerrors.WriteError(ctx, w, toHTTPError(err))
		return
	}

	xhttp.WriteText(w, http.StatusOK, "OK")
}

// toHTTPError maps rejections to statuses the provider retries on (5xx)
// or gives up on (4xx).
func toHTTPError(err error) *xerrors.Error {
	var missing *webhook.MissingFieldsError
	switch {
	case errors.Is(err, webhook.ErrMissingSignature):
		return xerrors.Unauthorized(xerrors.WithCode("missing_signature"), xerrors.WithMessage("missing X-Sign header"))
	case errors.Is(err, webhook.ErrMalformedBody):
		return xerrors.BadRequest(xerrors.WithCode("malformed_body"), xerrors.WithMessage("body must be a JSON object"), xerrors.WithCause(err))
	case errors.Is(err, webhook.ErrKeyUnavailable):
		return xerrors.ServiceUnavailable(xerrors.WithCode("key_unavailable"), xerrors.WithMessage("provider public key unavailable"), xerrors.WithCause(err))
	case errors.Is(err, webhook.ErrAuthenticationFailed):
		return xerrors.Unauthorized(xerrors.WithCode("invalid_signature"), xerrors.WithMessage("invalid signature"))
	case errors.As(err, &missing):
		fields := make(map[string]string, len(missing.Fields))
		for _, f := range missing.Fields {
			fields[f] = "required"
		}
		return xerrors.Validation(fields, xerrors.WithCode("missing_fields"), xerrors.WithMessage("missing required fields"))
	case errors.Is(err, webhook.ErrInvoiceNotFound):
		return xerrors.NotFound(xerrors.WithCode("invoice_not_found"), xerrors.WithMessage("invoice not found"), xerrors.WithCause(err))
	case errors.Is(err, webhook.ErrUnsupportedCurrency):
		return xerrors.Validation(nil, xerrors.WithCode("unsupported_currency"), xerrors.WithMessage("unsupported currency"), xerrors.WithCause(err))
	default:
		return xerrors.Internal(xerrors.WithCode("ledger_write_failed"), xerrors.WithMessage("failed to process webhook"), xerrors.WithCause(err))
	}
}
