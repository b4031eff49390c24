package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/garrettladley/plata/internal/version"
	"github.com/garrettladley/plata/internal/xerrors"
	"github.com/garrettladley/plata/internal/xhttp"
)

const healthTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type Health struct {
	db Pinger
}

func NewHealth(db Pinger) *Health {
	return &Health{db: db}
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// HandleHealth handles GET /health requests.
func (h *Health) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		xerrors.WriteError(r.Context(), w, xerrors.ServiceUnavailable(
			xerrors.WithCode("ledger_unavailable"),
			xerrors.WithMessage("ledger database unreachable"),
			xerrors.WithCause(err),
		))
		return
	}

	xhttp.WriteOK(w, healthResponse{Status: "ok", Version: version.Get()})
}
