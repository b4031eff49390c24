package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/garrettladley/plata/internal/server/handler"
	servermw "github.com/garrettladley/plata/internal/server/middleware"
	"github.com/garrettladley/plata/internal/service/webhook"
	"github.com/garrettladley/plata/internal/storage"
	"github.com/garrettladley/plata/internal/xhttp/middleware"
)

const (
	WebhookPath = "/webhooks/plata/{transactionID}"
	HealthPath  = "/health"
)

type Deps struct {
	Webhook webhook.Service
	Ledger  handler.Pinger
	// Limiter guards the webhook route per client IP. Nil disables it.
	Limiter storage.RateLimiter
	Logger  *slog.Logger

	RequestIDOptions []middleware.RequestIDOption
}

// NewHandler builds the routing tree with the shared middleware chain.
func NewHandler(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	webhookHandler := http.Handler(http.HandlerFunc(handler.NewWebhook(d.Webhook).HandleWebhook))
	if d.Limiter != nil {
		webhookHandler = servermw.RateLimit(d.Limiter)(webhookHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("POST "+WebhookPath, webhookHandler)
	mux.HandleFunc("GET "+HealthPath, handler.NewHealth(d.Ledger).HandleHealth)

	return middleware.Chain(mux,
		middleware.Recovery,
		middleware.RequestID(d.RequestIDOptions...),
		middleware.Logger(logger),
		middleware.Logging,
		middleware.SecurityHeaders,
	)
}

// New returns an http.Server with the timeouts used in production.
func New(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
