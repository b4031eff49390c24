package middleware

import (
	"net/http"

	"github.com/garrettladley/plata/internal/xcontext"
	"github.com/garrettladley/plata/internal/xhttp"
	"github.com/google/uuid"
)

type requestIDConfig struct {
	newID        func() string
	reuseInbound bool
}

type RequestIDOption func(*requestIDConfig)

func WithIDGenerator(fn func() string) RequestIDOption {
	return func(c *requestIDConfig) { c.newID = fn }
}

// WithInboundRequestID reuses an X-Request-ID set by the edge proxy when it
// is a well-formed UUID, so logs correlate across hops.
func WithInboundRequestID() RequestIDOption {
	return func(c *requestIDConfig) { c.reuseInbound = true }
}

func RequestID(opts ...RequestIDOption) func(http.Handler) http.Handler {
	cfg := requestIDConfig{newID: uuid.NewString}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if cfg.reuseInbound {
				if inbound, err := uuid.Parse(r.Header.Get(xhttp.XRequestID)); err == nil {
					id = inbound.String()
				}
			}
			if id == "" {
				id = cfg.newID()
			}

			ctx := xcontext.SetRequestID(r.Context(), id)
			xhttp.SetHeaderRequestID(w, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
