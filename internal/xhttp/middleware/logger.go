package middleware

import (
	"log/slog"
	"net/http"

	"github.com/garrettladley/plata/internal/xcontext"
	"github.com/garrettladley/plata/internal/xhttp"
	"github.com/garrettladley/plata/internal/xslog"
)

// Logger puts base, tagged with the request id and client IP, into the
// request context. Must run after RequestID.
func Logger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(xslog.IP(xhttp.GetRequestIP(r)))
			if id, ok := xcontext.GetRequestID(r.Context()); ok {
				logger = logger.With(xslog.RequestID(id))
			}
			next.ServeHTTP(w, r.WithContext(xslog.WithLogger(r.Context(), logger)))
		})
	}
}
