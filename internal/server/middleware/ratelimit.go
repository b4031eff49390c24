package middleware

import (
	"net/http"

	"github.com/garrettladley/plata/internal/storage"
	"github.com/garrettladley/plata/internal/xerrors"
	"github.com/garrettladley/plata/internal/xhttp"
	"github.com/garrettladley/plata/internal/xslog"
)

// RateLimit applies per-IP rate limiting. Limiter failures are logged and
// the request is let through so a Redis outage does not block provider
// deliveries.
func RateLimit(limiter storage.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := xhttp.GetRequestIP(r)

			result, err := limiter.Allow(ctx, ip)
			if err != nil {
				xslog.FromContext(ctx).WarnContext(ctx, "rate limit check failed, allowing request",
					xslog.ErrorGroup(err),
					xslog.IP(ip),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				xerrors.WriteError(ctx, w, xerrors.TooManyRequests(
					xerrors.WithCode("rate_limited"),
					xerrors.WithRetryAfter(result.RetryAfter),
					xerrors.WithReason("ip_rate_limit"),
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
