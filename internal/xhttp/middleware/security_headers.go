package middleware

import (
	"net/http"

	"github.com/garrettladley/plata/internal/xhttp"
)

// SecurityHeaders sets headers for a JSON/text API that is never framed,
// rendered or cached. HSTS is only sent over TLS, directly or behind a
// proxy that reports it.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set(xhttp.XContentTypeOpts, "nosniff")
		h.Set(xhttp.XFrameOpts, "DENY")
		h.Set(xhttp.ReferrerPolicy, "no-referrer")
		h.Set(xhttp.ContentSecurityPolicy, "default-src 'none'; frame-ancestors 'none'")
		h.Set(xhttp.CacheControl, "no-store")
		if r.TLS != nil || r.Header.Get(xhttp.XForwardedProto) == "https" {
			h.Set(xhttp.StrictTransportSecurity, "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
