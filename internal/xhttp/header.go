package xhttp

import (
	"fmt"
	"net/http"
	"time"
)

const (
	XForwardedFor           = "X-Forwarded-For"
	XForwardedProto         = "X-Forwarded-Proto"
	XRequestID              = "X-Request-ID"
	XContentTypeOpts        = "X-Content-Type-Options"
	XFrameOpts              = "X-Frame-Options"
	ReferrerPolicy          = "Referrer-Policy"
	ContentSecurityPolicy   = "Content-Security-Policy"
	StrictTransportSecurity = "Strict-Transport-Security"
	CacheControl            = "Cache-Control"
	XRateLimitReason        = "X-RateLimit-Reason"
)

const ContentType = "Content-Type"

func SetHeaderRequestID(w http.ResponseWriter, requestID string) {
	w.Header().Set(XRequestID, requestID)
}

func SetHeaderContentTypeApplicationJSON(w http.ResponseWriter) {
	const applicationJSON = "application/json"
	w.Header().Set(ContentType, applicationJSON)
}

func SetHeaderContentTypeTextPlain(w http.ResponseWriter) {
	const textPlain = "text/plain; charset=utf-8"
	w.Header().Set(ContentType, textPlain)
}

func SetHeaderRetryAfter(w http.ResponseWriter, retryAfter time.Duration) {
	const retryAfterHeader = "Retry-After"
	retryAfterSeconds := int(retryAfter.Seconds())
	w.Header().Set(retryAfterHeader, fmt.Sprintf("%d", retryAfterSeconds))
}
