// Package reqctx captures transport metadata from inbound HTTP requests so
// it can be attached to security events.
package reqctx

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/upb/security-audit/models"
)

// Header names read from inbound requests
const (
	HeaderForwardedFor   = "X-Forwarded-For"
	HeaderRealIP         = "X-Real-IP"
	HeaderCFConnectingIP = "CF-Connecting-IP"
	HeaderRequestID      = "X-Request-ID"
	HeaderCorrelationID  = "X-Correlation-ID"
	HeaderSessionID      = "X-Session-ID"
)

// FromHTTP extracts request metadata. A nil request yields an empty context.
func FromHTTP(r *http.Request) models.RequestContext {
	if r == nil {
		return models.RequestContext{}
	}

	rc := models.RequestContext{
		IPAddress:     ClientIP(r),
		UserAgent:     strings.TrimSpace(r.UserAgent()),
		RequestID:     strings.TrimSpace(r.Header.Get(HeaderRequestID)),
		HTTPMethod:    r.Method,
		CorrelationID: strings.TrimSpace(r.Header.Get(HeaderCorrelationID)),
		SessionID:     strings.TrimSpace(r.Header.Get(HeaderSessionID)),
	}
	if rc.RequestID == "" {
		rc.RequestID = middleware.GetReqID(r.Context())
	}
	if r.URL != nil {
		rc.Route = r.URL.Path
	}
	return rc
}

// ClientIP returns the originating client address. The first entry of
// X-Forwarded-For wins, then X-Real-IP, then CF-Connecting-IP, then the
// connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get(HeaderForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	for _, h := range []string{HeaderRealIP, HeaderCFConnectingIP} {
		if ip := strings.TrimSpace(r.Header.Get(h)); ip != "" {
			return ip
		}
	}
	if r.RemoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
