package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts client ip from common headers or RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// Request carries caller details an application service attaches to audit entries.
type Request struct {
	IP        string
	UserAgent string
}

// RequestFrom extracts audit request details.
func RequestFrom(r *http.Request) Request {
	if r == nil {
		return Request{}
	}
	return Request{IP: ClientIP(r), UserAgent: r.UserAgent()}
}

type requestKey struct{}

// WithRequest stores request details in context.
func WithRequest(ctx context.Context, req Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// RequestFromContext returns request details stored by WithRequest.
func RequestFromContext(ctx context.Context) Request {
	if ctx == nil {
		return Request{}
	}
	req, _ := ctx.Value(requestKey{}).(Request)
	return req
}

// Middleware attaches request details to every request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRequest(r.Context(), RequestFrom(r))))
	})
}
