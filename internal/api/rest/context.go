package rest

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyPrincipal contextKey = "principal"
	contextKeyToken     contextKey = "token"
)

// RequestIDFromContext returns the correlation id assigned by the
// request-id middleware, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// PrincipalFromContext returns the authenticated principal, or nil on
// unauthenticated routes.
func PrincipalFromContext(ctx context.Context) *principal.Principal {
	if p, ok := ctx.Value(contextKeyPrincipal).(*principal.Principal); ok {
		return p
	}
	return nil
}

func tokenFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(contextKeyToken).(string); ok {
		return t
	}
	return ""
}

// clientIP resolves the caller address. X-Forwarded-For entries are
// walked right to left, skipping trusted proxies, so a client cannot
// spoof its address by sending the header itself.
func clientIP(r *http.Request, trustedProxies []string) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}
	if !isTrustedProxy(remote, trustedProxies) {
		return remote
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remote
	}
	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !isTrustedProxy(hop, trustedProxies) {
			return hop
		}
	}
	return remote
}

func isTrustedProxy(ip string, trusted []string) bool {
	for _, t := range trusted {
		if t == ip {
			return true
		}
		if strings.Contains(t, "/") {
			if _, cidr, err := net.ParseCIDR(t); err == nil {
				if parsed := net.ParseIP(ip); parsed != nil && cidr.Contains(parsed) {
					return true
				}
			}
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
