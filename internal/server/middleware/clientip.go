package middleware

import (
	"net"
	"net/http"
	"strings"
)

// UnknownIP is returned when no client address can be determined.
const UnknownIP = "unknown"

// ClientIP returns the caller address: CF-Connecting-IP, then the first hop of
// X-Forwarded-For, then X-Real-IP, then the connection peer.
func ClientIP(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); v != "" {
		return v
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		if i := strings.Index(v, ","); i >= 0 {
			v = v[:i]
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	if r.RemoteAddr == "" {
		return UnknownIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
