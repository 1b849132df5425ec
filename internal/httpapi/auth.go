package httpapi

import (
	"crypto/subtle"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	. "github.com/roelfdiedericks/clawrelay/internal/logging"
)

// tokenAuth enforces the bearer token when one is configured. Browsers
// cannot set headers on websocket upgrades, so ?token= is accepted too.
func (s *Server) tokenAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			handler(w, r)
			return
		}

		clientIP := getClientIP(r)
		if wait := s.authLimiter.retryAfter(clientIP); wait > 0 {
			L_warn("http: rate limited", "ip", clientIP, "retryAfter", wait)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			http.Error(w, "Too many failed attempts. Try again later.", http.StatusTooManyRequests)
			return
		}

		token := r.URL.Query().Get("token")
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="clawrelay"`)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			s.authLimiter.fail(clientIP)
			L_warn("http: auth failed - bad token", "ip", clientIP)
			w.Header().Set("WWW-Authenticate", `Bearer realm="clawrelay"`)
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}

		s.authLimiter.clear(clientIP)
		handler(w, r)
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (if behind reverse proxy)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
