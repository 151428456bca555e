package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/smartpark/sp-park/internal/ratelimit"
)

// RateLimitMiddleware applies one per-client limit to every protected
// route. The limiter implementation decides whether the window lives in
// Redis or in process memory.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	config  ratelimit.LimitConfig
	onDrop  func()
}

func NewRateLimitMiddleware(l ratelimit.Limiter, c ratelimit.LimitConfig, onDrop func()) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, config: c, onDrop: onDrop}
}

func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (m *RateLimitMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := "rl:client:" + clientKey(r)
		decision, err := m.limiter.Check(r.Context(), key, m.config)
		if err != nil {
			// Counting is best effort; an unreachable Redis must not take
			// the ingest path down with it.
			log.Printf("[RateLimit] check failed, failing open: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

		if !decision.Allowed {
			if m.onDrop != nil {
				m.onDrop()
			}
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
