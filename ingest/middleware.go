package ingest

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// APIKeyMiddleware requires a valid X-API-Key header on every request,
// grounded on auth_middleware.py's verify_api_key. An empty configured key
// is refused outright rather than disabling auth, unlike the teacher's
// TokenAuthMiddleware: an ingestion endpoint that accepts arbitrary lines
// into the event store has no safe "auth disabled" mode.
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				http.Error(w, "API key required. Provide X-API-Key header.", http.StatusUnauthorized)
				return
			}
			if apiKey == "" || provided != apiKey {
				http.Error(w, "invalid API key", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientWindow tracks one client's request count within the current
// fixed window, mirroring rate_limit.py's {ip: (count, reset_time)} store.
type clientWindow struct {
	count     int
	resetTime time.Time
}

// RateLimiter is an in-process fixed-window limiter. It is deliberately not
// backed by shared storage: a restart resetting every client's window, and
// limits not being shared across replicas, matches the original's
// single-process scope and keeps this concern separate from the durable,
// sqlite-backed per-alert notification rate limiting used elsewhere.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration
}

func NewRateLimiter(requestsPerWindow int, window time.Duration) *RateLimiter {
	if requestsPerWindow <= 0 {
		requestsPerWindow = 100
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &RateLimiter{
		clients: make(map[string]*clientWindow),
		limit:   requestsPerWindow,
		window:  window,
	}
}

// Allow reports whether clientKey may make one more request in the current
// window, incrementing its count as a side effect.
func (rl *RateLimiter) Allow(clientKey string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.clients[clientKey]
	if !ok || now.After(w.resetTime) {
		w = &clientWindow{count: 0, resetTime: now.Add(rl.window)}
		rl.clients[clientKey] = w
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Middleware scopes rate limiting to the /ingest route, matching
// rate_limit.py's path prefix check.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientKey := clientIP(r)
		if !rl.Allow(clientKey, time.Now()) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
