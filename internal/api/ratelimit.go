package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// visitorTTL is how long an idle client's limiter is kept.
const visitorTTL = 10 * time.Minute

// rateLimiter hands out a token bucket per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors *cache.Cache
	rps      rate.Limit
	burst    int
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		visitors: cache.New(visitorTTL, visitorTTL),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	var limiter *rate.Limiter
	if v, found := rl.visitors.Get(ip); found {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
	}
	// Sliding expiry.
	rl.visitors.Set(ip, limiter, cache.DefaultExpiration)
	return limiter.Allow()
}

// rateLimit rejects clients over their budget. Health checks are never limited.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" && r.Method != http.MethodOptions {
			ip := clientIP(r)
			if !s.limiter.allow(ip) {
				slog.Warn("Server.rateLimit: request rejected", "client_ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				writeJSONResponse(w, http.StatusTooManyRequests, models.Error("Too many requests, please slow down"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, then the connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
