package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Davincible/omnitalk-relay/internal/config"
)

const (
	limiterIdleTTL   = 10 * time.Minute
	limiterPruneSize = 1024
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client address.
type RateLimiter struct {
	config *config.Manager
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func NewRateLimiter(config *config.Manager, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		config:  config,
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

func NewRateLimitMiddleware(config *config.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	return NewRateLimiter(config, logger).Middleware
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limits := rl.config.Get().RateLimit
		if !limits.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		client := clientAddr(r)
		if !rl.allow(client, limits) {
			rl.logger.Warn("Rate limit exceeded", "client", client, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(client string, limits config.RateLimit) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limit, burst := rate.Limit(limits.RequestsPerSecond), max(1, limits.Burst)

	entry, ok := rl.clients[client]
	if !ok {
		if len(rl.clients) >= limiterPruneSize {
			rl.prune(now)
		}

		entry = &clientLimiter{limiter: rate.NewLimiter(limit, burst)}
		rl.clients[client] = entry
	}

	// Existing buckets follow config changes.
	if entry.limiter.Limit() != limit {
		entry.limiter.SetLimitAt(now, limit)
	}
	if entry.limiter.Burst() != burst {
		entry.limiter.SetBurstAt(now, burst)
	}

	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1)
}

// prune must be called with rl.mu held.
func (rl *RateLimiter) prune(now time.Time) {
	for client, entry := range rl.clients {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(rl.clients, client)
		}
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
