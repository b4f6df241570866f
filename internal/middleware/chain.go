package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Davincible/omnitalk-relay/internal/config"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	CORS      Middleware
	Logging   Middleware
	RateLimit Middleware
	Auth      Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(config *config.Manager, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		CORS:      NewCORSMiddleware(config),
		Logging:   NewLoggingMiddleware(logger),
		RateLimit: NewRateLimitMiddleware(config, logger),
		Auth:      NewAuthMiddleware(config, logger),
	}
}

// OuterChain wraps the whole router. CORS sits here so preflight requests
// are answered before method-specific routes can reject them.
func (ms MiddlewareSet) OuterChain() Chain {
	return New(
		ms.CORS,
	)
}

// DefaultChain returns the standard middleware chain for API endpoints
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(
		ms.Logging,   // Log requests first
		ms.RateLimit, // Shed load before auth work
		ms.Auth,      // Authenticate last
	)
}

// HealthChain returns the middleware chain for health endpoints (no auth)
func (ms MiddlewareSet) HealthChain() Chain {
	return New(
		ms.Logging,
	)
}

// PublicChain returns the middleware chain for static assets (no auth, no logging)
func (ms MiddlewareSet) PublicChain() Chain {
	return New(
		ms.RateLimit,
	)
}
