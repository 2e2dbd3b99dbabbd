// Package shield provides the HTTP middleware in front of the relay: security
// headers, request tracing, HEAD handling and per-IP rate limiting of
// websocket joins.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.RelayStack(shield.NewRateLimiter(rules)) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// RelayStack returns the standard middleware stack for the relay.
// Order: HeadToGet → SecurityHeaders → TraceID → RateLimiter.
// A nil limiter is skipped.
func RelayStack(rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		TraceID,
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
