package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds configuration for the fixed-window request throttle.
type RateLimitConfig struct {
	// MaxRequests allowed per client key within Window.
	MaxRequests int
	Window      time.Duration
	// KeyPrefix namespaces the redis counters, e.g. "rl:auth".
	KeyPrefix string
}

// DefaultRateLimitConfig returns the throttle defaults for public auth endpoints.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 20,
		Window:      time.Minute,
		KeyPrefix:   "rl:auth",
	}
}

// RateLimit returns middleware that throttles requests per client IP using a
// redis fixed-window counter (INCR + EXPIRE on first hit). If redis is
// unavailable the request is allowed through: the throttle is a hardening
// layer, not a correctness dependency.
func RateLimit(client *redis.Client, cfg RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.KeyPrefix + ":" + ClientIP(r)

			count, err := client.Incr(r.Context(), key).Result()
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if count == 1 {
				if err := client.Expire(r.Context(), key, cfg.Window).Err(); err != nil {
					logger.WarnContext(r.Context(), "rate limiter expire failed",
						slog.String("key", key),
						slog.String("error", err.Error()),
					)
				}
			}

			if count > int64(cfg.MaxRequests) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", cfg.Window.String())
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"code":    "RATE_LIMITED",
					"message": "too many requests, slow down",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the originating client IP, honoring the first entry of
// X-Forwarded-For when present (the service runs behind the gateway).
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
