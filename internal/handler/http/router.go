package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/skillbridge/auth-service/internal/service"
	"github.com/skillbridge/auth-service/internal/token"
	"github.com/skillbridge/auth-service/pkg/health"
	"github.com/skillbridge/auth-service/pkg/middleware"
)

// RouterConfig holds the dependencies and settings for the HTTP router.
type RouterConfig struct {
	AuthService   *service.AuthService
	Codec         *token.Codec
	HealthHandler *health.Handler
	RedisClient   *redis.Client
	RateLimit     middleware.RateLimitConfig
	CORS          CORSConfig
	Logger        *slog.Logger
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS(cfg.CORS))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.PrometheusMetrics("auth"))
	r.Use(middleware.Tracing("auth"))
	r.Use(middleware.RequestLogger(cfg.Logger))

	// Health check endpoints
	r.Get("/health/live", cfg.HealthHandler.LivenessHandler())
	r.Get("/health/ready", cfg.HealthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	authHandler := NewAuthHandler(cfg.AuthService, cfg.Logger)

	// Public auth endpoints, rate limited per client IP when Redis is
	// available.
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		if cfg.RedisClient != nil {
			r.Use(middleware.RateLimit(cfg.RedisClient, cfg.RateLimit, cfg.Logger))
		}

		r.Post("/signup", authHandler.Signup)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)
		r.Post("/forgot-password", authHandler.ForgotPassword)
		r.Post("/reset-password", authHandler.ResetPassword)
	})

	// Token validator that bridges to the token codec.
	tokenValidator := func(tokenString string) (*middleware.Claims, error) {
		claims, err := cfg.Codec.ValidateAccessToken(tokenString)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID: claims.AccountID,
			Email:  claims.Email,
			Role:   claims.Role,
		}, nil
	}

	// Authenticated auth endpoints
	r.Route("/api/v1/auth/change-password", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(tokenValidator))

		r.Post("/", authHandler.ChangePassword)
	})

	// Account endpoints (auth required)
	accountHandler := NewAccountHandler(cfg.AuthService)
	r.Route("/api/v1/accounts", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(tokenValidator))

		r.Get("/me", accountHandler.Me)
	})

	return r
}
