package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/djesus888/Tapclic-sub000/internal/api/middleware"
	"github.com/djesus888/Tapclic-sub000/internal/auth"
	"github.com/djesus888/Tapclic-sub000/internal/config"
	"github.com/djesus888/Tapclic-sub000/internal/handlers"
	"github.com/djesus888/Tapclic-sub000/internal/relay"
)

// NewRouter creates and configures the HTTP router. redisClient may be nil
// when Redis is not configured.
func NewRouter(cfg *config.Config, logger zerolog.Logger, hub *relay.Hub, verifier *auth.Verifier, redisClient *redis.Client) *chi.Mux {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	h := handlers.NewHandler(hub, verifier, redisClient, cfg.AllowedOrigins, logger)

	// The websocket endpoint stays outside the HTTP middleware stack: body
	// caps and the metrics response wrapper break the upgrade hijack.
	r.Get("/ws", h.ServeWS)

	r.Group(func(r chi.Router) {
		// Metrics middleware (first to capture all requests)
		r.Use(middleware.Metrics)

		// Security middleware (order matters!)
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
		r.Use(middleware.ValidateContentType)

		r.Use(middleware.Logger(logger))

		// CORS for the marketplace backend and browser clients
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		// Metrics endpoint (for Prometheus scraping)
		r.Handle("/metrics", promhttp.Handler())

		r.Get("/", h.Root)
		r.Get("/health", h.Health)
		r.Get("/stats", h.Stats)

		// Ingress routes, capped at the producer request budget
		r.Group(func(r chi.Router) {
			limiter := middleware.NewRateLimiter(redisClient, logger, middleware.RateLimiterConfig{
				PerMinute: cfg.IngressPerMinute,
				Whitelist: cfg.RateLimitWhitelist,
			})
			r.Use(limiter.Middleware)

			r.Post("/notifications", h.SendNotification)
			r.Post("/events", h.EmitEvent)
		})
	})

	return r
}
