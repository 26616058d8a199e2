package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/movario/moving-ai-platform/internal/conversation"
	httpmiddleware "github.com/movario/moving-ai-platform/internal/http/middleware"
	"github.com/movario/moving-ai-platform/internal/observability/metrics"
	"github.com/movario/moving-ai-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger              *logging.Logger
	ConversationHandler *conversation.Handler
	WebchatHandler      http.Handler
	WidgetHandler       http.Handler
	MetricsHandler      http.Handler
	HTTPMetrics         *metrics.HTTPMetrics
	HealthHandler       http.HandlerFunc
	CORSAllowedOrigins  []string

	// RateLimitPerSecond bounds per-IP request rate on the tenant API; zero
	// disables limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.HTTPMetrics != nil {
		r.Use(cfg.HTTPMetrics.Middleware)
	}

	// Public endpoints (health, metrics, chat widget).
	r.Group(func(public chi.Router) {
		if cfg.HealthHandler != nil {
			public.Get("/health", cfg.HealthHandler)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		// The websocket widget carries its tenant in the handshake payload, not
		// in a header browsers cannot set.
		if cfg.WebchatHandler != nil {
			public.Handle("/chat/ws", cfg.WebchatHandler)
		}
		if cfg.WidgetHandler != nil {
			public.Handle("/chat/widget.js", cfg.WidgetHandler)
		}
	})

	// Tenant-scoped API routes.
	r.Group(func(tenant chi.Router) {
		tenant.Use(requireTenantID)
		if cfg.RateLimitPerSecond > 0 {
			tenant.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
		}

		if cfg.ConversationHandler != nil {
			tenant.Route("/conversations", func(r chi.Router) {
				r.Post("/start", cfg.ConversationHandler.Start)
				r.Post("/message", cfg.ConversationHandler.Message)
				r.Get("/", cfg.ConversationHandler.List)
				r.Get("/{conversationID}/messages", cfg.ConversationHandler.History)
				r.Post("/{conversationID}/rating", cfg.ConversationHandler.Rate)
				r.Post("/{conversationID}/close", cfg.ConversationHandler.Close)
			})
		}
	})

	return r
}
