package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/core/engine"
	"github.com/cambiowatch/cambiowatch/internal/observability"
	"github.com/cambiowatch/cambiowatch/internal/server/handlers"
	servermw "github.com/cambiowatch/cambiowatch/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	hm := s.deps.Health
	s.router.Get("/health", hm.HealthHandler)
	s.router.Get("/health/live", hm.LivenessHandler)
	s.router.Get("/health/ready", hm.ReadinessHandler)
	s.router.Get("/health/startup", hm.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Prometheus exposition proxied from the telemetry exporter
	s.router.Get("/metrics", MetricsHandler)

	s.router.Route("/api", s.registerAPI)

	s.registerAdminEndpoint()
}

func (s *Server) registerAPI(r chi.Router) {
	var logger engine.Logger = zap.NewNop()
	if observability.ServerLogger != nil {
		logger = observability.ServerLogger
	}

	api := &handlers.API{
		Service:  s.deps.Service,
		Store:    s.deps.Store,
		Limiter:  s.deps.Limiter,
		AdminKey: s.api.AdminKey,
		Logger:   logger,
	}

	r.Use(servermw.SecurityHeaders)
	r.Use(servermw.CORS(s.api.AllowedOrigins))
	r.Use(servermw.NewClientLimiter(s.api.RateLimit, s.api.RateWindow).Middleware)

	r.Get("/rates", api.Rates)
	if s.deps.Stream != nil {
		s.stream = handlers.NewStream(s.deps.Stream, s.api.AllowedOrigins, logger)
		r.Get("/rates/stream", s.stream.ServeHTTP)
	}
	r.Get("/refresh", api.Refresh)
	r.Post("/refresh", api.Refresh)
	r.Get("/best-rates", api.BestRates)
	r.Get("/history/{provider}", api.History)
	r.Get("/stats/{provider}", api.Stats)
	r.Get("/trend", api.Trend)
	r.Get("/providers", api.Providers)
	r.Get("/db-stats", api.DBStats)
	r.Get("/convert", api.Convert)
	r.Get("/health", api.APIHealth)
}

// registerAdminEndpoint exposes gofulmen's signal endpoint (reload, shutdown)
// behind the admin key. Without a key it stays off.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger

	if s.api.AdminKey == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no api.admin_key set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.api.AdminKey,
		RateLimit: 10, // requests per minute
		RateBurst: 5,
		Manager:   nil, // default global manager
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}
