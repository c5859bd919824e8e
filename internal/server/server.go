package server

import (
	"context"
	"fmt"
	"net/http"

	"CalibrationMonitorAPI/internal/config"
	"CalibrationMonitorAPI/internal/handler"
	"CalibrationMonitorAPI/internal/logger"
	"CalibrationMonitorAPI/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteRegistrar is implemented by every API handler.
type RouteRegistrar interface {
	RegisterRoutes(r *mux.Router)
}

type Server struct {
	httpServer *http.Server
	router     *mux.Router
	cfg        *config.Config
	log        *logger.Logger
}

func New(cfg *config.Config, log *logger.Logger) *Server {
	router := mux.NewRouter()

	return &Server{
		router: router,
		cfg:    cfg,
		log:    log,
		httpServer: &http.Server{
			Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:        router,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
	}
}

// RegisterHandlers mounts api handlers under /api/v1 and the operational endpoints at the root.
// feed may be nil.
func (s *Server) RegisterHandlers(health *handler.HealthHandler, feed http.HandlerFunc, api ...RouteRegistrar) {
	s.router.Use(middleware.RequestID)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(middleware.RequestLogger(s.log))
	v1.Use(middleware.CORS(s.cfg.Security.CORSAllowedOrigins, s.cfg.Security.CORSAllowedMethods))
	v1.Use(middleware.Recovery(s.log))
	if s.cfg.Security.EnableRateLimit {
		v1.Use(middleware.RateLimit(s.cfg.Security.RateLimitPerMinute))
	}

	for _, h := range api {
		h.RegisterRoutes(v1)
	}

	health.RegisterRoutes(s.router)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if feed != nil {
		s.router.HandleFunc("/ws", feed)
	}

	s.log.Info("All handlers registered")
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.log.Info("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}
