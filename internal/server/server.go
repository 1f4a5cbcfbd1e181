// Package server exposes the export service's HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Import for side effects (registers pprof handlers)
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/conticomp/xprotect-export/internal/config"
	"github.com/conticomp/xprotect-export/internal/errors"
	"github.com/conticomp/xprotect-export/internal/export"
	"github.com/conticomp/xprotect-export/internal/health"
	"github.com/conticomp/xprotect-export/internal/logger"
	"github.com/conticomp/xprotect-export/internal/milestone"
)

// Server is the HTTP front end: export submission and tracking, camera
// listing, health, and version endpoints.
type Server struct {
	config       *config.Config
	router       *mux.Router
	httpServer   *http.Server
	logger       *logrus.Logger
	redis        *redis.Client
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler
	milestone    *milestone.Client
	exporter     *export.Exporter

	// exportLimiter throttles export submissions; each job holds an
	// ImageServer session and an ffmpeg process.
	exportLimiter *rate.Limiter
}

// New creates a server wired to its collaborators.
func New(cfg *config.Config, log *logrus.Logger, redisClient *redis.Client, ms *milestone.Client, exp *export.Exporter) *Server {
	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		redis:        redisClient,
		healthMgr:    health.NewManager(logger.NewLogrusAdapter(logrus.NewEntry(log))),
		errorHandler: errors.NewErrorHandler(log),
		milestone:    ms,
		exporter:     exp,
		exportLimiter: rate.NewLimiter(
			rate.Limit(cfg.Server.ExportRateLimit), cfg.Server.ExportRateBurst),
	}

	s.registerHealthCheckers()
	s.setupRoutes()
	return s
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.healthMgr.StartPeriodicChecks(ctx, 30*time.Second)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.WithField("port", s.config.Server.HTTPPort).Info("Starting HTTP server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// setupRoutes configures middleware and all routes.
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/cameras", s.handleListCameras).Methods("GET")
	api.Handle("/exports", s.exportRateLimitMiddleware(http.HandlerFunc(s.handleCreateExport))).Methods("POST")
	api.HandleFunc("/exports", s.handleListExports).Methods("GET")
	api.HandleFunc("/exports/{id}", s.handleGetExport).Methods("GET")
	api.HandleFunc("/exports/{id}/download", s.handleDownloadExport).Methods("GET")

	if s.config.Server.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

// registerHealthCheckers wires the dependency checks exports rely on.
func (s *Server) registerHealthCheckers() {
	s.healthMgr.Register(health.NewRedisChecker(s.redis))
	s.healthMgr.Register(health.NewFFmpegChecker(s.config.Export.FFmpegPath))
	s.healthMgr.Register(health.NewDiskChecker(s.config.Export.Dir, 0.9))
}

// setupDebugEndpoints registers debug endpoints like pprof.
func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	// pprof endpoints are registered at /debug/pprof/ by the package
	// import above.

	s.router.HandleFunc("/debug/info", func(w http.ResponseWriter, r *http.Request) {
		info := map[string]interface{}{
			"http_port":     s.config.Server.HTTPPort,
			"export_dir":    s.config.Export.Dir,
			"metrics_port":  s.config.Metrics.Port,
			"debug_enabled": true,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(info)
	}).Methods("GET")
}

// Router returns the router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}
