// Package rest is the HTTP surface. Handlers parse, authorize,
// delegate to services, and format; no business logic lives here.
package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/cache"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/config"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/telemetry"
	"github.com/loghawk/device-log-analysis-backend/internal/service/analysisflow"
	"github.com/loghawk/device-log-analysis-backend/internal/service/auditlog"
	"github.com/loghawk/device-log-analysis-backend/internal/service/authsvc"
	"github.com/loghawk/device-log-analysis-backend/internal/service/ingest"
	"github.com/loghawk/device-log-analysis-backend/internal/service/parsing"
)

// Deps bundles everything the server serves from. cmd/api builds the
// graph and hands it over.
type Deps struct {
	Config   *config.Config
	Logger   *slog.Logger
	Auth     *authsvc.Service
	Ingest   *ingest.Service
	Flow     *analysisflow.Coordinator
	Registry *parsing.Registry
	Audit    *auditlog.Service
	Progress *cache.ProgressStore
	Limiter  *cache.RateLimiter
	Metrics  HTTPMetrics

	// WSHandler serves /ws/events; the websocket hub provides it.
	WSHandler http.Handler

	// MetricsHandler serves /metrics (Prometheus).
	MetricsHandler http.Handler

	Probes []HealthProbe
}

// Server is the HTTP front of the system.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	auth     *authsvc.Service
	ingest   *ingest.Service
	flow     *analysisflow.Coordinator
	registry *parsing.Registry
	audit    *auditlog.Service
	progress *cache.ProgressStore
	limiter  *cache.RateLimiter
	metrics  HTTPMetrics
	probes   []HealthProbe

	httpServer *http.Server
}

// NewServer assembles the router and middleware chain.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:      d.Config,
		logger:   d.Logger,
		auth:     d.Auth,
		ingest:   d.Ingest,
		flow:     d.Flow,
		registry: d.Registry,
		audit:    d.Audit,
		progress: d.Progress,
		limiter:  d.Limiter,
		metrics:  d.Metrics,
		probes:   d.Probes,
	}

	mux := s.routes(d.WSHandler, d.MetricsHandler)

	// Tracing sits outside logging so the request log record carries
	// the span's trace id.
	chain := []Middleware{
		requestIDMiddleware,
		tracingMiddleware(telemetry.Tracer("api.rest")),
		loggingMiddleware(d.Logger),
		metricsMiddleware(d.Metrics),
		recoveryMiddleware(d.Logger),
		securityHeadersMiddleware,
		corsMiddleware(d.Config.Server.CORSOrigins),
		timeoutMiddleware(d.Config.Server.RequestTimeout),
		// Auth first so the limiter can key authenticated traffic by
		// principal rather than address.
		s.authMiddleware,
		s.rateLimitMiddleware,
	}

	var h http.Handler = mux
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", d.Config.Server.Host, d.Config.Server.Port),
		Handler:        h,
		ReadTimeout:    d.Config.Server.ReadTimeout,
		WriteTimeout:   d.Config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

func (s *Server) routes(ws, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	if ws != nil {
		mux.Handle("GET /ws/events", ws)
	}

	v1 := http.NewServeMux()

	v1.HandleFunc("POST /auth/login", s.handleLogin)
	v1.HandleFunc("POST /auth/logout", s.handleLogout)
	v1.HandleFunc("GET /auth/me", s.handleMe)
	v1.HandleFunc("POST /auth/change-password", s.handleChangePassword)

	v1.HandleFunc("GET /modes", s.handleModes)
	v1.HandleFunc("POST /upload", s.handleUpload)
	v1.HandleFunc("GET /download-progress", s.handleDownloadProgress)

	v1.HandleFunc("GET /analyses", s.handleListAnalyses)
	v1.HandleFunc("GET /analyses/{id}", s.handleGetAnalysis)
	v1.HandleFunc("POST /analyses/{id}/cancel", s.handleCancelAnalysis)
	v1.HandleFunc("DELETE /analyses/{id}", s.handleDeleteAnalysis)

	v1.HandleFunc("POST /admin/users", s.requireAdmin(s.handleCreateUser))
	v1.HandleFunc("GET /admin/users", s.requireAdmin(s.handleListUsers))
	v1.HandleFunc("GET /admin/users/{id}", s.requireAdmin(s.handleGetUser))
	v1.HandleFunc("PUT /admin/users/{id}", s.requireAdmin(s.handleUpdateUser))
	v1.HandleFunc("DELETE /admin/users/{id}", s.requireAdmin(s.handleDeleteUser))
	v1.HandleFunc("GET /admin/audit-logs", s.requireAdmin(s.handleAuditLogs))
	v1.HandleFunc("GET /admin/audit-export", s.requireAdmin(s.handleAuditExport))

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", v1))
	return mux
}

// Start serves until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests within the configured budget.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
