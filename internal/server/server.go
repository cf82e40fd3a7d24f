// Package server exposes the CRUD boundary over the threat lifecycle: it
// owns routing, validation surface, and error mapping, and nothing else.
// All analysis semantics live behind the lifecycle and ingestor.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/phishlense/phishlense/internal/config"
	"github.com/phishlense/phishlense/internal/lifecycle"
	"github.com/phishlense/phishlense/internal/traffic"
)

// Version is reported by the health endpoint.
const Version = "0.3.0"

// Server is the phishlense API server.
type Server struct {
	cfg        *config.Config
	lifecycle  *lifecycle.Lifecycle
	ingestor   *traffic.Ingestor
	httpServer *http.Server
	ln         net.Listener
	logger     *slog.Logger
}

// New creates a server over the given collaborators.
func New(cfg *config.Config, lc *lifecycle.Lifecycle, ing *traffic.Ingestor, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		lifecycle: lc,
		ingestor:  ing,
		logger:    logger,
	}
}

// Start binds the listener and serves until Shutdown. It blocks.
func (s *Server) Start() error {
	bind := s.cfg.Server.Bind
	if bind == "" {
		bind = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", bind, s.cfg.Server.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.ln = ln

	handler := s.routes()

	s.httpServer = &http.Server{
		Handler:        handler,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   120 * time.Second, // sandbox probes run inline
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.logger.Info("server starting", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Addr returns the bound address, for tests and banners.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// routes builds the full handler chain: mux → otel → metrics/logging/
// recovery/requestID/securityHeaders.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(name, h))
	}

	route("POST /api/threats", "threats_create", s.handleCreateThreat)
	route("GET /api/threats/stats", "threats_stats", s.handleThreatStats)
	route("GET /api/threats/{id}", "threats_get", s.handleGetThreat)
	route("POST /api/threats/{id}/execute", "threats_execute", s.handleExecute)
	route("POST /api/threats/{id}/reanalyze", "threats_reanalyze", s.handleReanalyze)

	route("POST /api/traffic/receive", "traffic_receive", s.handleTrafficReceive)
	route("GET /api/traffic/stats", "traffic_stats", s.handleTrafficStats)
	route("GET /api/traffic/{id}", "traffic_get", s.handleGetTraffic)

	route("GET /api/ratelimit/{caller}", "ratelimit_status", s.handleRateLimitStatus)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
	})
	mux.Handle("GET /metrics", metricsHandler())

	var handler http.Handler = mux
	handler = otelhttp.NewHandler(handler, "phishlense-api")
	handler = logging(s.logger)(handler)
	handler = recovery(s.logger)(handler)
	handler = requestID(handler)
	handler = securityHeaders(handler)
	return handler
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Header already sent; nothing left to do but note it.
		slog.Default().Error("writeJSON: encode failed", "error", err)
	}
}
