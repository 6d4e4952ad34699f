// Package apihttp serves ring-buffered byte-range streams over HTTP,
// wrapping internal/stream.Filter the way the rest of this codebase wraps
// its use cases: a ServeMux behind a shared middleware chain, plus a
// websocket hub for pushing state that would otherwise need polling.
package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ringstream/internal/audit"
	"ringstream/internal/ringcfg"
)

const positionPushInterval = 2 * time.Second

// Server is the HTTP surface over one sessionManager of ring-buffer
// filters.
type Server struct {
	sessions *sessionManager
	wsHub    *wsHub
	logger   *slog.Logger
	handler  http.Handler

	pusherDone chan struct{}
}

// NewServer builds the mux, middleware chain, and websocket position
// pusher for cfg. Call Close to stop the hub and position pusher and tear
// down every open session.
func NewServer(cfg ringcfg.Config, logger *slog.Logger, auditLog *audit.Log) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		sessions:   newSessionManager(cfg, logger, auditLog),
		logger:     logger,
		pusherDone: make(chan struct{}),
	}
	s.wsHub = newWSHub(logger)
	go s.wsHub.run()
	go s.runPositionPusher(positionPushInterval, s.pusherDone)

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/stream/close", s.handleStreamClose)
	mux.HandleFunc("/ws/position", s.handleWSPosition)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	traced := otelhttp.NewHandler(loggingMiddleware(logger, mux), "ringstream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(logger, metricsMiddleware(corsMiddleware(traced)))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Close stops the position pusher and websocket hub and closes every open
// session's Filter and underlying source.
func (s *Server) Close(ctx context.Context) {
	close(s.pusherDone)
	s.wsHub.Close()
	s.sessions.closeAll()
}
