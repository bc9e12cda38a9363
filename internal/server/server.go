// Package server exposes the HTTP and WebSocket API for operating the
// arbitrage engine: trading controls, trade history, opportunity listings
// and the audit trail.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arbwheel/arbwheel/internal/server/handler"
	"github.com/arbwheel/arbwheel/internal/server/middleware"
	"github.com/arbwheel/arbwheel/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health        *handler.HealthHandler
	Opportunities *handler.OpportunityHandler
	Trades        *handler.TradeHandler
	Trading       *handler.TradingHandler
	Audit         *handler.AuditHandler
	Events        *handler.EventsHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up logging and CORS middleware and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Opportunity endpoints.
	mux.HandleFunc("POST /api/scan", handlers.Opportunities.ScanNow)
	mux.HandleFunc("GET /api/opportunities", handlers.Opportunities.ListRecent)

	// Trade endpoints. The literal "unhealthy" segment must be registered
	// alongside the {id} pattern; the mux prefers the more specific route.
	mux.HandleFunc("GET /api/trades", handlers.Trades.ListRecent)
	mux.HandleFunc("GET /api/trades/unhealthy", handlers.Trades.ListUnhealthy)
	mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.Get)

	// Trading control endpoints.
	mux.HandleFunc("GET /api/trading/config", handlers.Trading.GetConfig)
	mux.HandleFunc("PUT /api/trading/config", handlers.Trading.UpdateConfig)
	mux.HandleFunc("GET /api/trading/state", handlers.Trading.GetState)
	mux.HandleFunc("POST /api/trading/start", handlers.Trading.Start)
	mux.HandleFunc("POST /api/trading/stop", handlers.Trading.Stop)
	mux.HandleFunc("POST /api/trading/breaker/clear", handlers.Trading.ClearBreaker)

	// Audit log endpoint.
	mux.HandleFunc("GET /api/audit", handlers.Audit.List)

	// Durable trade-event replay.
	mux.HandleFunc("GET /api/events", handlers.Events.List)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
