// Package server assembles the HTTP API: routes, middleware chain, and the
// websocket endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/updownbet/updown/internal/server/handler"
	"github.com/updownbet/updown/internal/server/middleware"
	"github.com/updownbet/updown/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers. Audit may be
// nil when no durable store is configured.
type Handlers struct {
	Health   *handler.HealthHandler
	Rounds   *handler.RoundHandler
	Bets     *handler.BetHandler
	Prices   *handler.PriceHandler
	Accounts *handler.AccountHandler
	Audit    *handler.AuditHandler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (auth, logging, CORS) applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Markets and rounds.
	mux.HandleFunc("GET /api/markets", handlers.Rounds.ListMarkets)
	mux.HandleFunc("GET /api/markets/{market}/rounds", handlers.Rounds.ListRounds)
	mux.HandleFunc("GET /api/markets/{market}/rounds/current", handlers.Rounds.GetCurrentRound)
	mux.HandleFunc("GET /api/markets/{market}/rounds/{id}", handlers.Rounds.GetRound)
	mux.HandleFunc("POST /api/markets/{market}/rounds/{id}/lock", handlers.Rounds.LockRound)
	mux.HandleFunc("POST /api/markets/{market}/rounds/{id}/close", handlers.Rounds.CloseRound)
	mux.HandleFunc("POST /api/markets/{market}/rounds/next", handlers.Rounds.CreateNextRound)

	// Stakes and claims.
	mux.HandleFunc("POST /api/markets/{market}/stake", handlers.Bets.PlaceStake)
	mux.HandleFunc("POST /api/markets/{market}/rounds/{id}/claim", handlers.Bets.Claim)
	mux.HandleFunc("GET /api/markets/{market}/rounds/{id}/bets/{bettor}", handlers.Bets.GetBet)
	mux.HandleFunc("GET /api/bets", handlers.Bets.ListBettorBets)

	// Prices.
	mux.HandleFunc("GET /api/markets/{market}/price", handlers.Prices.GetPrice)

	// Accounts.
	mux.HandleFunc("GET /api/accounts/{id}/balance", handlers.Accounts.GetBalance)
	mux.HandleFunc("POST /api/accounts/{id}/deposit", handlers.Accounts.Deposit)

	// Audit log.
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	}

	// Websocket event feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

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
// errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
