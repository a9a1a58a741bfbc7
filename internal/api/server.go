package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"cell-arena/internal/config"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub for real-time updates.
type Server struct {
	engine      EngineInterface
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	http        *http.Server
	log         *zap.Logger
}

// NewServer creates the API server.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// Tests can construct the server and use Router() without goroutines
// beyond the rate limiter's cleanup loop.
func NewServer(engine EngineInterface, cfg config.ServerConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	hubCfg := DefaultHubConfig()
	if cfg.MaxWSPerIP > 0 {
		hubCfg.MaxPerIP = cfg.MaxWSPerIP
	}
	if cfg.ActionsPerSecond > 0 {
		hubCfg.ActionsPerSecond = cfg.ActionsPerSecond
	}
	if cfg.ActionBurst > 0 {
		hubCfg.ActionBurst = cfg.ActionBurst
	}
	if len(cfg.CORSOrigins) > 0 {
		hubCfg.Origins = cfg.CORSOrigins
	}

	rlCfg := DefaultRateLimitConfig
	if cfg.RequestsPerSec > 0 {
		rlCfg.RequestsPerSecond = cfg.RequestsPerSec
	}
	if cfg.RequestBurst > 0 {
		rlCfg.Burst = cfg.RequestBurst
	}

	s := &Server{
		engine:      engine,
		wsHub:       NewWebSocketHub(engine, hubCfg, log),
		rateLimiter: NewIPRateLimiter(rlCfg),
		log:         log.Named("api"),
	}
	s.router = NewRouter(RouterConfig{
		Engine:      engine,
		WebSocket:   s.wsHub.HandleWebSocket,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      log,
	})
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the hub and serves HTTP until Shutdown. It returns nil after
// a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.wsHub.Run(ctx)

	s.log.Info("api server starting", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub exposes the WebSocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Shutdown stops accepting requests and ends the rate limiter. Sessions
// are closed by cancelling the context passed to Start.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.rateLimiter.Stop()
	return s.http.Shutdown(ctx)
}
