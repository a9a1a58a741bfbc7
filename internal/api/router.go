package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cell-arena/internal/game"
	"cell-arena/internal/game/leaderboard"
)

// EngineInterface defines the simulation methods used by the API.
// This interface enables mocking for tests without spinning up the tick loop.
// Keep this minimal - only include methods the API layer actually calls.
type EngineInterface interface {
	// Snapshot returns the last published tick
	Snapshot() *game.Snapshot
	// Overview returns players and viruses for the minimap
	Overview() []game.CellState
	// Leaderboard returns up to n ranked users
	Leaderboard(n int) []leaderboard.Standing

	Connect(ctx context.Context, name string) (game.Welcome, error)
	Disconnect(id uuid.UUID) error
	SetTarget(id uuid.UUID, x, y float64) error
	Split(id uuid.UUID) error
	Eject(id uuid.UUID) error

	// Subscribe delivers every published snapshot until cancelled
	Subscribe() (<-chan *game.Snapshot, func())
	// Deaths delivers users whose last cell was eaten
	Deaths() <-chan game.DeathEvent
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: mockEngine,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the simulation (required)
	Engine EngineInterface

	// WebSocket serves /ws. Optional; the route is absent when nil.
	WebSocket http.HandlerFunc

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, only localhost origins are allowed.
	CORSOrigins []string

	// Logger receives request logs. Nil disables them.
	Logger *zap.Logger

	// MinimapTTL bounds how often the minimap is re-rendered.
	// Zero uses DefaultMinimapTTL.
	MinimapTTL time.Duration
}

type routerHandlers struct {
	engine  EngineInterface
	minimap *MinimapCache
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE apart from the rate limiter's cleanup
// goroutine: no listeners are opened and no simulation work starts.
// Pass RateLimiter to control that goroutine's lifetime.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.Logger != nil {
		r.Use(requestLogger(cfg.Logger.Named("http")))
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	h := &routerHandlers{
		engine:  cfg.Engine,
		minimap: NewMinimapCache(cfg.MinimapTTL),
	}

	r.Get("/health", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.handleGetStats)
		r.Get("/leaderboard", h.handleGetLeaderboard)
		r.Get("/minimap.png", h.handleMinimap)
	})
	if cfg.WebSocket != nil {
		r.Get("/ws", cfg.WebSocket)
	}

	return r
}
