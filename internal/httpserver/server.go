package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wrenops/netguard-mcp/internal/identity"
)

// ServerConfig holds the parameters NewServer needs, decoupled from any
// service-specific configuration struct.
type ServerConfig struct {
	CORSAllowedOrigins []string
	OIDCConfigured     bool
}

// Server holds the admin/health HTTP server dependencies. NewServer itself
// registers /health, /metrics and the /admin/v1 APIRouter; internal/app
// mounts the admin routes on APIRouter and, when the HTTP transport is
// selected, the JSON-RPC endpoint POST /rpc on Router. With the stdio
// transport the MCP traffic does not pass through this server.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *prometheus.Registry
	oidcOn    bool
	startedAt time.Time
}

// NewServer creates an HTTP server with middleware and health/metrics
// endpoints. Admin routes are mounted behind the auth middleware.
func NewServer(cfg ServerConfig, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, authMiddleware func(http.Handler) http.Handler) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		oidcOn:    cfg.OIDCConfigured,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// GET /health -> 200 {status, database, oidc} or 503.
	s.Router.Get("/health", s.handleHealth)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/admin/v1", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(identity.RequireAuth)
		s.APIRouter = r
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "ok"
	httpStatus := http.StatusOK

	dbStatus := "ok"
	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("health check: database ping failed", "error", err)
		dbStatus = "error"
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	oidcStatus := "disabled"
	if s.oidcOn {
		oidcStatus = "ok"
	}

	Respond(w, httpStatus, map[string]any{
		"status":   status,
		"database": dbStatus,
		"oidc":     oidcStatus,
		"uptime":   time.Since(s.startedAt).Truncate(time.Second).String(),
	})
}

