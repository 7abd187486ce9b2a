package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/sdcp-bridge/sdcp-bridge/internal/alert"
	"github.com/sdcp-bridge/sdcp-bridge/internal/auth"
	"github.com/sdcp-bridge/sdcp-bridge/internal/config"
	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
	"github.com/sdcp-bridge/sdcp-bridge/internal/session"
	"github.com/sdcp-bridge/sdcp-bridge/internal/storage"
	"github.com/sdcp-bridge/sdcp-bridge/internal/validation"
)

// Printer is the read side of the session
type Printer interface {
	State() session.State
	Snapshot() (models.StatusSnapshot, bool)
	LastFrameAt() time.Time
	Alerts() *alert.Engine
}

// Controller runs printer commands
type Controller interface {
	Execute(ctx context.Context, action, arg string) error
	SetFan(ctx context.Context, which string, pct int) error
	SetPrintFile(ctx context.Context, name string) error
}

// EventLister reads the event history
type EventLister interface {
	ListEvents(ctx context.Context, filters storage.EventFilters, limit, offset int) ([]*models.PrinterEvent, int64, error)
}

type ctxKey struct{}

// RESTServer represents the REST API server
type RESTServer struct {
	config    *config.Config
	printer   Printer
	control   Controller
	events    EventLister
	metrics   http.Handler
	auth      *auth.JWTManager
	validator *validation.Validator
	router    chi.Router
	server    *http.Server
}

// NewRESTServer creates a new REST API server. events and metrics may be nil.
func NewRESTServer(cfg *config.Config, printer Printer, control Controller, events EventLister, metrics http.Handler) *RESTServer {
	s := &RESTServer{
		config:    cfg,
		printer:   printer,
		control:   control,
		events:    events,
		metrics:   metrics,
		auth:      auth.NewJWTManager(&cfg.JWT),
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	origins := s.config.API.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// Handler returns the root handler
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Bool("auth", s.auth.Enabled()).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware requires a bearer token when a JWT secret is configured.
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// claimsFrom returns the authenticated claims, if any
func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(ctxKey{}).(*auth.Claims)
	return c
}
