package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-dashboard/internal/auth"
	"github.com/JakeFAU/brand-dashboard/internal/brand"
	"github.com/JakeFAU/brand-dashboard/internal/metrics"
	"github.com/JakeFAU/brand-dashboard/internal/store"
)

// CrawlCoordinator starts crawls and reports their status.
type CrawlCoordinator interface {
	StartCrawl(ctx context.Context, caller auth.Principal, tenantID, websiteURL string) (string, error)
	GetStatus(ctx context.Context, caller auth.Principal, tenantID string) (brand.CrawlStatus, error)
}

// SettingsReader reads brand settings.
type SettingsReader interface {
	Get(ctx context.Context, caller auth.Principal, organizationID string) (store.BrandSettings, error)
}

// Memberships backs the organization endpoints.
type Memberships interface {
	List(ctx context.Context, caller auth.Principal) ([]store.MemberOrganization, error)
	Active(ctx context.Context, caller auth.Principal) (*store.MemberOrganization, error)
	SetActive(ctx context.Context, caller auth.Principal, organizationID *string) (*string, error)
}

// WorkflowStarter accepts hand-offs from the coordinator.
type WorkflowStarter interface {
	Start(ctx context.Context, req brand.CrawlRequest) (string, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Config tunes the server.
type Config struct {
	RequestTimeout time.Duration
	// WorkflowSecret must be presented in X-Workflow-Token on POST /crawl.
	// When empty, POST /crawl rejects every request.
	WorkflowSecret string
}

// Deps are the services the handlers call. Workflow may be nil, in which
// case POST /crawl is not mounted.
type Deps struct {
	Coordinator CrawlCoordinator
	Settings    SettingsReader
	Memberships Memberships
	Workflow    WorkflowStarter
	Sessions    *auth.Resolver
	Checks      map[string]ReadinessCheck
}

// Server wires HTTP handlers to the domain services.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if deps.Workflow != nil {
		r.With(sharedSecretMiddleware(cfg.WorkflowSecret)).Post("/crawl", s.acceptWorkflow)
	}

	r.Group(func(r chi.Router) {
		if deps.Sessions != nil {
			r.Use(deps.Sessions.Middleware)
		}
		r.Post("/crawl/start", s.startCrawl)
		r.Get("/crawl/status", s.crawlStatus)
		r.Get("/brand-settings", s.getBrandSettings)
		r.Get("/organizations", s.listOrganizations)
		r.Get("/organizations/active", s.getActiveOrganization)
		r.Post("/organizations/active", s.setActiveOrganization)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range s.deps.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}
