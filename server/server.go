package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/tenant-insights/fleet"
	"github.com/jrsteele09/tenant-insights/internal/config"
	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/licenseopt"
	"github.com/jrsteele09/tenant-insights/rmm"
	"github.com/jrsteele09/tenant-insights/securityscore"
	"github.com/jrsteele09/tenant-insights/tenants"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Insights is the set of operations exposed over HTTP.
type Insights interface {
	GetSecurityScore(ctx context.Context, tenantID string) (*securityscore.Result, error)
	InvalidateScoreCache(ctx context.Context, tenantID string) error
	GetOptimizationSummary(ctx context.Context) (*licenseopt.Summary, error)
	InvalidateOptimization(ctx context.Context)
	GetFleetSummary(ctx context.Context) (*fleet.Report, error)
	DispatchDeviceAction(ctx context.Context, req rmm.ActionRequest) (*rmm.ActionResult, error)
	ListTenants(ctx context.Context, offset, limit int) ([]*tenants.Tenant, error)
	SaveTenant(ctx context.Context, t *tenants.Tenant) error
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	insights Insights
	gatherer prometheus.Gatherer
	jwtKey   []byte
	logger   zerolog.Logger
}

type Option func(*Server)

// WithGatherer selects the registry served on /metrics. Defaults to the global registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func New(cfg config.Config, svc Insights, options ...Option) (*Server, error) {
	secret := cfg.GetJWTSecret()
	if secret == "" {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "[Server New] JWT_SECRET is required")
	}

	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		config:   cfg,
		insights: svc,
		gatherer: prometheus.DefaultGatherer,
		jwtKey:   []byte(secret),
		logger:   logging.Component("server"),
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	s.logger.Debug().Msgf("[%s] %s", color+paddedMethod+ResetColor, path)
}
