// Package insights is the composition root: it owns the caches and engines
// and exposes the operations used by the HTTP API and the CLI.
package insights

import (
	"context"
	"fmt"

	"github.com/jrsteele09/tenant-insights/fleet"
	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/licenseopt"
	"github.com/jrsteele09/tenant-insights/rmm"
	"github.com/jrsteele09/tenant-insights/securityscore"
	"github.com/jrsteele09/tenant-insights/tenants"
	"github.com/jrsteele09/tenant-insights/token"
	"github.com/rs/zerolog"
)

// CredentialResolver maps a tenant to the credential its directory calls use.
type CredentialResolver interface {
	Credential(ctx context.Context, tenantID string) (token.Credential, error)
}

type TokenInvalidator interface {
	Invalidate(cred token.Credential)
}

// Deps are the collaborators of a Service. Fleet and Dispatcher are nil when
// no RMM account is configured.
type Deps struct {
	Tenants     tenants.Repo
	Scores      *securityscore.Engine
	Licenses    *licenseopt.Engine
	Fleet       *fleet.Service
	Dispatcher  *rmm.Dispatcher
	Credentials CredentialResolver
	Tokens      TokenInvalidator
}

type Service struct {
	Deps
	logger zerolog.Logger
}

func New(deps Deps) *Service {
	return &Service{Deps: deps, logger: logging.Component("insights")}
}

// GetSecurityScore returns the tenant's cached or freshly calculated score.
func (s *Service) GetSecurityScore(ctx context.Context, tenantID string) (*securityscore.Result, error) {
	t, err := s.Tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("[Service GetSecurityScore] %w", err)
	}
	return s.Scores.Get(ctx, t.ID, t.Abbreviation), nil
}

// GetOptimizationSummary analyzes every tenant in the record store.
func (s *Service) GetOptimizationSummary(ctx context.Context) (*licenseopt.Summary, error) {
	list, err := s.Tenants.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Service GetOptimizationSummary] failed to list tenants: %w", err)
	}
	return s.Licenses.Analyze(ctx, list), nil
}

// InvalidateScoreCache drops the tenant's cached score and its directory
// token, so the next read uses rotated credentials.
func (s *Service) InvalidateScoreCache(ctx context.Context, tenantID string) error {
	t, err := s.Tenants.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("[Service InvalidateScoreCache] %w", err)
	}
	s.Scores.Invalidate(ctx, t.ID)
	s.invalidateToken(ctx, t.ID)
	s.logger.Info().Str("tenant", t.Abbreviation).Msg("security score cache invalidated")
	return nil
}

func (s *Service) invalidateToken(ctx context.Context, tenantID string) {
	if s.Credentials == nil || s.Tokens == nil {
		return
	}
	cred, err := s.Credentials.Credential(ctx, tenantID)
	if err != nil {
		s.logger.Debug().Err(err).Str("tenant_id", tenantID).Msg("no directory credential to invalidate")
		return
	}
	s.Tokens.Invalidate(cred)
}

func (s *Service) InvalidateOptimization(ctx context.Context) {
	s.Licenses.Invalidate(ctx)
}

// GetFleetSummary summarizes the devices of every tenant mapped to an RMM organization.
func (s *Service) GetFleetSummary(ctx context.Context) (*fleet.Report, error) {
	if s.Fleet == nil {
		return nil, errors.Wrapf(errors.ErrUnsupported, "[Service GetFleetSummary] rmm is not configured")
	}
	list, err := s.Tenants.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Service GetFleetSummary] failed to list tenants: %w", err)
	}
	return s.Fleet.Summarize(ctx, list), nil
}

func (s *Service) DispatchDeviceAction(ctx context.Context, req rmm.ActionRequest) (*rmm.ActionResult, error) {
	if s.Dispatcher == nil {
		return nil, errors.Wrapf(errors.ErrUnsupported, "[Service DispatchDeviceAction] rmm is not configured")
	}
	return s.Dispatcher.Dispatch(ctx, req)
}

func (s *Service) ListTenants(ctx context.Context, offset, limit int) ([]*tenants.Tenant, error) {
	return s.Tenants.List(ctx, offset, limit)
}

// SaveTenant validates and stores a tenant record. Cached results for the
// tenant are dropped since its credentials or mappings may have changed.
// An update that carries no credentials keeps the ones already stored.
func (s *Service) SaveTenant(ctx context.Context, t *tenants.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID != "" {
		if t.Credentials == nil {
			existing, err := s.Tenants.Get(ctx, t.ID)
			switch {
			case err == nil:
				t.Credentials = existing.Credentials
			case !errors.Is(err, errors.ErrTenantNotFound):
				return fmt.Errorf("[Service SaveTenant] %w", err)
			}
		}
		s.invalidateToken(ctx, t.ID)
	}
	if err := s.Tenants.Upsert(ctx, t); err != nil {
		return fmt.Errorf("[Service SaveTenant] %w", err)
	}
	s.Scores.Invalidate(ctx, t.ID)
	s.Licenses.Invalidate(ctx)
	if s.Fleet != nil {
		s.Fleet.Invalidate(ctx, t.ID)
	}
	return nil
}
