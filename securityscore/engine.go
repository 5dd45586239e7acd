// Package securityscore reduces a tenant's directory data to a weighted
// 0..100 security score.
package securityscore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/tenant-insights/identity"
	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/resultcache"
	"github.com/rs/zerolog"
)

const DefaultTTL = time.Hour

type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusFail    Status = "fail"
)

// Source names reported in Result.FailedSources.
const (
	SourceUsers    = "users"
	SourcePolicies = "access_policies"
	SourceRoles    = "privileged_roles"
)

type Check struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Weight   int    `json:"weight"`
	Status   Status `json:"status"`
	Score    int    `json:"score"`
	Details  string `json:"details"`
}

type Result struct {
	TenantID      string    `json:"tenant_id"`
	TenantAbbrv   string    `json:"tenant_abbrv"`
	TotalScore    int       `json:"total_score"`
	Checks        []Check   `json:"checks"`
	FailedSources []string  `json:"failed_sources,omitempty"`
	CalculatedAt  time.Time `json:"calculated_at"`
}

// Complete reports whether every data source answered.
func (r *Result) Complete() bool {
	return len(r.FailedSources) == 0
}

type Engine struct {
	directory identity.Directory
	cfg       Config
	cache     *resultcache.Cache[*Result]
	nowFunc   func() time.Time
	logger    zerolog.Logger
}

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithCache replaces the default in-memory result cache.
func WithCache(c *resultcache.Cache[*Result]) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) {
		e.nowFunc = now
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine fails only when the scoring configuration could produce a total outside 0..100.
func NewEngine(directory identity.Directory, options ...Option) (*Engine, error) {
	e := &Engine{
		directory: directory,
		cfg:       DefaultConfig(),
		nowFunc:   time.Now,
		logger:    logging.Component("securityscore"),
	}
	for _, opt := range options {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("[securityscore NewEngine] %w", err)
	}
	if e.cache == nil {
		e.cache = resultcache.New("security_score", resultcache.NewMemoryStore[*Result](), DefaultTTL,
			resultcache.WithNowFunc[*Result](e.nowFunc))
	}
	return e, nil
}

// Get returns the cached result for the tenant while fresh, otherwise calculates one.
func (e *Engine) Get(ctx context.Context, tenantID, tenantAbbrv string) *Result {
	if r, ok := e.cache.Get(ctx, tenantID); ok {
		return r
	}
	return e.Calculate(ctx, tenantID, tenantAbbrv)
}

func (e *Engine) Invalidate(ctx context.Context, tenantID string) {
	e.cache.Invalidate(ctx, tenantID)
}

type sources struct {
	users    []identity.User
	policies []identity.Policy
	admins   []identity.RoleMember
	failed   map[string]bool
}

// Calculate always produces a result. A data source that cannot be read
// fails only the checks that depend on it.
func (e *Engine) Calculate(ctx context.Context, tenantID, tenantAbbrv string) *Result {
	src := e.fetch(ctx, tenantID, tenantAbbrv)

	checks := []Check{
		e.activePolicies(src),
		e.privilegedAdmins(src),
		e.disabledAccounts(src),
		e.guestUsers(src),
		e.mfaEnforcement(src),
		e.securityBaseline(src),
	}

	result := &Result{
		TenantID:     tenantID,
		TenantAbbrv:  tenantAbbrv,
		Checks:       checks,
		CalculatedAt: e.nowFunc(),
	}
	for _, c := range checks {
		result.TotalScore += c.Score
	}
	for _, name := range []string{SourceUsers, SourcePolicies, SourceRoles} {
		if src.failed[name] {
			result.FailedSources = append(result.FailedSources, name)
		}
	}

	e.cache.Set(ctx, tenantID, result)
	e.logger.Debug().Str("tenant", tenantAbbrv).Int("score", result.TotalScore).
		Strs("failed_sources", result.FailedSources).Msg("security score calculated")
	return result
}

func (e *Engine) fetch(ctx context.Context, tenantID, tenantAbbrv string) *sources {
	src := &sources{failed: make(map[string]bool)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := func() (err error) {
				defer func() {
					if rec := recover(); rec != nil {
						err = fmt.Errorf("panic: %v", rec)
					}
				}()
				return fn()
			}()
			if err != nil {
				mu.Lock()
				src.failed[name] = true
				mu.Unlock()
				e.logger.Warn().Err(err).Str("tenant", tenantAbbrv).Str("source", name).Msg("score source unavailable")
			}
		}()
	}

	var users []identity.User
	var policies []identity.Policy
	var admins []identity.RoleMember
	run(SourceUsers, func() (err error) {
		users, err = e.directory.ListUsers(ctx, tenantID)
		return err
	})
	run(SourcePolicies, func() (err error) {
		policies, err = e.directory.ListAccessPolicies(ctx, tenantID)
		return err
	})
	run(SourceRoles, func() (err error) {
		admins, err = e.directory.ListPrivilegedRoleMembers(ctx, tenantID, e.cfg.RoleTemplateID)
		return err
	})
	wg.Wait()

	if !src.failed[SourceUsers] {
		src.users = users
	}
	if !src.failed[SourcePolicies] {
		src.policies = policies
	}
	if !src.failed[SourceRoles] {
		src.admins = admins
	}
	return src
}

func unavailable(c Check, source string) Check {
	c.Status = StatusFail
	c.Score = 0
	c.Details = fmt.Sprintf("Data unavailable: %s could not be read", source)
	return c
}

func (e *Engine) activePolicies(src *sources) Check {
	c := Check{ID: "ca-policies", Name: "Active conditional access policies", Category: "Access Control", Weight: e.cfg.Weights.ActivePolicies}
	if src.failed[SourcePolicies] {
		return unavailable(c, SourcePolicies)
	}
	active := 0
	for _, p := range src.policies {
		if p.Active() {
			active++
		}
	}
	c.Score = min(active*e.cfg.PointsPerPolicy, c.Weight)
	switch {
	case active >= e.cfg.PolicyPassCount:
		c.Status = StatusPass
	case active >= e.cfg.PolicyWarnCount:
		c.Status = StatusWarning
	default:
		c.Status = StatusFail
	}
	c.Details = fmt.Sprintf("%d active of %d conditional access policies", active, len(src.policies))
	return c
}

func (e *Engine) privilegedAdmins(src *sources) Check {
	c := Check{ID: "admin-count", Name: "Privileged administrator count", Category: "Identity", Weight: e.cfg.Weights.PrivilegedAdmins}
	if src.failed[SourceRoles] {
		return unavailable(c, SourceRoles)
	}
	n := len(src.admins)
	c.Score, c.Status = e.cfg.PrivilegedAdmins.score(float64(n))
	c.Details = fmt.Sprintf("%d members hold the privileged administrator role", n)
	return c
}

func ratio(part, total int) float64 {
	return float64(part) / float64(max(total, 1))
}

func (e *Engine) disabledAccounts(src *sources) Check {
	c := Check{ID: "disabled-accounts", Name: "Disabled account ratio", Category: "Identity", Weight: e.cfg.Weights.DisabledAccounts}
	if src.failed[SourceUsers] {
		return unavailable(c, SourceUsers)
	}
	disabled := 0
	for _, u := range src.users {
		if !u.AccountEnabled {
			disabled++
		}
	}
	r := ratio(disabled, len(src.users))
	c.Score, c.Status = e.cfg.DisabledRatio.score(r)
	c.Details = fmt.Sprintf("%d of %d accounts disabled (%.0f%%)", disabled, len(src.users), r*100)
	return c
}

func (e *Engine) guestUsers(src *sources) Check {
	c := Check{ID: "guest-users", Name: "Guest user ratio", Category: "Identity", Weight: e.cfg.Weights.GuestUsers}
	if src.failed[SourceUsers] {
		return unavailable(c, SourceUsers)
	}
	guests := 0
	for _, u := range src.users {
		if e.cfg.IsGuest(u) {
			guests++
		}
	}
	r := ratio(guests, len(src.users))
	c.Score, c.Status = e.cfg.GuestRatio.score(r)
	c.Details = fmt.Sprintf("%d of %d users are guests (%.0f%%)", guests, len(src.users), r*100)
	return c
}

func (e *Engine) mfaEnforcement(src *sources) Check {
	c := Check{ID: "mfa-enforcement", Name: "MFA enforcement", Category: "Authentication", Weight: e.cfg.Weights.MFAEnforcement}
	if src.failed[SourcePolicies] {
		return unavailable(c, SourcePolicies)
	}
	for _, p := range src.policies {
		if p.Active() && p.Requires(e.cfg.MFAControl) {
			c.Score, c.Status = c.Weight, StatusPass
			c.Details = fmt.Sprintf("MFA required by policy %q", p.DisplayName)
			return c
		}
	}
	c.Status = StatusFail
	c.Details = "No active policy requires MFA"
	return c
}

func (e *Engine) securityBaseline(src *sources) Check {
	c := Check{ID: "security-baseline", Name: "Security baseline present", Category: "Configuration", Weight: e.cfg.Weights.SecurityBaseline}
	if src.failed[SourcePolicies] {
		return unavailable(c, SourcePolicies)
	}
	if len(src.policies) == 0 {
		c.Status = StatusFail
		c.Details = "No conditional access policies configured"
		return c
	}
	c.Score, c.Status = c.Weight, StatusPass
	c.Details = fmt.Sprintf("%d conditional access policies configured", len(src.policies))
	return c
}
