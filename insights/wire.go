package insights

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jrsteele09/tenant-insights/fleet"
	"github.com/jrsteele09/tenant-insights/identity"
	"github.com/jrsteele09/tenant-insights/internal/config"
	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/internal/metrics"
	"github.com/jrsteele09/tenant-insights/licenseopt"
	"github.com/jrsteele09/tenant-insights/resultcache"
	"github.com/jrsteele09/tenant-insights/rmm"
	"github.com/jrsteele09/tenant-insights/securityscore"
	"github.com/jrsteele09/tenant-insights/tenants"
	"github.com/jrsteele09/tenant-insights/tenants/pgstore"
	tenantrepofakes "github.com/jrsteele09/tenant-insights/tenants/repofakes"
	"github.com/jrsteele09/tenant-insights/token"
	"github.com/redis/go-redis/v9"
)

// Build wires a Service from configuration. The returned func closes the
// record store and cache connections.
func Build(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*Service, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	fail := func(err error) (*Service, func() error, error) {
		_ = closeAll()
		return nil, nil, err
	}

	repo, closeRepo, err := openTenants(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if rdb != nil {
		closers = append(closers, rdb.Close)
	}

	httpClient := &http.Client{Timeout: cfg.GetRequestTimeout()}
	tokens := token.NewCache(
		token.WithExchanger(token.NewClientCredentialsExchanger(httpClient)),
		token.WithMargin(cfg.GetTokenRefreshMargin()),
		token.WithTimeout(cfg.GetRequestTimeout()),
		token.WithMetrics(m),
	)

	directory := identity.New(identity.Config{
		Authority:    cfg.GetIdentityAuthority(),
		Scope:        cfg.GetIdentityScope(),
		BaseURL:      cfg.GetIdentityBaseURL(),
		ClientID:     cfg.GetIdentityClientID(),
		ClientSecret: cfg.GetIdentityClientSecret(),
	}, tokens,
		identity.WithTenantLookup(repo),
		identity.WithHTTPClient(httpClient),
		identity.WithMetrics(m),
	)

	scoreCfg, err := securityscore.LoadConfig(cfg.GetScoringConfigPath(), cfg.GetGuestDetection(), cfg.GetGuestMarker())
	if err != nil {
		return fail(fmt.Errorf("[insights Build] %w", err))
	}
	if id := cfg.GetPrivilegedRoleTemplateID(); id != "" {
		scoreCfg.RoleTemplateID = id
	}
	scores, err := securityscore.NewEngine(directory,
		securityscore.WithConfig(scoreCfg),
		securityscore.WithCache(newCache[*securityscore.Result]("security_score", cfg.GetScoreTTL(), rdb, cfg.GetCachePrefix(), m)),
	)
	if err != nil {
		return fail(err)
	}

	prices, err := licenseopt.LoadPrices(cfg.GetPriceTablePath())
	if err != nil {
		return fail(fmt.Errorf("[insights Build] %w", err))
	}
	licenses := licenseopt.NewEngine(directory,
		licenseopt.WithPrices(prices),
		licenseopt.WithCache(newCache[*licenseopt.Summary]("license_optimization", cfg.GetOptimizationTTL(), rdb, cfg.GetCachePrefix(), m)),
		licenseopt.WithConcurrency(cfg.GetFanoutConcurrency()),
		licenseopt.WithMetrics(m),
	)

	deps := Deps{
		Tenants:     repo,
		Scores:      scores,
		Licenses:    licenses,
		Credentials: directory,
		Tokens:      tokens,
	}

	if cfg.GetRMMClientID() != "" {
		rmmClient := rmm.New(rmm.Config{
			BaseURL:           cfg.GetRMMBaseURL(),
			ClientID:          cfg.GetRMMClientID(),
			ClientSecret:      cfg.GetRMMClientSecret(),
			TokenURL:          cfg.GetRMMTokenURL(),
			Issuer:            cfg.GetRMMIssuer(),
			Scope:             cfg.GetRMMScope(),
			RequestsPerSecond: cfg.GetRMMRequestsPerSecond(),
		}, tokens, rmm.WithHTTPClient(httpClient), rmm.WithMetrics(m))

		deps.Fleet = fleet.New(rmmClient,
			fleet.WithCache(newCache[*fleet.TenantSummary]("fleet", cfg.GetFleetTTL(), rdb, cfg.GetCachePrefix(), m)),
			fleet.WithPageSize(cfg.GetRMMPageSize()),
			fleet.WithConcurrency(cfg.GetFanoutConcurrency()),
			fleet.WithMetrics(m),
		)
		deps.Dispatcher = rmm.NewDispatcher(rmmClient, rmm.WithDispatcherMetrics(m))
	}

	return New(deps), closeAll, nil
}

// openTenants selects PostgreSQL when a database URL is configured and the
// in-memory store otherwise.
func openTenants(ctx context.Context, cfg config.DatabaseConfig) (tenants.Repo, func() error, error) {
	url := cfg.GetDatabaseURL()
	if url == "" {
		return tenantrepofakes.NewFakeTenantRepo(), nil, nil
	}
	var opts []pgstore.Option
	if key := cfg.GetTenantSecretKey(); key != "" {
		sealer, err := pgstore.NewSealer(key)
		if err != nil {
			return nil, nil, fmt.Errorf("[insights openTenants] %w", err)
		}
		opts = append(opts, pgstore.WithSealer(sealer))
	}
	store, err := pgstore.Open(ctx, url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("[insights openTenants] %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("[insights openTenants] %w", err)
	}
	return store, store.Close, nil
}

func openRedis(ctx context.Context, cfg config.CacheConfig) (redis.UniversalClient, error) {
	switch cfg.GetCacheDriver() {
	case "", "memory":
		return nil, nil
	case "redis":
	default:
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "[insights openRedis] unknown cache driver %q", cfg.GetCacheDriver())
	}

	rdb, err := resultcache.NewRedisClient(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("[insights openRedis] failed to reach redis: %w", err)
	}
	return rdb, nil
}

// newCache keeps results in process memory, or in Redis under prefix+name
// when a client is given.
func newCache[T any](name string, ttl time.Duration, rdb redis.UniversalClient, prefix string, m *metrics.Metrics) *resultcache.Cache[T] {
	var store resultcache.Store[T] = resultcache.NewMemoryStore[T]()
	if rdb != nil {
		store = resultcache.NewRedisStore[T](rdb, prefix+name+":")
	}
	return resultcache.New(name, store, ttl, resultcache.WithMetrics[T](m))
}
