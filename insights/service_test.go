package insights_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jrsteele09/tenant-insights/apiclient"
	"github.com/jrsteele09/tenant-insights/fleet"
	"github.com/jrsteele09/tenant-insights/identity"
	"github.com/jrsteele09/tenant-insights/insights"
	"github.com/jrsteele09/tenant-insights/internal/config"
	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/licenseopt"
	"github.com/jrsteele09/tenant-insights/rmm"
	"github.com/jrsteele09/tenant-insights/securityscore"
	"github.com/jrsteele09/tenant-insights/tenants"
	tenantrepofakes "github.com/jrsteele09/tenant-insights/tenants/repofakes"
	"github.com/jrsteele09/tenant-insights/token"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	userCalls    atomic.Int32
	licenseCalls atomic.Int32
}

func (f *fakeDirectory) ListUsers(ctx context.Context, tenantID string) ([]identity.User, error) {
	f.userCalls.Add(1)
	return []identity.User{{ID: "u1", AccountEnabled: true}}, nil
}

func (f *fakeDirectory) ListAccessPolicies(ctx context.Context, tenantID string) ([]identity.Policy, error) {
	return nil, nil
}

func (f *fakeDirectory) ListPrivilegedRoleMembers(ctx context.Context, tenantID, roleTemplateID string) ([]identity.RoleMember, error) {
	return nil, nil
}

func (f *fakeDirectory) ListLicenses(ctx context.Context, tenantID string) ([]identity.License, error) {
	f.licenseCalls.Add(1)
	return []identity.License{{SkuPartNumber: "SPE_E3", EnabledUnits: 10, ConsumedUnits: 2}}, nil
}

type fakeCredentials struct{}

func (fakeCredentials) Credential(ctx context.Context, tenantID string) (token.Credential, error) {
	return token.Credential{ID: "identity:" + tenantID}, nil
}

type recordingTokens struct {
	mu          sync.Mutex
	invalidated []string
}

func (r *recordingTokens) Invalidate(cred token.Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, cred.Key())
}

type fakeRMM struct {
	rmm.Actions
	reboots atomic.Int32
}

func (f *fakeRMM) ListOrganizations(ctx context.Context) ([]rmm.Organization, error) {
	return nil, nil
}

func (f *fakeRMM) ListDevicesForOrg(ctx context.Context, orgID string, page apiclient.Page) ([]rmm.Device, error) {
	if page.After != "" {
		return nil, nil
	}
	return []rmm.Device{{ID: 1, NodeClass: "MAC"}, {ID: 2, NodeClass: "MAC", Offline: true}}, nil
}

func (f *fakeRMM) Reboot(ctx context.Context, deviceID string, mode rmm.RebootMode, reason string) error {
	f.reboots.Add(1)
	return nil
}

var (
	acme   = &tenants.Tenant{ID: "t-acme", Abbreviation: "ACME", Name: "Acme", ExternalTenantID: "dir-acme", RMMOrganizationID: "7"}
	globex = &tenants.Tenant{ID: "t-glx", Abbreviation: "GLX", Name: "Globex", ExternalTenantID: "dir-glx"}
)

type fixture struct {
	svc    *insights.Service
	dir    *fakeDirectory
	tokens *recordingTokens
	rmm    *fakeRMM
}

func newFixture(t *testing.T, withRMM bool) *fixture {
	t.Helper()
	f := &fixture{dir: &fakeDirectory{}, tokens: &recordingTokens{}, rmm: &fakeRMM{}}

	scores, err := securityscore.NewEngine(f.dir)
	require.NoError(t, err)

	deps := insights.Deps{
		Tenants:     tenantrepofakes.NewFakeTenantRepo(acme, globex),
		Scores:      scores,
		Licenses:    licenseopt.NewEngine(f.dir),
		Credentials: fakeCredentials{},
		Tokens:      f.tokens,
	}
	if withRMM {
		deps.Fleet = fleet.New(f.rmm)
		deps.Dispatcher = rmm.NewDispatcher(f.rmm)
	}
	f.svc = insights.New(deps)
	return f
}

func TestGetSecurityScore(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.svc.GetSecurityScore(ctx, acme.ID)
	require.NoError(t, err)
	require.Equal(t, "ACME", first.TenantAbbrv)

	second, err := f.svc.GetSecurityScore(ctx, acme.ID)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, int32(1), f.dir.userCalls.Load())

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := f.svc.GetSecurityScore(ctx, "missing")
		require.ErrorIs(t, err, errors.ErrTenantNotFound)
	})
}

func TestInvalidateScoreCache(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.svc.GetSecurityScore(ctx, acme.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.InvalidateScoreCache(ctx, acme.ID))
	require.Equal(t, []string{"identity:t-acme"}, f.tokens.invalidated)

	second, err := f.svc.GetSecurityScore(ctx, acme.ID)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, int32(2), f.dir.userCalls.Load())

	t.Run("unknown tenant", func(t *testing.T) {
		require.ErrorIs(t, f.svc.InvalidateScoreCache(ctx, "missing"), errors.ErrTenantNotFound)
	})
}

func TestGetOptimizationSummary(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	s, err := f.svc.GetOptimizationSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, s.AnalyzedTenants)
	require.Len(t, s.Recommendations, 2)
	require.Equal(t, int32(2), f.dir.licenseCalls.Load())

	_, err = f.svc.GetOptimizationSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), f.dir.licenseCalls.Load())

	f.svc.InvalidateOptimization(ctx)
	_, err = f.svc.GetOptimizationSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(4), f.dir.licenseCalls.Load())
}

func TestFleetAndActions(t *testing.T) {
	ctx := context.Background()

	t.Run("without rmm", func(t *testing.T) {
		f := newFixture(t, false)
		_, err := f.svc.GetFleetSummary(ctx)
		require.ErrorIs(t, err, errors.ErrUnsupported)
		_, err = f.svc.DispatchDeviceAction(ctx, rmm.NewActionRequest("1", rmm.ActionReboot))
		require.ErrorIs(t, err, errors.ErrUnsupported)
	})

	t.Run("fleet summary", func(t *testing.T) {
		f := newFixture(t, true)
		report, err := f.svc.GetFleetSummary(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, report.TotalDevices)
		require.Equal(t, 1, report.OfflineDevices)
		require.Equal(t, []string{"t-glx"}, report.UnmanagedTenants)
	})

	t.Run("action dispatched once per request", func(t *testing.T) {
		f := newFixture(t, true)
		req := rmm.NewActionRequest("1", rmm.ActionReboot)
		_, err := f.svc.DispatchDeviceAction(ctx, req)
		require.NoError(t, err)
		_, err = f.svc.DispatchDeviceAction(ctx, req)
		require.ErrorIs(t, err, errors.ErrDuplicateAction)
		require.Equal(t, int32(1), f.rmm.reboots.Load())
	})
}

func TestSaveTenant(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	t.Run("rejects invalid", func(t *testing.T) {
		require.ErrorIs(t, f.svc.SaveTenant(ctx, &tenants.Tenant{Name: "No Abbreviation"}), errors.ErrInvalidTenant)
	})

	t.Run("new tenant gets an id", func(t *testing.T) {
		tn := &tenants.Tenant{Abbreviation: "INI", Name: "Initech"}
		require.NoError(t, f.svc.SaveTenant(ctx, tn))
		require.NotEmpty(t, tn.ID)

		list, err := f.svc.ListTenants(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, list, 3)
	})

	t.Run("update drops cached score and token", func(t *testing.T) {
		first, err := f.svc.GetSecurityScore(ctx, acme.ID)
		require.NoError(t, err)

		updated := *acme
		updated.Name = "Acme Corp"
		require.NoError(t, f.svc.SaveTenant(ctx, &updated))
		require.Contains(t, f.tokens.invalidated, "identity:t-acme")

		second, err := f.svc.GetSecurityScore(ctx, acme.ID)
		require.NoError(t, err)
		require.NotSame(t, first, second)
	})

	t.Run("update drops cached optimization summary", func(t *testing.T) {
		_, err := f.svc.GetOptimizationSummary(ctx)
		require.NoError(t, err)
		before := f.dir.licenseCalls.Load()

		updated := *globex
		updated.Name = "Globex Corp"
		require.NoError(t, f.svc.SaveTenant(ctx, &updated))

		s, err := f.svc.GetOptimizationSummary(ctx)
		require.NoError(t, err)
		require.Greater(t, f.dir.licenseCalls.Load(), before)
		require.Equal(t, 3, s.AnalyzedTenants)
	})
}

func TestSaveTenant_KeepsCredentials(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	withCreds := &tenants.Tenant{ID: "t-ini", Abbreviation: "INI", Name: "Initech",
		Credentials: &tenants.Credentials{ClientID: "ini-app", ClientSecret: "ini-secret"}}
	require.NoError(t, f.svc.SaveTenant(ctx, withCreds))

	t.Run("update without credentials", func(t *testing.T) {
		require.NoError(t, f.svc.SaveTenant(ctx, &tenants.Tenant{ID: "t-ini", Abbreviation: "INI", Name: "Initech Corp"}))

		got, err := f.svc.Tenants.Get(ctx, "t-ini")
		require.NoError(t, err)
		require.Equal(t, "Initech Corp", got.Name)
		require.NotNil(t, got.Credentials)
		require.Equal(t, "ini-app", got.Credentials.ClientID)
		require.Equal(t, "ini-secret", got.Credentials.ClientSecret)
	})

	t.Run("update with new credentials", func(t *testing.T) {
		require.NoError(t, f.svc.SaveTenant(ctx, &tenants.Tenant{ID: "t-ini", Abbreviation: "INI", Name: "Initech Corp",
			Credentials: &tenants.Credentials{ClientID: "ini-app", ClientSecret: "rotated"}}))

		got, err := f.svc.Tenants.Get(ctx, "t-ini")
		require.NoError(t, err)
		require.Equal(t, "rotated", got.Credentials.ClientSecret)
	})

	t.Run("unknown id is created", func(t *testing.T) {
		require.NoError(t, f.svc.SaveTenant(ctx, &tenants.Tenant{ID: "t-new", Abbreviation: "NEW", Name: "Newco"}))
		got, err := f.svc.Tenants.Get(ctx, "t-new")
		require.NoError(t, err)
		require.Nil(t, got.Credentials)
	})
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SCORING_CONFIG_PATH", "")
	t.Setenv("PRICE_TABLE_PATH", "")
	t.Setenv("GUEST_DETECTION", "")

	t.Run("memory without rmm", func(t *testing.T) {
		t.Setenv("CACHE_DRIVER", "memory")
		t.Setenv("RMM_CLIENT_ID", "")

		svc, closeFn, err := insights.Build(ctx, config.New(), nil)
		require.NoError(t, err)
		defer closeFn()
		require.Nil(t, svc.Fleet)
		require.Nil(t, svc.Dispatcher)
		require.NotNil(t, svc.Scores)
	})

	t.Run("with rmm", func(t *testing.T) {
		t.Setenv("CACHE_DRIVER", "memory")
		t.Setenv("RMM_CLIENT_ID", "rmm-client")

		svc, closeFn, err := insights.Build(ctx, config.New(), nil)
		require.NoError(t, err)
		defer closeFn()
		require.NotNil(t, svc.Fleet)
		require.NotNil(t, svc.Dispatcher)
	})

	t.Run("unknown cache driver", func(t *testing.T) {
		t.Setenv("CACHE_DRIVER", "memcached")
		_, _, err := insights.Build(ctx, config.New(), nil)
		require.ErrorIs(t, err, errors.ErrInvalidConfig)
	})

	t.Run("bad tenant secret key", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost:1/insights")
		t.Setenv("TENANT_SECRET_KEY", "too-short")
		_, _, err := insights.Build(ctx, config.New(), nil)
		require.ErrorIs(t, err, errors.ErrInvalidConfig)
	})

	t.Run("invalid guest detection", func(t *testing.T) {
		t.Setenv("CACHE_DRIVER", "memory")
		t.Setenv("GUEST_DETECTION", "psychic")
		_, _, err := insights.Build(ctx, config.New(), nil)
		require.Error(t, err)
	})
}
