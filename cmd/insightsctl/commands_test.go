package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/jrsteele09/tenant-insights/fleet"
	"github.com/jrsteele09/tenant-insights/internal/config"
	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/licenseopt"
	"github.com/jrsteele09/tenant-insights/rmm"
	"github.com/jrsteele09/tenant-insights/securityscore"
	"github.com/jrsteele09/tenant-insights/server"
	"github.com/jrsteele09/tenant-insights/tenants"
	"github.com/stretchr/testify/require"
)

type fakeInsights struct {
	invalidated []string
	optInvalid  int
	actions     []rmm.ActionRequest
	saved       []*tenants.Tenant
}

func (f *fakeInsights) GetSecurityScore(ctx context.Context, tenantID string) (*securityscore.Result, error) {
	if tenantID != "t-acme" {
		return nil, errors.Wrapf(errors.ErrTenantNotFound, "tenant %s", tenantID)
	}
	return &securityscore.Result{
		TenantID:      tenantID,
		TenantAbbrv:   "ACME",
		TotalScore:    72,
		FailedSources: []string{securityscore.SourceRoles},
		Checks: []securityscore.Check{
			{ID: "mfa", Name: "MFA coverage", Weight: 30, Score: 24, Status: securityscore.StatusWarning, Details: "80% of members"},
		},
	}, nil
}

func (f *fakeInsights) InvalidateScoreCache(ctx context.Context, tenantID string) error {
	f.invalidated = append(f.invalidated, tenantID)
	return nil
}

func (f *fakeInsights) GetOptimizationSummary(ctx context.Context) (*licenseopt.Summary, error) {
	return &licenseopt.Summary{
		TotalEstimatedWaste: 115,
		AnalyzedTenants:     2,
		AnalyzedSkus:        3,
		Recommendations: []licenseopt.Recommendation{
			{TenantAbbrv: "ACME", SkuPartNumber: "SPE_E3", TotalEnabled: 20, TotalConsumed: 15, UnusedCount: 5, UtilizationPct: 75, EstimatedWastePerMonth: 115, Severity: licenseopt.SeverityWasteful},
		},
	}, nil
}

func (f *fakeInsights) InvalidateOptimization(ctx context.Context) {
	f.optInvalid++
}

func (f *fakeInsights) GetFleetSummary(ctx context.Context) (*fleet.Report, error) {
	return &fleet.Report{
		TotalDevices:   3,
		OfflineDevices: 1,
		Tenants: []*fleet.TenantSummary{
			{TenantAbbrv: "ACME", TotalDevices: 3, OfflineDevices: 1, ByNodeClass: map[string]int{"WINDOWS_WORKSTATION": 2, "WINDOWS_SERVER": 1}},
		},
	}, nil
}

func (f *fakeInsights) DispatchDeviceAction(ctx context.Context, req rmm.ActionRequest) (*rmm.ActionResult, error) {
	f.actions = append(f.actions, req)
	return &rmm.ActionResult{RequestID: req.RequestID, DeviceID: req.DeviceID, Action: req.Action}, nil
}

func (f *fakeInsights) ListTenants(ctx context.Context, offset, limit int) ([]*tenants.Tenant, error) {
	return []*tenants.Tenant{{ID: "t-acme", Abbreviation: "ACME", Name: "Acme", RMMOrganizationID: "7"}}, nil
}

func (f *fakeInsights) SaveTenant(ctx context.Context, t *tenants.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = "t-new"
	}
	f.saved = append(f.saved, t)
	return nil
}

func run(t *testing.T, f *fakeInsights, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	opened, closed := 0, 0
	open := func(ctx context.Context) (server.Insights, func() error, error) {
		opened++
		return f, func() error { closed++; return nil }, nil
	}
	err := execute(config.Security{}, open, &out, args)
	require.Equal(t, opened, closed)
	return out.String(), err
}

func TestScoreCommand(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		out, err := run(t, &fakeInsights{}, "score", "t-acme")
		require.NoError(t, err)
		require.Contains(t, out, "ACME security score: 72/100")
		require.Contains(t, out, "Data incomplete for sources: privileged_roles")
		require.Contains(t, out, "MFA coverage")
	})

	t.Run("json", func(t *testing.T) {
		out, err := run(t, &fakeInsights{}, "score", "t-acme", "--out", "json")
		require.NoError(t, err)
		var result securityscore.Result
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		require.Equal(t, 72, result.TotalScore)
	})

	t.Run("refresh invalidates first", func(t *testing.T) {
		f := &fakeInsights{}
		_, err := run(t, f, "score", "t-acme", "--refresh")
		require.NoError(t, err)
		require.Equal(t, []string{"t-acme"}, f.invalidated)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := run(t, &fakeInsights{}, "score", "t-missing")
		require.ErrorIs(t, err, errors.ErrTenantNotFound)
	})

	t.Run("bad output format", func(t *testing.T) {
		_, err := run(t, &fakeInsights{}, "score", "t-acme", "--out", "xml")
		require.Error(t, err)
	})
}

func TestOptimizeCommand(t *testing.T) {
	f := &fakeInsights{}
	out, err := run(t, f, "optimize", "--refresh")
	require.NoError(t, err)
	require.Equal(t, 1, f.optInvalid)
	require.Contains(t, out, "Estimated waste: $115.00/month across 2 tenants (3 SKUs analyzed)")
	require.Contains(t, out, "SPE_E3")
	require.Contains(t, out, "5/20")
}

func TestFleetCommand(t *testing.T) {
	out, err := run(t, &fakeInsights{}, "fleet")
	require.NoError(t, err)
	require.Contains(t, out, "3 devices, 1 offline")
	require.Contains(t, out, "WINDOWS_SERVER=1 WINDOWS_WORKSTATION=2")
}

func TestActionCommand(t *testing.T) {
	t.Run("generated request id", func(t *testing.T) {
		f := &fakeInsights{}
		out, err := run(t, f, "action", "42", "--action", "reboot", "--mode", "forced", "--reason", "patching")
		require.NoError(t, err)
		require.Len(t, f.actions, 1)
		req := f.actions[0]
		require.Equal(t, "42", req.DeviceID)
		require.Equal(t, rmm.ActionReboot, req.Action)
		require.Equal(t, rmm.RebootForced, req.RebootMode)
		require.NotEmpty(t, req.RequestID)
		require.Contains(t, out, "reboot dispatched to device 42")
	})

	t.Run("explicit request id and script", func(t *testing.T) {
		f := &fakeInsights{}
		_, err := run(t, f, "action", "42", "--action", "run_script", "--script-id", "s-1", "--request-id", "click-1")
		require.NoError(t, err)
		require.Equal(t, "click-1", f.actions[0].RequestID)
		require.Equal(t, "s-1", f.actions[0].Script.ID)
	})

	t.Run("action flag required", func(t *testing.T) {
		_, err := run(t, &fakeInsights{}, "action", "42")
		require.Error(t, err)
	})
}

func TestTenantsCommands(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		out, err := run(t, &fakeInsights{}, "tenants", "list")
		require.NoError(t, err)
		require.Contains(t, out, "ABBRV")
		require.Contains(t, out, "t-acme")
	})

	t.Run("save with credentials", func(t *testing.T) {
		f := &fakeInsights{}
		out, err := run(t, f, "tenants", "save", "--abbreviation", "NEW", "--name", "New Co",
			"--directory-id", "dir-1", "--client-id", "app", "--client-secret", "s3cret")
		require.NoError(t, err)
		require.Len(t, f.saved, 1)
		require.Equal(t, "dir-1", f.saved[0].ExternalTenantID)
		require.Equal(t, &tenants.Credentials{ClientID: "app", ClientSecret: "s3cret"}, f.saved[0].Credentials)
		require.Contains(t, out, "saved NEW (t-new)")
	})

	t.Run("save rejects missing name", func(t *testing.T) {
		_, err := run(t, &fakeInsights{}, "tenants", "save", "--abbreviation", "NEW")
		require.ErrorIs(t, err, errors.ErrInvalidTenant)
	})
}

func TestHelpDoesNotOpenService(t *testing.T) {
	var out bytes.Buffer
	open := func(ctx context.Context) (server.Insights, func() error, error) {
		t.Fatal("service opened for help")
		return nil, nil, nil
	}
	require.NoError(t, execute(config.Security{}, open, &out, []string{"help"}))
	require.NoError(t, execute(config.Security{}, open, &out, []string{"score", "--help"}))
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("JWT_ISSUER", "")
	var out bytes.Buffer
	open := func(ctx context.Context) (server.Insights, func() error, error) {
		t.Fatal("service opened for token")
		return nil, nil, nil
	}
	err := execute(config.Security{}, open, &out, []string{"token", "ops@example.com", "--role", "admin", "--out", "json"})
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	require.Equal(t, "Bearer", body["token_type"])
	require.NotEmpty(t, body["access_token"])

	err = execute(config.Security{}, open, &out, []string{"token", "ops@example.com", "--role", "root"})
	require.Error(t, err)
}
