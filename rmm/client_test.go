package rmm_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/tenant-insights/apiclient"
	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/rmm"
	"github.com/jrsteele09/tenant-insights/token"
	"github.com/stretchr/testify/require"
)

type staticTokens struct{}

func (staticTokens) GetToken(ctx context.Context, cred token.Credential) (token.AccessToken, error) {
	return token.AccessToken{Value: "rmm-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type recordedCall struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

type fakeRMM struct {
	mu      sync.Mutex
	calls   []recordedCall
	devices []rmm.Device
}

func (f *fakeRMM) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/devices", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer rmm-token", r.Header.Get("Authorization"))
		require.Equal(t, "org=7", r.URL.Query().Get("df"))
		size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		after, _ := strconv.Atoi(r.URL.Query().Get("after"))

		page := []rmm.Device{}
		for _, d := range f.devices {
			if d.ID > after && len(page) < size {
				page = append(page, d)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	})
	mux.HandleFunc("GET /v2/organizations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":7,"name":"Acme"},{"id":9,"name":"Globex"}]`))
	})
	mux.HandleFunc("/v2/device/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{Method: r.Method, Path: r.URL.Path, Body: body})
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (f *fakeRMM) lastCall() recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newClient(t *testing.T, f *fakeRMM) (*rmm.Client, func()) {
	srv := httptest.NewServer(f.handler(t))
	c := rmm.New(rmm.Config{BaseURL: srv.URL, ClientID: "acct", TokenURL: srv.URL + "/ws/oauth/token", Scope: "monitoring management"}, staticTokens{})
	return c, srv.Close
}

func TestClient_Devices(t *testing.T) {
	f := &fakeRMM{}
	for i := 1; i <= 5; i++ {
		f.devices = append(f.devices, rmm.Device{ID: i * 10, OrganizationID: 7, SystemName: fmt.Sprintf("PC-%d", i)})
	}
	c, closeFn := newClient(t, f)
	defer closeFn()
	ctx := context.Background()

	t.Run("single page", func(t *testing.T) {
		page, err := c.ListDevicesForOrg(ctx, "7", apiclient.Page{PageSize: 2, After: "10"})
		require.NoError(t, err)
		require.Len(t, page, 2)
		require.Equal(t, 20, page[0].ID)
	})

	t.Run("all pages", func(t *testing.T) {
		all, err := rmm.ListAllDevicesForOrg(ctx, c, "7", 2)
		require.NoError(t, err)
		require.Len(t, all, 5)
		require.Equal(t, "PC-5", all[4].SystemName)
	})

	t.Run("exact multiple of page size", func(t *testing.T) {
		all, err := rmm.ListAllDevicesForOrg(ctx, c, "7", 5)
		require.NoError(t, err)
		require.Len(t, all, 5)
	})

	t.Run("organizations", func(t *testing.T) {
		orgs, err := c.ListOrganizations(ctx)
		require.NoError(t, err)
		require.Equal(t, []rmm.Organization{{ID: 7, Name: "Acme"}, {ID: 9, Name: "Globex"}}, orgs)
	})
}

// repeatingDevices serves the same full page whatever cursor is asked for.
type repeatingDevices struct {
	rmm.API
	calls int
}

func (r *repeatingDevices) ListDevicesForOrg(ctx context.Context, orgID string, page apiclient.Page) ([]rmm.Device, error) {
	r.calls++
	return []rmm.Device{{ID: 1}, {ID: 2}}, nil
}

func TestListAllDevicesForOrg_CursorMustAdvance(t *testing.T) {
	api := &repeatingDevices{}
	_, err := rmm.ListAllDevicesForOrg(context.Background(), api, "7", 2)
	require.ErrorIs(t, err, errors.ErrPageCursorStalled)
	require.Equal(t, 2, api.calls)
}

func TestClient_Actions(t *testing.T) {
	f := &fakeRMM{}
	c, closeFn := newClient(t, f)
	defer closeFn()
	ctx := context.Background()

	tests := []struct {
		name   string
		do     func() error
		method string
		path   string
	}{
		{"reboot", func() error { return c.Reboot(ctx, "42", rmm.RebootForced, "patch") }, http.MethodPost, "/v2/device/42/reboot/FORCED"},
		{"maintenance", func() error {
			return c.SetMaintenance(ctx, "42", rmm.Maintenance{DisabledFeatures: []string{"ALERTS"}, End: time.Unix(1700000000, 0)})
		}, http.MethodPut, "/v2/device/42/maintenance"},
		{"cancel maintenance", func() error { return c.CancelMaintenance(ctx, "42") }, http.MethodDelete, "/v2/device/42/maintenance"},
		{"patch scan", func() error { return c.ScanPatches(ctx, "42") }, http.MethodPost, "/v2/device/42/patch/os/scan"},
		{"patch apply", func() error { return c.ApplyPatches(ctx, "42") }, http.MethodPost, "/v2/device/42/patch/os/apply"},
		{"script", func() error { return c.RunScript(ctx, "42", rmm.Script{ID: "99", RunAs: "system"}) }, http.MethodPost, "/v2/device/42/script/run"},
		{"service", func() error { return c.ControlService(ctx, "42", "Spooler", rmm.ServiceRestart) }, http.MethodPost, "/v2/device/42/windows-service/Spooler/control"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.do())
			call := f.lastCall()
			require.Equal(t, tt.method, call.Method)
			require.Equal(t, tt.path, call.Path)
		})
	}

	require.Equal(t, float64(1700000000), f.calls[1].Body["end"])
	require.Equal(t, "RESTART", f.lastCall().Body["action"])
}

func TestConfig_Credential(t *testing.T) {
	cred := rmm.Config{ClientID: "acct", ClientSecret: "s", Issuer: "https://rmm.example.com", Scope: "monitoring  management"}.Credential()
	require.Equal(t, rmm.CredentialID, cred.ID)
	require.Equal(t, []string{"monitoring", "management"}, cred.Scopes)
	require.NoError(t, cred.Validate())
}
