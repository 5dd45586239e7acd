// Package rmm talks to the remote monitoring and management API. One account
// credential covers every tenant; tenants map to RMM organizations.
package rmm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/tenant-insights/apiclient"
	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/internal/metrics"
	"github.com/jrsteele09/tenant-insights/token"
	"github.com/rs/zerolog"
)

const (
	DefaultPageSize = 200
	CredentialID    = "rmm"
)

type Organization struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Device struct {
	ID             int     `json:"id"`
	OrganizationID int     `json:"organizationId"`
	SystemName     string  `json:"systemName"`
	DisplayName    string  `json:"displayName"`
	NodeClass      string  `json:"nodeClass"` // e.g. WINDOWS_WORKSTATION, WINDOWS_SERVER, MAC
	Offline        bool    `json:"offline"`
	LastContact    float64 `json:"lastContact"` // unix seconds
}

func (d Device) LastContactTime() time.Time {
	if d.LastContact == 0 {
		return time.Time{}
	}
	sec := int64(d.LastContact)
	return time.Unix(sec, int64((d.LastContact-float64(sec))*1e9)).UTC()
}

// API is the surface used by the fleet summary and the action dispatcher.
type API interface {
	ListOrganizations(ctx context.Context) ([]Organization, error)
	ListDevicesForOrg(ctx context.Context, orgID string, page apiclient.Page) ([]Device, error)
	Actions
}

// Actions are fire-and-forget device commands; they report success or failure only.
type Actions interface {
	Reboot(ctx context.Context, deviceID string, mode RebootMode, reason string) error
	SetMaintenance(ctx context.Context, deviceID string, window Maintenance) error
	CancelMaintenance(ctx context.Context, deviceID string) error
	ScanPatches(ctx context.Context, deviceID string) error
	ApplyPatches(ctx context.Context, deviceID string) error
	RunScript(ctx context.Context, deviceID string, script Script) error
	ControlService(ctx context.Context, deviceID, serviceID string, action ServiceAction) error
}

type Config struct {
	BaseURL           string
	ClientID          string
	ClientSecret      string
	TokenURL          string
	Issuer            string
	Scope             string
	RequestsPerSecond float64
}

// Credential is the account-wide credential shared by every tenant.
func (c Config) Credential() token.Credential {
	return token.Credential{
		ID:           CredentialID,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Issuer:       c.Issuer,
		Scopes:       strings.Fields(c.Scope),
	}
}

type Client struct {
	api *apiclient.Client
}

var _ API = (*Client)(nil)

type clientOptions struct {
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

type Option func(*clientOptions)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *clientOptions) {
		o.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
	}
}

func New(cfg Config, tokens token.Source, options ...Option) *Client {
	o := &clientOptions{logger: logging.Component("rmm")}
	for _, opt := range options {
		opt(o)
	}
	apiOpts := []apiclient.Option{
		apiclient.WithName("rmm"),
		apiclient.WithMetrics(o.metrics),
		apiclient.WithLogger(o.logger),
		apiclient.WithRateLimit(cfg.RequestsPerSecond),
	}
	if o.httpClient != nil {
		apiOpts = append(apiOpts, apiclient.WithHTTPClient(o.httpClient))
	}
	return &Client{api: apiclient.New(cfg.BaseURL, cfg.Credential(), tokens, apiOpts...)}
}

func (c *Client) Credential() token.Credential {
	return c.api.Credential()
}

func (c *Client) ListOrganizations(ctx context.Context) ([]Organization, error) {
	orgs, err := apiclient.Get[[]Organization](ctx, c.api, "/v2/organizations")
	if err != nil || orgs == nil {
		return nil, err
	}
	return *orgs, nil
}

// ListDevicesForOrg returns one page of the organization's devices. The next
// page starts after the last device id returned.
func (c *Client) ListDevicesForOrg(ctx context.Context, orgID string, page apiclient.Page) ([]Device, error) {
	path := apiclient.WithPage("/v2/devices?df="+url.QueryEscape("org="+orgID), page)
	devices, err := apiclient.Get[[]Device](ctx, c.api, path)
	if err != nil || devices == nil {
		return nil, err
	}
	return *devices, nil
}

// ListAllDevicesForOrg pages through the organization until a short page.
// A full page whose last device id does not move the cursor forward is an
// error, since requesting the next page would return the same devices.
func ListAllDevicesForOrg(ctx context.Context, api API, orgID string, pageSize int) ([]Device, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var all []Device
	page := apiclient.Page{PageSize: pageSize}
	lastID := 0
	for {
		devices, err := api.ListDevicesForOrg(ctx, orgID, page)
		if err != nil {
			return nil, err
		}
		all = append(all, devices...)
		if len(devices) < pageSize {
			return all, nil
		}
		next := devices[len(devices)-1].ID
		if page.After != "" && next <= lastID {
			return nil, errors.Wrapf(errors.ErrPageCursorStalled, "[rmm ListAllDevicesForOrg] org %s stuck after device %d", orgID, lastID)
		}
		lastID = next
		page.After = strconv.Itoa(next)
	}
}

type RebootMode string

const (
	RebootNormal RebootMode = "NORMAL"
	RebootForced RebootMode = "FORCED"
)

func (c *Client) Reboot(ctx context.Context, deviceID string, mode RebootMode, reason string) error {
	if mode == "" {
		mode = RebootNormal
	}
	path := fmt.Sprintf("/v2/device/%s/reboot/%s", url.PathEscape(deviceID), mode)
	return c.api.Action(ctx, http.MethodPost, path, map[string]string{"reason": reason})
}

// Maintenance suppresses the listed features on a device until End.
type Maintenance struct {
	DisabledFeatures []string // ALERTS, PATCHING, AVSCANS, TASKS
	Start            time.Time
	End              time.Time
}

func (c *Client) SetMaintenance(ctx context.Context, deviceID string, window Maintenance) error {
	body := map[string]interface{}{
		"disabledFeatures": window.DisabledFeatures,
		"end":              window.End.Unix(),
	}
	if !window.Start.IsZero() {
		body["start"] = window.Start.Unix()
	}
	return c.api.Action(ctx, http.MethodPut, fmt.Sprintf("/v2/device/%s/maintenance", url.PathEscape(deviceID)), body)
}

func (c *Client) CancelMaintenance(ctx context.Context, deviceID string) error {
	return c.api.Action(ctx, http.MethodDelete, fmt.Sprintf("/v2/device/%s/maintenance", url.PathEscape(deviceID)), nil)
}

func (c *Client) ScanPatches(ctx context.Context, deviceID string) error {
	return c.api.Action(ctx, http.MethodPost, fmt.Sprintf("/v2/device/%s/patch/os/scan", url.PathEscape(deviceID)), nil)
}

func (c *Client) ApplyPatches(ctx context.Context, deviceID string) error {
	return c.api.Action(ctx, http.MethodPost, fmt.Sprintf("/v2/device/%s/patch/os/apply", url.PathEscape(deviceID)), nil)
}

type Script struct {
	ID         string `json:"id"`
	Parameters string `json:"parameters,omitempty"`
	RunAs      string `json:"runAs,omitempty"` // e.g. "system", "loggedonuser"
}

func (c *Client) RunScript(ctx context.Context, deviceID string, script Script) error {
	body := map[string]string{"type": "SCRIPT", "id": script.ID}
	if script.Parameters != "" {
		body["parameters"] = script.Parameters
	}
	if script.RunAs != "" {
		body["runAs"] = script.RunAs
	}
	return c.api.Action(ctx, http.MethodPost, fmt.Sprintf("/v2/device/%s/script/run", url.PathEscape(deviceID)), body)
}

type ServiceAction string

const (
	ServiceStart   ServiceAction = "START"
	ServiceStop    ServiceAction = "STOP"
	ServiceRestart ServiceAction = "RESTART"
)

func (c *Client) ControlService(ctx context.Context, deviceID, serviceID string, action ServiceAction) error {
	path := fmt.Sprintf("/v2/device/%s/windows-service/%s/control", url.PathEscape(deviceID), url.PathEscape(serviceID))
	return c.api.Action(ctx, http.MethodPost, path, map[string]string{"action": string(action)})
}
