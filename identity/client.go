// Package identity reads users, access policies, directory roles and licenses
// from a Graph-style directory API. Every call is scoped to one tenant's
// directory and authenticated with a token issued for that directory.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/jrsteele09/tenant-insights/apiclient"
	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/internal/metrics"
	"github.com/jrsteele09/tenant-insights/tenants"
	"github.com/jrsteele09/tenant-insights/token"
	"github.com/rs/zerolog"
)

const (
	DefaultAuthority = "https://login.microsoftonline.com"
	DefaultScope     = "https://graph.microsoft.com/.default"
	DefaultBaseURL   = "https://graph.microsoft.com/v1.0"

	// Global Administrator
	DefaultPrivilegedRoleTemplateID = "62e90394-69f5-4237-9190-012177145e10"
)

// Directory is the read surface the engines depend on.
type Directory interface {
	ListUsers(ctx context.Context, tenantID string) ([]User, error)
	ListAccessPolicies(ctx context.Context, tenantID string) ([]Policy, error)
	ListPrivilegedRoleMembers(ctx context.Context, tenantID, roleTemplateID string) ([]RoleMember, error)
	ListLicenses(ctx context.Context, tenantID string) ([]License, error)
}

// TenantLookup resolves an internal tenant id to its directory settings.
type TenantLookup interface {
	Get(ctx context.Context, tenantID string) (*tenants.Tenant, error)
}

type Config struct {
	Authority    string // token authority; token URL is {Authority}/{directory}/oauth2/v2.0/token
	Scope        string
	BaseURL      string
	ClientID     string
	ClientSecret string
}

type Client struct {
	cfg        Config
	tokens     token.Source
	lookup     TenantLookup
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mu      sync.RWMutex
	clients map[string]directoryAPI // credential key -> client
}

// directoryAPI is a client together with the credential it was built from.
type directoryAPI struct {
	cred token.Credential
	api  *apiclient.Client
}

// sameCredential reports whether a and b would exchange for the same token.
func sameCredential(a, b token.Credential) bool {
	return a.ClientID == b.ClientID &&
		a.ClientSecret == b.ClientSecret &&
		a.TokenURL == b.TokenURL &&
		a.Issuer == b.Issuer &&
		slices.Equal(a.Scopes, b.Scopes)
}

var _ Directory = (*Client)(nil)

type Option func(*Client)

// WithTenantLookup maps internal tenant ids to directories. Without it the
// tenant id passed to each call is used as the directory id.
func WithTenantLookup(lookup TenantLookup) Option {
	return func(c *Client) {
		c.lookup = lookup
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func New(cfg Config, tokens token.Source, options ...Option) *Client {
	if cfg.Authority == "" {
		cfg.Authority = DefaultAuthority
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.Authority = strings.TrimRight(cfg.Authority, "/")

	c := &Client{
		cfg:     cfg,
		tokens:  tokens,
		clients: make(map[string]directoryAPI),
		logger:  logging.Component("identity"),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Credential returns the token credential used for tenantID's directory.
func (c *Client) Credential(ctx context.Context, tenantID string) (token.Credential, error) {
	directoryID := tenantID
	clientID, clientSecret := c.cfg.ClientID, c.cfg.ClientSecret

	if c.lookup != nil {
		t, err := c.lookup.Get(ctx, tenantID)
		if err != nil {
			return token.Credential{}, err
		}
		if t.ExternalTenantID == "" {
			return token.Credential{}, errors.Wrapf(errors.ErrNoExternalTenant, "tenant %s", t.Label())
		}
		directoryID = t.ExternalTenantID
		if t.Credentials != nil && t.Credentials.ClientID != "" {
			clientID, clientSecret = t.Credentials.ClientID, t.Credentials.ClientSecret
		}
	}

	return token.Credential{
		ID:           "identity:" + directoryID + ":" + clientID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.cfg.Authority, url.PathEscape(directoryID)),
		Scopes:       []string{c.cfg.Scope},
	}, nil
}

func (c *Client) ListUsers(ctx context.Context, tenantID string) ([]User, error) {
	api, err := c.api(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return listAll[User](ctx, api, "/users?$select=id,displayName,userPrincipalName,accountEnabled,userType")
}

func (c *Client) ListAccessPolicies(ctx context.Context, tenantID string) ([]Policy, error) {
	api, err := c.api(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return listAll[Policy](ctx, api, "/identity/conditionalAccess/policies")
}

func (c *Client) ListPrivilegedRoleMembers(ctx context.Context, tenantID, roleTemplateID string) ([]RoleMember, error) {
	api, err := c.api(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if roleTemplateID == "" {
		roleTemplateID = DefaultPrivilegedRoleTemplateID
	}
	path := fmt.Sprintf("/directoryRoles(roleTemplateId='%s')/members", url.PathEscape(roleTemplateID))
	members, err := listAll[RoleMember](ctx, api, path)
	if errors.StatusOf(err) == http.StatusNotFound {
		// The role is only materialized once somebody has been assigned to it.
		return nil, nil
	}
	return members, err
}

func (c *Client) ListLicenses(ctx context.Context, tenantID string) ([]License, error) {
	api, err := c.api(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	skus, err := listAll[subscribedSku](ctx, api, "/subscribedSkus")
	if err != nil {
		return nil, err
	}
	licenses := make([]License, 0, len(skus))
	for _, s := range skus {
		licenses = append(licenses, s.license())
	}
	return licenses, nil
}

func (c *Client) api(ctx context.Context, tenantID string) (*apiclient.Client, error) {
	cred, err := c.Credential(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	cached, exists := c.clients[cred.ID]
	c.mu.RUnlock()
	if exists && sameCredential(cached.cred, cred) {
		return cached.api, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, exists = c.clients[cred.ID]; exists && sameCredential(cached.cred, cred) {
		return cached.api, nil
	}
	if exists {
		c.logger.Info().Str("credential", cred.String()).Msg("directory credential changed, rebuilding client")
	}

	opts := []apiclient.Option{
		apiclient.WithName("identity"),
		apiclient.WithMetrics(c.metrics),
		apiclient.WithLogger(c.logger),
	}
	if c.httpClient != nil {
		opts = append(opts, apiclient.WithHTTPClient(c.httpClient))
	}
	api := apiclient.New(c.cfg.BaseURL, cred, c.tokens, opts...)
	c.clients[cred.ID] = directoryAPI{cred: cred, api: api}
	return api, nil
}

// listAll follows @odata.nextLink until the last page.
func listAll[T any](ctx context.Context, api *apiclient.Client, path string) ([]T, error) {
	var all []T
	for path != "" {
		page, err := apiclient.Get[collection[T]](ctx, api, path)
		if err != nil {
			return nil, err
		}
		if page == nil {
			break
		}
		all = append(all, page.Value...)
		path = page.NextLink
	}
	return all, nil
}
