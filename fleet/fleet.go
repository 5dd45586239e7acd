// Package fleet summarizes each tenant's managed devices from the RMM account.
package fleet

import (
	"context"
	"sort"
	"time"

	"github.com/jrsteele09/tenant-insights/fanout"
	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/internal/metrics"
	"github.com/jrsteele09/tenant-insights/resultcache"
	"github.com/jrsteele09/tenant-insights/rmm"
	"github.com/jrsteele09/tenant-insights/tenants"
	"github.com/rs/zerolog"
)

const DefaultTTL = 5 * time.Minute

// TenantSummary is one tenant's device inventory.
type TenantSummary struct {
	TenantID       string         `json:"tenant_id"`
	TenantAbbrv    string         `json:"tenant_abbrv"`
	OrganizationID string         `json:"organization_id"`
	TotalDevices   int            `json:"total_devices"`
	OfflineDevices int            `json:"offline_devices"`
	ByNodeClass    map[string]int `json:"by_node_class"`
	CollectedAt    time.Time      `json:"collected_at"`
}

type Report struct {
	Tenants          []*TenantSummary `json:"tenants"`
	TotalDevices     int              `json:"total_devices"`
	OfflineDevices   int              `json:"offline_devices"`
	UnmanagedTenants []string         `json:"unmanaged_tenants,omitempty"` // no RMM organization
	FailedTenants    []string         `json:"failed_tenants,omitempty"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

type Service struct {
	api         rmm.API
	cache       *resultcache.Cache[*TenantSummary]
	pageSize    int
	concurrency int
	nowFunc     func() time.Time
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

type Option func(*Service)

func WithCache(c *resultcache.Cache[*TenantSummary]) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithPageSize(n int) Option {
	return func(s *Service) {
		s.pageSize = n
	}
}

func WithConcurrency(n int) Option {
	return func(s *Service) {
		s.concurrency = n
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) {
		s.nowFunc = now
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func New(api rmm.API, options ...Option) *Service {
	s := &Service{
		api:      api,
		pageSize: rmm.DefaultPageSize,
		nowFunc:  time.Now,
		logger:   logging.Component("fleet"),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.cache == nil {
		s.cache = resultcache.New("fleet", resultcache.NewMemoryStore[*TenantSummary](), DefaultTTL,
			resultcache.WithNowFunc[*TenantSummary](s.nowFunc), resultcache.WithMetrics[*TenantSummary](s.metrics))
	}
	return s
}

// Tenant returns the tenant's cached inventory, collecting it when stale.
func (s *Service) Tenant(ctx context.Context, t *tenants.Tenant) (*TenantSummary, error) {
	if t.RMMOrganizationID == "" {
		return nil, errors.Wrapf(errors.ErrNoRMMOrganization, "tenant %s", t.Label())
	}
	if cached, ok := s.cache.Get(ctx, t.ID); ok {
		return cached, nil
	}

	devices, err := rmm.ListAllDevicesForOrg(ctx, s.api, t.RMMOrganizationID, s.pageSize)
	if err != nil {
		return nil, err
	}

	summary := &TenantSummary{
		TenantID:       t.ID,
		TenantAbbrv:    t.Abbreviation,
		OrganizationID: t.RMMOrganizationID,
		TotalDevices:   len(devices),
		ByNodeClass:    make(map[string]int),
		CollectedAt:    s.nowFunc(),
	}
	for _, d := range devices {
		if d.Offline {
			summary.OfflineDevices++
		}
		class := d.NodeClass
		if class == "" {
			class = "UNKNOWN"
		}
		summary.ByNodeClass[class]++
	}

	s.cache.Set(ctx, t.ID, summary)
	return summary, nil
}

// Summarize collects every managed tenant concurrently. Tenants without an
// RMM organization are listed as unmanaged rather than failed.
func (s *Service) Summarize(ctx context.Context, list []*tenants.Tenant) *Report {
	report := &Report{Tenants: []*TenantSummary{}, GeneratedAt: s.nowFunc()}

	managed := make([]*tenants.Tenant, 0, len(list))
	for _, t := range list {
		if t.RMMOrganizationID == "" {
			report.UnmanagedTenants = append(report.UnmanagedTenants, t.ID)
			continue
		}
		managed = append(managed, t)
	}

	batch := fanout.Aggregate(ctx, managed, s.Tenant,
		fanout.WithOperation("fleet"),
		fanout.WithConcurrency(s.concurrency),
		fanout.WithMetrics(s.metrics),
		fanout.WithLogger(s.logger),
	)
	report.FailedTenants = batch.FailedTenants
	for _, r := range batch.Succeeded() {
		report.Tenants = append(report.Tenants, r.Value)
		report.TotalDevices += r.Value.TotalDevices
		report.OfflineDevices += r.Value.OfflineDevices
	}
	return report
}

func (s *Service) Invalidate(ctx context.Context, tenantID string) {
	s.cache.Invalidate(ctx, tenantID)
}

// NodeClasses returns the summary's node classes in a stable order.
func (ts *TenantSummary) NodeClasses() []string {
	classes := make([]string, 0, len(ts.ByNodeClass))
	for c := range ts.ByNodeClass {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}
