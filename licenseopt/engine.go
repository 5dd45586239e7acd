// Package licenseopt estimates monthly spend on unused license seats across tenants.
package licenseopt

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jrsteele09/tenant-insights/fanout"
	"github.com/jrsteele09/tenant-insights/identity"
	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/internal/metrics"
	"github.com/jrsteele09/tenant-insights/resultcache"
	"github.com/jrsteele09/tenant-insights/tenants"
	"github.com/rs/zerolog"
)

const (
	DefaultTTL = time.Hour

	// CacheKey is the single global entry; a summary always covers every tenant.
	CacheKey = "license-optimization"

	WellUtilizedPct = 80
	WastefulPct     = 50
)

type Severity string

const (
	SeverityReview   Severity = "review"
	SeverityWasteful Severity = "wasteful"
)

type Recommendation struct {
	TenantID               string   `json:"tenant_id"`
	TenantAbbrv            string   `json:"tenant_abbrv"`
	SkuPartNumber          string   `json:"sku_part_number"`
	TotalEnabled           int      `json:"total_enabled"`
	TotalConsumed          int      `json:"total_consumed"`
	UnusedCount            int      `json:"unused_count"`
	UtilizationPct         int      `json:"utilization_pct"`
	EstimatedWastePerMonth float64  `json:"estimated_waste_per_month"`
	Severity               Severity `json:"severity"`
	Recommendation         string   `json:"recommendation"`
}

type Summary struct {
	TotalEstimatedWaste float64          `json:"total_estimated_waste"`
	Recommendations     []Recommendation `json:"recommendations"`
	AnalyzedTenants     int              `json:"analyzed_tenants"`
	AnalyzedSkus        int              `json:"analyzed_skus"`
	FailedTenants       []string         `json:"failed_tenants,omitempty"`
	GeneratedAt         time.Time        `json:"generated_at"`
}

type Engine struct {
	directory   identity.Directory
	prices      PriceTable
	cache       *resultcache.Cache[*Summary]
	concurrency int
	nowFunc     func() time.Time
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

type Option func(*Engine)

func WithPrices(p PriceTable) Option {
	return func(e *Engine) {
		e.prices = p
	}
}

func WithCache(c *resultcache.Cache[*Summary]) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithConcurrency bounds the per-tenant license fetches.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		e.concurrency = n
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) {
		e.nowFunc = now
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func NewEngine(directory identity.Directory, options ...Option) *Engine {
	e := &Engine{
		directory: directory,
		nowFunc:   time.Now,
		logger:    logging.Component("licenseopt"),
	}
	for _, opt := range options {
		opt(e)
	}
	if e.prices == nil {
		e.prices = DefaultPrices()
	}
	if e.cache == nil {
		e.cache = resultcache.New("license_optimization", resultcache.NewMemoryStore[*Summary](), DefaultTTL,
			resultcache.WithNowFunc[*Summary](e.nowFunc), resultcache.WithMetrics[*Summary](e.metrics))
	}
	return e
}

// Analyze returns the cached summary while fresh; otherwise it fetches every
// tenant's licenses and rebuilds it. Tenants whose fetch fails are listed in
// FailedTenants and contribute nothing else.
func (e *Engine) Analyze(ctx context.Context, list []*tenants.Tenant) *Summary {
	if s, ok := e.cache.Get(ctx, CacheKey); ok {
		return s
	}

	batch := fanout.Aggregate(ctx, list, func(ctx context.Context, t *tenants.Tenant) ([]identity.License, error) {
		return e.directory.ListLicenses(ctx, t.ID)
	},
		fanout.WithOperation("license_optimization"),
		fanout.WithConcurrency(e.concurrency),
		fanout.WithMetrics(e.metrics),
		fanout.WithLogger(e.logger),
	)

	summary := &Summary{
		Recommendations: []Recommendation{},
		AnalyzedTenants: len(list),
		FailedTenants:   batch.FailedTenants,
		GeneratedAt:     e.nowFunc(),
	}
	for _, r := range batch.Succeeded() {
		for _, lic := range r.Value {
			if lic.EnabledUnits <= 0 {
				continue
			}
			// Free and unpriced SKUs are skipped entirely.
			price, known := e.prices.Lookup(lic.SkuPartNumber)
			if !known || price <= 0 {
				continue
			}
			summary.AnalyzedSkus++
			if rec, ok := e.evaluate(r.Tenant, lic, price); ok {
				summary.Recommendations = append(summary.Recommendations, rec)
			}
		}
	}

	sortRecommendations(summary.Recommendations)
	for _, rec := range summary.Recommendations {
		summary.TotalEstimatedWaste += rec.EstimatedWastePerMonth
	}

	e.cache.Set(ctx, CacheKey, summary)
	e.logger.Info().
		Int("tenants", summary.AnalyzedTenants).
		Int("skus", summary.AnalyzedSkus).
		Int("recommendations", len(summary.Recommendations)).
		Float64("waste", summary.TotalEstimatedWaste).
		Strs("failed_tenants", summary.FailedTenants).
		Msg("license optimization analyzed")
	return summary
}

func (e *Engine) Invalidate(ctx context.Context) {
	e.cache.Invalidate(ctx, CacheKey)
}

func (e *Engine) evaluate(t *tenants.Tenant, lic identity.License, price float64) (Recommendation, bool) {
	pct := int(math.Round(float64(lic.ConsumedUnits) / float64(lic.EnabledUnits) * 100))
	if pct >= WellUtilizedPct {
		return Recommendation{}, false
	}

	unused := lic.EnabledUnits - lic.ConsumedUnits
	waste := float64(unused) * price
	severity := SeverityReview
	if pct < WastefulPct {
		severity = SeverityWasteful
	}

	return Recommendation{
		TenantID:               t.ID,
		TenantAbbrv:            t.Abbreviation,
		SkuPartNumber:          lic.SkuPartNumber,
		TotalEnabled:           lic.EnabledUnits,
		TotalConsumed:          lic.ConsumedUnits,
		UnusedCount:            unused,
		UtilizationPct:         pct,
		EstimatedWastePerMonth: waste,
		Severity:               severity,
		Recommendation: fmt.Sprintf("%d unused %s licenses (%d%% utilized). Remove or reassign to save ~$%.0f/month.",
			unused, lic.SkuPartNumber, pct, math.Round(waste)),
	}, true
}

// sortRecommendations orders by waste descending; ties break on tenant then SKU.
func sortRecommendations(recs []Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.EstimatedWastePerMonth != b.EstimatedWastePerMonth {
			return a.EstimatedWastePerMonth > b.EstimatedWastePerMonth
		}
		if a.TenantAbbrv != b.TenantAbbrv {
			return a.TenantAbbrv < b.TenantAbbrv
		}
		return a.SkuPartNumber < b.SkuPartNumber
	})
}
