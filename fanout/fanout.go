// Package fanout runs one call per tenant concurrently and reports every
// tenant's outcome, successful or not, in input order.
package fanout

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/internal/metrics"
	"github.com/jrsteele09/tenant-insights/tenants"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Result is one tenant's outcome. Value is the zero value when Failed.
type Result[R any] struct {
	Tenant *tenants.Tenant
	Value  R
	Err    error
	Failed bool
}

// Batch holds results in the same order as the tenants passed to Aggregate.
type Batch[R any] struct {
	Results       []Result[R]
	FailedTenants []string
}

// Succeeded returns the non-failed results, preserving order.
func (b Batch[R]) Succeeded() []Result[R] {
	out := make([]Result[R], 0, len(b.Results))
	for _, r := range b.Results {
		if !r.Failed {
			out = append(out, r)
		}
	}
	return out
}

type Func[R any] func(ctx context.Context, t *tenants.Tenant) (R, error)

type options struct {
	concurrency int64
	operation   string
	metrics     *metrics.Metrics
	logger      *zerolog.Logger
}

type Option func(*options)

// WithConcurrency bounds how many tenant calls run at once. Zero or less is unbounded.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = int64(n)
	}
}

// WithOperation names the batch in logs and metrics.
func WithOperation(name string) Option {
	return func(o *options) {
		o.operation = name
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// Aggregate calls fn for every tenant and waits for all of them. A failure,
// panic or timeout in one call never cancels the others and is never retried.
func Aggregate[R any](ctx context.Context, list []*tenants.Tenant, fn Func[R], opts ...Option) Batch[R] {
	o := &options{operation: "fanout"}
	for _, opt := range opts {
		opt(o)
	}
	logger := logging.Component("fanout")
	if o.logger != nil {
		logger = *o.logger
	}

	var sem *semaphore.Weighted
	if o.concurrency > 0 {
		sem = semaphore.NewWeighted(o.concurrency)
	}

	results := make([]Result[R], len(list))
	var wg sync.WaitGroup
	for i, t := range list {
		results[i].Tenant = t
		wg.Add(1)
		go func(i int, t *tenants.Tenant) {
			defer wg.Done()
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					results[i].Err = err
					return
				}
				defer sem.Release(1)
			}
			results[i].Value, results[i].Err = call(ctx, t, fn)
		}(i, t)
	}
	wg.Wait()

	batch := Batch[R]{Results: results}
	for i := range results {
		r := &results[i]
		r.Failed = r.Err != nil
		o.metrics.FanoutResult(o.operation, r.Failed)
		if !r.Failed {
			continue
		}
		var zero R
		r.Value = zero
		batch.FailedTenants = append(batch.FailedTenants, r.Tenant.ID)
		logger.Warn().Err(r.Err).
			Str("operation", o.operation).
			Str("tenant_id", r.Tenant.ID).
			Str("tenant", r.Tenant.Abbreviation).
			Msg("tenant call failed")
	}
	return batch
}

func call[R any](ctx context.Context, t *tenants.Tenant, fn Func[R]) (value R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("[fanout call] panic for tenant %s: %v\n%s", t.ID, rec, debug.Stack())
		}
	}()
	return fn(ctx, t)
}
