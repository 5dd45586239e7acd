// Package metrics holds the Prometheus collectors shared by the token cache,
// API clients, fan-out aggregator and result caches.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	TokenExchanges   *prometheus.CounterVec
	ExternalRequests *prometheus.CounterVec
	ExternalLatency  *prometheus.HistogramVec
	FanoutResults    *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	DeviceActions    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		TokenExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "token_exchanges_total",
			Help: "Client-credentials token exchanges by result",
		}, []string{"result"}), // result: ok|auth_error|timeout

		ExternalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "external_requests_total",
			Help: "Calls to external APIs by api and outcome",
		}, []string{"api", "outcome"}), // outcome: ok|no_content|api_error|timeout|error

		ExternalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "external_request_duration_seconds",
			Help:    "Latency of calls to external APIs",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"api"}),

		FanoutResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanout_tenant_results_total",
			Help: "Per-tenant results of fan-out batches",
		}, []string{"operation", "result"}), // result: ok|failed

		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "result_cache_lookups_total",
			Help: "Result cache lookups by cache and result",
		}, []string{"cache", "result"}), // result: hit|miss|error

		DeviceActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_actions_total",
			Help: "RMM device actions dispatched by action and result",
		}, []string{"action", "result"}),
	}

	for _, c := range []prometheus.Collector{
		m.TokenExchanges, m.ExternalRequests, m.ExternalLatency,
		m.FanoutResults, m.CacheLookups, m.DeviceActions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) TokenExchange(result string) {
	if m == nil {
		return
	}
	m.TokenExchanges.WithLabelValues(result).Inc()
}

func (m *Metrics) ExternalRequest(api, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ExternalRequests.WithLabelValues(api, outcome).Inc()
	m.ExternalLatency.WithLabelValues(api).Observe(seconds)
}

func (m *Metrics) FanoutResult(operation string, failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	m.FanoutResults.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) CacheLookup(cache, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) DeviceAction(action, result string) {
	if m == nil {
		return
	}
	m.DeviceActions.WithLabelValues(action, result).Inc()
}
