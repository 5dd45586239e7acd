package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Health & Metrics
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"

	// Tenant Routes
	RouteTenants       = "/api/tenants"
	RouteSecurityScore = "/api/tenants/{id}/security-score"

	// License Routes
	RouteLicenseOptimization = "/api/licenses/optimization"

	// RMM Routes
	RouteFleet         = "/api/fleet"
	RouteDeviceActions = "/api/devices/{id}/actions"
)
