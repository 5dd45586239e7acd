package server

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteMetrics, s.metricsHandler())

	// Tenants
	s.RegisterRouteHandler("GET "+RouteTenants, ChainMiddleware(s.ListTenantsHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireCapability(CapTenantsRead))...))
	s.RegisterRouteHandler("POST "+RouteTenants, ChainMiddleware(s.SaveTenantHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireCapability(CapTenantsManage))...))

	// Security scores
	s.RegisterRouteHandler("GET "+RouteSecurityScore, ChainMiddleware(s.SecurityScoreHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireCapability(CapScoresRead))...))
	s.RegisterRouteHandler("DELETE "+RouteSecurityScore, ChainMiddleware(s.InvalidateScoreHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireCapability(CapScoresInvalidate))...))

	// License optimization
	s.RegisterRouteHandler("GET "+RouteLicenseOptimization, ChainMiddleware(s.OptimizationHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireCapability(CapLicensesRead))...))
	s.RegisterRouteHandler("DELETE "+RouteLicenseOptimization, ChainMiddleware(s.InvalidateOptimizationHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireCapability(CapLicensesInvalidate))...))

	// Fleet & device actions
	s.RegisterRouteHandler("GET "+RouteFleet, ChainMiddleware(s.FleetHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireCapability(CapFleetRead))...))
	s.RegisterRouteHandler("POST "+RouteDeviceActions, ChainMiddleware(s.DeviceActionHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireCapability(CapDevicesAct))...))
}
