package server

func (s *Server) initRoutes() {
	// Human-facing escalation links
	s.RegisterRouteHandler("GET "+RouteResolve, ChainMiddleware(s.VisitHandler(), s.LinkMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteResolve, ChainMiddleware(s.CallbackHandler(), s.LinkMiddleware()...))

	// Operations
	s.RegisterRouteFunc("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.OpsMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteMetrics, ChainMiddleware(s.metrics.ServeHTTP, s.OpsMiddleware()...))
}
