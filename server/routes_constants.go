package server

import "github.com/jrsteele09/go-store-claimer/escalation"

// Route path constants
const (
	// Escalation action links; the token is the last path segment.
	RouteResolve = escalation.ResolvePath + "{token}"

	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
