package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-store-claimer/escalation"
	"github.com/jrsteele09/go-store-claimer/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const defaultMaxBody = 64 << 10

// Escalations is the resolver side of human escalations.
type Escalations interface {
	Visit(token string) (string, error)
	Resolve(token string, payload escalation.Payload) error
	PendingCount() int
}

var _ Escalations = (*escalation.Escalator)(nil)

// Server is the callback surface humans reach from notification links, plus health and
// metrics endpoints.
type Server struct {
	env         string // Environment (e.g., "DEV", "PROD")
	mux         *http.ServeMux
	routes      []string
	escalations Escalations
	metrics     http.Handler
	maxBody     int64
	logger      zerolog.Logger
}

type Option func(*Server)

// WithMetricsHandler replaces the default prometheus handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithMaxBody(n int64) Option {
	return func(s *Server) {
		s.maxBody = n
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(cfg config.EnvConfig, escalations Escalations, opts ...Option) *Server {
	s := &Server{
		env:         cfg.GetEnv(),
		mux:         http.NewServeMux(),
		escalations: escalations,
		metrics:     promhttp.Handler(),
		maxBody:     defaultMaxBody,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Routes lists the registered patterns.
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	s.logger.Debug().Msg(fmt.Sprintf("[%-19s] %s", colourMethod(method), path))
}

func colourMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}
