package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/pscheid92/streamscout/internal/app"
)

type rankingService interface {
	GetRanking(limit int) (app.RankingView, error)
	ForceRefresh() error
	Health() app.Health
}

// Config holds the transport settings taken from the process configuration.
type Config struct {
	Port         string
	DefaultLimit int
	// RefreshInterval is zero when refreshes follow RefreshSchedule.
	RefreshInterval   time.Duration
	RefreshSchedule   string
	ForceRefreshRate  float64
	ForceRefreshBurst int
}

type Server struct {
	echo   *echo.Echo
	config Config
	clock  clockwork.Clock

	service rankingService

	metricsHandler   http.Handler
	httpMetrics      requestMetrics
	websocketHandler http.Handler
	healthChecks     []HealthCheck

	startTime time.Time
}

type requestMetrics interface {
	Middleware() echo.MiddlewareFunc
	HTTPError(errType string)
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithMetrics serves handler on /metrics and records request metrics.
func WithMetrics(handler http.Handler, m requestMetrics) Option {
	return func(s *Server) {
		s.metricsHandler = handler
		s.httpMetrics = m
	}
}

// WithWebSocket mounts the realtime ranking feed on /connection/websocket.
func WithWebSocket(handler http.Handler) Option {
	return func(s *Server) { s.websocketHandler = handler }
}

// WithHealthChecks adds dependency checks to the readiness probe.
func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = append(s.healthChecks, checks...) }
}

func NewServer(cfg Config, service rankingService, clock clockwork.Clock, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		config:    cfg,
		clock:     clock,
		service:   service,
		startTime: clock.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests drive the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
