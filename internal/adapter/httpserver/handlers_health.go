package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "github.com/pscheid92/streamscout/internal/platform/errors"
	"github.com/pscheid92/streamscout/internal/platform/version"
)

const readinessProbeTimeout = 5 * time.Second

// HealthCheck is a named dependency check run by the readiness probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthResponse struct {
	Status              string    `json:"status"`
	CacheActive         bool      `json:"cache_active"`
	CacheAgeSeconds     *int      `json:"cache_age_seconds"`
	Generation          uint64    `json:"generation"`
	IsRefreshing        bool      `json:"is_refreshing"`
	RefreshCount        int       `json:"refresh_count"`
	LastRefreshStatus   string    `json:"last_refresh_status"`
	LastRefreshDuration float64   `json:"last_refresh_duration"`
	LastError           *string   `json:"last_error"`
	Timestamp           time.Time `json:"timestamp"`
}

type cacheStatus struct {
	HasData             bool    `json:"has_data"`
	Generation          uint64  `json:"generation"`
	AgeSeconds          *int    `json:"age_seconds"`
	NextRefreshSeconds  int     `json:"next_refresh_seconds"`
	TotalRefreshes      int     `json:"total_refreshes"`
	LastDurationSeconds float64 `json:"last_duration_seconds"`
}

type workerStatus struct {
	IsRefreshing bool       `json:"is_refreshing"`
	LastStatus   string     `json:"last_status"`
	LastError    *string    `json:"last_error"`
	LastAttempt  *time.Time `json:"last_attempt"`
	LastSuccess  *time.Time `json:"last_success"`
}

type detailedStatusResponse struct {
	Service   string       `json:"service"`
	Version   string       `json:"version"`
	Cache     cacheStatus  `json:"cache"`
	Worker    workerStatus `json:"worker"`
	Timestamp time.Time    `json:"timestamp"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/api/v1/health", s.handleHealth)
	s.echo.GET("/api/v1/status", s.handleStatus)
}

func (s *Server) handleRoot(c echo.Context) error {
	response := map[string]any{
		"status":  "online",
		"service": version.Service,
		"version": version.Version,
		"endpoints": map[string]string{
			"analysis":      "/api/v1/analyze",
			"force_refresh": "/api/v1/force-refresh",
			"health":        "/api/v1/health",
			"status":        "/api/v1/status",
		},
	}
	if s.config.RefreshInterval > 0 {
		response["refresh_interval_minutes"] = s.config.RefreshInterval.Minutes()
	}
	if s.config.RefreshSchedule != "" {
		response["refresh_schedule"] = s.config.RefreshSchedule
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write root response: %w", err)
	}
	return nil
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": s.clock.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// handleReadiness reports 503 until the first ranking has been installed and
// while any dependency check fails.
func (s *Server) handleReadiness(c echo.Context) error {
	if !s.service.Health().Ready {
		response := map[string]any{"status": "warming_up"}
		if err := c.JSON(http.StatusServiceUnavailable, response); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	for _, hc := range s.healthChecks {
		err := hc.Check(ctx)
		if err == nil {
			continue
		}

		return apperrors.UnavailableError("dependency check failed", err).
			WithField("failed_check", hc.Name).
			WithField("reason", err.Error())
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ready"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	h := s.service.Health()
	response := healthResponse{
		Status:              "healthy",
		CacheActive:         h.Ready,
		Generation:          h.Generation,
		IsRefreshing:        h.Scheduler.Running,
		RefreshCount:        h.Scheduler.BuildsCompleted,
		LastRefreshStatus:   string(h.LastBuildStatus),
		LastRefreshDuration: round(h.Scheduler.LastDuration.Seconds(), 2),
		LastError:           optionalString(h.Scheduler.LastError),
		Timestamp:           s.clock.Now().UTC(),
	}
	if h.Ready {
		response.CacheAgeSeconds = optionalSeconds(h.LastBuildAge)
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write health response: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(c echo.Context) error {
	h := s.service.Health()
	now := s.clock.Now()

	response := detailedStatusResponse{
		Service: version.Service,
		Version: version.Version,
		Cache: cacheStatus{
			HasData:             h.Ready,
			Generation:          h.Generation,
			TotalRefreshes:      h.Scheduler.BuildsCompleted,
			LastDurationSeconds: round(h.Scheduler.LastDuration.Seconds(), 2),
		},
		Worker: workerStatus{
			IsRefreshing: h.Scheduler.Running,
			LastStatus:   string(h.LastBuildStatus),
			LastError:    optionalString(h.Scheduler.LastError),
			LastAttempt:  optionalTime(h.Scheduler.LastAttempt),
			LastSuccess:  optionalTime(h.Scheduler.LastSuccess),
		},
		Timestamp: now.UTC(),
	}
	if h.Ready {
		response.Cache.AgeSeconds = optionalSeconds(h.LastBuildAge)
	}
	if !h.Scheduler.NextRun.IsZero() {
		response.Cache.NextRefreshSeconds = int(max(0, h.Scheduler.NextRun.Sub(now)).Seconds())
	}

	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write status response: %w", err)
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalSeconds(d time.Duration) *int {
	v := int(d.Seconds())
	return &v
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
