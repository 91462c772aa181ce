package httpserver

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/streamscout/internal/app"
	"github.com/pscheid92/streamscout/internal/domain"
	apperrors "github.com/pscheid92/streamscout/internal/platform/errors"
)

type opportunityResponse struct {
	Rank                 int     `json:"rank"`
	GameID               string  `json:"game_id"`
	GameName             string  `json:"game_name"`
	BoxArtURL            string  `json:"box_art_url"`
	TotalViewers         int     `json:"total_viewers"`
	Channels             int     `json:"channels"`
	AvgViewersPerChannel float64 `json:"avg_viewers_per_channel"`
	TopChannelShare      float64 `json:"top_channel_share"`
	OverallScore         float64 `json:"overall_score"`
}

type rankingResponse struct {
	Status                 string                `json:"status"`
	Timestamp              time.Time             `json:"timestamp"`
	Generation             uint64                `json:"generation"`
	Partial                bool                  `json:"partial"`
	Stale                  bool                  `json:"stale"`
	TotalGamesAnalyzed     int                   `json:"total_games_analyzed"`
	RefreshIntervalMinutes float64               `json:"refresh_interval_minutes,omitempty"`
	RefreshSchedule        string                `json:"refresh_schedule,omitempty"`
	CacheAgeSeconds        int                   `json:"cache_age_seconds"`
	NextRefreshInSeconds   int                   `json:"next_refresh_in_seconds"`
	IsRefreshing           bool                  `json:"is_refreshing"`
	TopOpportunities       []opportunityResponse `json:"top_opportunities"`
}

type statusResponse struct {
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	IsRefreshing bool      `json:"is_refreshing,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) registerRankingRoutes() {
	api := s.echo.Group("/api/v1")
	api.GET("/analyze", s.handleAnalyze)
	api.POST("/force-refresh", s.handleForceRefresh, newRateLimiter(s.config.ForceRefreshRate, s.config.ForceRefreshBurst))
}

func (s *Server) handleAnalyze(c echo.Context) error {
	limit, err := s.parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}

	view, err := s.service.GetRanking(limit)
	if errors.Is(err, domain.ErrRankingUnavailable) {
		resp := statusResponse{
			Status:       "warming_up",
			Message:      "The first ranking is still being built. Please retry shortly.",
			IsRefreshing: s.service.Health().Scheduler.Running,
			Timestamp:    s.clock.Now().UTC(),
		}
		if err := c.JSON(http.StatusAccepted, resp); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}
	if err != nil {
		return apperrors.InternalError("failed to read ranking", err)
	}

	if err := c.JSON(http.StatusOK, s.rankingResponse(view)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// parseLimit accepts an empty value (the configured size) or an integer,
// clamped to [1, MaxRankingSize].
func (s *Server) parseLimit(raw string) (int, error) {
	if raw == "" {
		return s.defaultLimit(), nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.ValidationError("limit must be an integer").WithField("limit", raw)
	}
	return min(max(limit, 1), domain.MaxRankingSize), nil
}

func (s *Server) defaultLimit() int {
	if s.config.DefaultLimit < 1 || s.config.DefaultLimit > domain.MaxRankingSize {
		return domain.MaxRankingSize
	}
	return s.config.DefaultLimit
}

func (s *Server) rankingResponse(view app.RankingView) rankingResponse {
	resp := rankingResponse{
		Status:                 "ok",
		Timestamp:              view.ComputedAt.UTC(),
		Generation:             view.Generation,
		Partial:                view.Partial,
		Stale:                  view.Stale || view.Invalidated,
		TotalGamesAnalyzed:     view.TotalEligible,
		RefreshIntervalMinutes: s.config.RefreshInterval.Minutes(),
		RefreshSchedule:        s.config.RefreshSchedule,
		CacheAgeSeconds:        int(view.Age.Seconds()),
		IsRefreshing:           view.Refreshing,
		TopOpportunities:       make([]opportunityResponse, 0, len(view.Entries)),
	}
	if !view.NextRefresh.IsZero() {
		resp.NextRefreshInSeconds = int(max(0, view.NextRefresh.Sub(s.clock.Now())).Seconds())
	}

	for _, e := range view.Entries {
		resp.TopOpportunities = append(resp.TopOpportunities, opportunityResponse{
			Rank:                 e.Rank,
			GameID:               e.ID,
			GameName:             e.Name,
			BoxArtURL:            e.BoxArtURL,
			TotalViewers:         e.Viewers,
			Channels:             e.Broadcasters,
			AvgViewersPerChannel: round(e.AvgViewersPerChannel(), 1),
			TopChannelShare:      round(e.TopChannelShare(), 3),
			OverallScore:         round(e.Score, 3),
		})
	}
	return resp
}

func (s *Server) handleForceRefresh(c echo.Context) error {
	err := s.service.ForceRefresh()
	if errors.Is(err, domain.ErrBuildInProgress) {
		resp := statusResponse{
			Status:    "already_refreshing",
			Message:   "A refresh is already in progress",
			Timestamp: s.clock.Now().UTC(),
		}
		if err := c.JSON(http.StatusConflict, resp); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}
	if err != nil {
		return apperrors.InternalError("failed to start refresh", err)
	}

	resp := statusResponse{
		Status:    "refresh_started",
		Message:   "Background refresh triggered",
		Timestamp: s.clock.Now().UTC(),
	}
	if err := c.JSON(http.StatusAccepted, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
