package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/centrifugal/centrifuge"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/pscheid92/streamscout/internal/adapter/httpserver"
	"github.com/pscheid92/streamscout/internal/adapter/metrics"
	"github.com/pscheid92/streamscout/internal/adapter/redis"
	"github.com/pscheid92/streamscout/internal/adapter/twitch"
	"github.com/pscheid92/streamscout/internal/adapter/websocket"
	"github.com/pscheid92/streamscout/internal/app"
	"github.com/pscheid92/streamscout/internal/budget"
	"github.com/pscheid92/streamscout/internal/domain"
	"github.com/pscheid92/streamscout/internal/platform/config"
	"github.com/pscheid92/streamscout/internal/platform/logging"
	"github.com/pscheid92/streamscout/internal/platform/retry"
	"github.com/pscheid92/streamscout/internal/platform/version"
	"github.com/pscheid92/streamscout/internal/ranking"
)

const (
	shutdownTimeout     = 10 * time.Second
	breakerDelay        = 30 * time.Second
	rateLimitRetryAfter = 30 * time.Second
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupBudget returns the budget the fetcher acquires from and the process-local
// budget whose state is exported as a metric. With REDIS_URL set, the budget is
// shared across instances and falls back to the local one when Redis is down.
func setupBudget(cfg *config.Config, clock clockwork.Clock, rankingMetrics *metrics.RankingMetrics) (domain.RequestBudget, *budget.Budget, *goredis.Client) {
	local := budget.New(clock, cfg.RequestBudget, cfg.RequestBudgetWindow, cfg.BudgetMaxWait)
	if cfg.RedisURL == "" {
		return local, local, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hook := redis.NewCircuitBreakerHook(breakerDelay, rankingMetrics)
	rdb, err := redis.NewClient(ctx, cfg.RedisURL, hook)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	shared := redis.NewSharedBudget(rdb, local, clock, cfg.TwitchClientID, cfg.RequestBudget, cfg.RequestBudgetWindow, cfg.BudgetMaxWait)
	slog.Info("Using shared request budget", "ceiling", cfg.RequestBudget, "window", cfg.RequestBudgetWindow)
	return shared, local, rdb
}

func setupPipeline(cfg *config.Config, clock clockwork.Clock, requests domain.RequestBudget, rankingMetrics *metrics.RankingMetrics) *ranking.Builder {
	source, err := twitch.NewSource(twitch.Config{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		APIBaseURL:   cfg.TwitchAPIBaseURL,
	}, requests, clock)
	if err != nil {
		slog.Error("Failed to create Twitch source", "error", err)
		os.Exit(1)
	}

	var limiter *rate.Limiter
	if cfg.RequestRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestRate), 1)
	}

	fetcher := ranking.NewFetcher(source, requests, ranking.FetcherConfig{
		StreamPages: cfg.MaxStreamPages,
		Concurrency: cfg.StatsConcurrency,
		Limiter:     limiter,
		Retry: retry.Policy{
			MaxAttempts:      cfg.RetryMaxAttempts,
			InitialBackoff:   cfg.RetryInitialBackoff,
			RateLimitBackoff: rateLimitRetryAfter,
			MaxBackoff:       cfg.RetryMaxBackoff,
			Jitter:           0.2,
			Clock:            clock,
		},
	}, rankingMetrics)

	scorer, err := ranking.NewScorer(ranking.ScoringConfig{
		Smoothing:          cfg.ScoreSmoothing,
		MinViewers:         cfg.MinViewers,
		MaxTopChannelShare: cfg.MaxTopChannelShare,
	})
	if err != nil {
		slog.Error("Invalid scoring configuration", "error", err)
		os.Exit(1)
	}

	return ranking.NewBuilder(fetcher, scorer, clock, ranking.BuilderConfig{
		MaxPages: cfg.MaxCategoryPages,
		Size:     cfg.RankingSize,
	}, rankingMetrics)
}

func setupWebSocket(cfg *config.Config, wsMetrics *metrics.WebSocketMetrics) (*centrifuge.Node, http.Handler) {
	node, err := websocket.NewNode(wsMetrics, cfg.LogLevel)
	if err != nil {
		slog.Error("Failed to create websocket node", "error", err)
		os.Exit(1)
	}
	if err := node.Run(); err != nil {
		slog.Error("Failed to start websocket node", "error", err)
		os.Exit(1)
	}
	handler := centrifuge.NewWebsocketHandler(node, centrifuge.WebsocketConfig{
		CheckOrigin: websocket.NewCheckOrigin(cfg.AllowedOrigins(), cfg.IsDevelopment()),
	})
	return node, handler
}

func runGracefulShutdown(srv *httpserver.Server, stopScheduler context.CancelFunc, schedulerDone <-chan struct{}, node *centrifuge.Node) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopScheduler()
		select {
		case <-schedulerDone:
		case <-shutdownCtx.Done():
			slog.Warn("Refresh scheduler did not stop in time")
		}

		if node != nil {
			if err := node.Shutdown(shutdownCtx); err != nil {
				slog.Error("Websocket node shutdown error", "error", err)
			}
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	_, logCloser := logging.Init(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	defer func() { _ = logCloser.Close() }()
	slog.Info("Application starting", "version", version.Get().String(), "env", cfg.AppEnv, "port", cfg.Port)

	registry := metrics.NewRegistry()
	rankingMetrics := metrics.NewRankingMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	requests, localBudget, rdb := setupBudget(cfg, clock, rankingMetrics)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	builder := setupPipeline(cfg, clock, requests, rankingMetrics)
	cache := ranking.NewCache(clock)
	cacheMetrics := metrics.NewCacheMetrics(registry, cache, localBudget)

	schedule, err := app.ParseSchedule(cfg.RefreshSchedule, cfg.RefreshInterval)
	if err != nil {
		slog.Error("Invalid REFRESH_SCHEDULE", "schedule", cfg.RefreshSchedule, "error", err)
		os.Exit(1)
	}

	listeners := []app.SnapshotListener{rankingMetrics}
	opts := []httpserver.Option{httpserver.WithMetrics(metrics.Handler(registry), httpMetrics)}

	var node *centrifuge.Node
	if cfg.WebSocketEnabled {
		wsMetrics := metrics.NewWebSocketMetrics(registry)
		var wsHandler http.Handler
		node, wsHandler = setupWebSocket(cfg, wsMetrics)
		listeners = append(listeners, websocket.NewPublisher(node, cfg.RankingSize, wsMetrics))
		opts = append(opts, httpserver.WithWebSocket(wsHandler))
	}

	if rdb != nil {
		opts = append(opts, httpserver.WithHealthChecks(httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}))
	}

	scheduler := app.NewScheduler(builder, cache, clock, schedule, cfg.BuildTimeout, rankingMetrics, listeners...)
	service := app.NewService(cache, scheduler, clock, cfg.StaleAfter, cacheMetrics)

	srv := httpserver.NewServer(httpserver.Config{
		Port:              cfg.Port,
		DefaultLimit:      cfg.RankingSize,
		RefreshInterval:   app.ScheduleInterval(schedule),
		RefreshSchedule:   cfg.RefreshSchedule,
		ForceRefreshRate:  cfg.ForceRefreshRate,
		ForceRefreshBurst: cfg.ForceRefreshBurst,
	}, service, clock, opts...)

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(schedulerCtx)
	}()

	done := runGracefulShutdown(srv, stopScheduler, schedulerDone, node)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
