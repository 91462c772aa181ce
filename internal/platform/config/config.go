package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	LogFile   string `env:"LOG_FILE"`

	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	TwitchAPIBaseURL   string `env:"TWITCH_API_BASE_URL" default:"https://api.twitch.tv/helix"`

	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" default:"15m"`
	RefreshSchedule string        `env:"REFRESH_SCHEDULE"`
	BuildTimeout    time.Duration `env:"BUILD_TIMEOUT" default:"10m"`
	StaleAfter      time.Duration `env:"STALE_AFTER" default:"30m"`

	MinViewers         int     `env:"ELIGIBILITY_MIN_VIEWERS" default:"10"`
	ScoreSmoothing     float64 `env:"SCORE_SMOOTHING" default:"50"`
	MaxTopChannelShare float64 `env:"MAX_TOP_CHANNEL_SHARE" default:"0"`
	RankingSize        int     `env:"RANKING_SIZE" default:"100"`

	MaxCategoryPages int `env:"MAX_CATEGORY_PAGES" default:"5"`
	MaxStreamPages   int `env:"MAX_STREAM_PAGES" default:"0"`
	StatsConcurrency int `env:"STATS_CONCURRENCY" default:"10"`

	RequestBudget       int           `env:"REQUEST_BUDGET" default:"800"`
	RequestBudgetWindow time.Duration `env:"REQUEST_BUDGET_WINDOW" default:"1m"`
	BudgetMaxWait       time.Duration `env:"BUDGET_MAX_WAIT" default:"2m"`
	RequestRate         float64       `env:"REQUEST_RATE" default:"0"`

	RetryMaxAttempts    int           `env:"RETRY_MAX_ATTEMPTS" default:"5"`
	RetryInitialBackoff time.Duration `env:"RETRY_INITIAL_BACKOFF" default:"1s"`
	RetryMaxBackoff     time.Duration `env:"RETRY_MAX_BACKOFF" default:"60s"`

	RedisURL string `env:"REDIS_URL"`

	WebSocketEnabled        bool   `env:"WEBSOCKET_ENABLED" default:"false"`
	WebSocketAllowedOrigins string `env:"WEBSOCKET_ALLOWED_ORIGINS"`

	ForceRefreshRate  float64 `env:"FORCE_REFRESH_RATE" default:"0.1"`
	ForceRefreshBurst int     `env:"FORCE_REFRESH_BURST" default:"1"`
}

func (c *Config) IsDevelopment() bool { return c.AppEnv == "development" }

// AllowedOrigins splits WEBSOCKET_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for o := range strings.SplitSeq(c.WebSocketAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := []struct{ name, value string }{
		{"TWITCH_CLIENT_ID", cfg.TwitchClientID},
		{"TWITCH_CLIENT_SECRET", cfg.TwitchClientSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	switch {
	case cfg.RefreshInterval <= 0 && cfg.RefreshSchedule == "":
		return errors.New("REFRESH_INTERVAL must be positive")
	case cfg.BuildTimeout <= 0:
		return errors.New("BUILD_TIMEOUT must be positive")
	case cfg.StaleAfter < 0:
		return errors.New("STALE_AFTER must not be negative")
	case cfg.MinViewers < 0:
		return errors.New("ELIGIBILITY_MIN_VIEWERS must not be negative")
	case cfg.ScoreSmoothing <= 0:
		return errors.New("SCORE_SMOOTHING must be positive")
	case cfg.MaxTopChannelShare < 0 || cfg.MaxTopChannelShare > 1:
		return errors.New("MAX_TOP_CHANNEL_SHARE must be between 0 and 1")
	case cfg.RankingSize < 1 || cfg.RankingSize > 100:
		return fmt.Errorf("RANKING_SIZE must be between 1 and 100, got %d", cfg.RankingSize)
	case cfg.MaxCategoryPages < 1:
		return errors.New("MAX_CATEGORY_PAGES must be at least 1")
	case cfg.MaxStreamPages < 0:
		return errors.New("MAX_STREAM_PAGES must not be negative")
	case cfg.StatsConcurrency < 1:
		return errors.New("STATS_CONCURRENCY must be at least 1")
	case cfg.RequestBudget < 1:
		return errors.New("REQUEST_BUDGET must be at least 1")
	case cfg.RequestBudgetWindow <= 0:
		return errors.New("REQUEST_BUDGET_WINDOW must be positive")
	case cfg.BudgetMaxWait < 0:
		return errors.New("BUDGET_MAX_WAIT must not be negative")
	case cfg.RequestRate < 0:
		return errors.New("REQUEST_RATE must not be negative")
	case cfg.RetryMaxAttempts < 1:
		return errors.New("RETRY_MAX_ATTEMPTS must be at least 1")
	case cfg.RetryInitialBackoff <= 0:
		return errors.New("RETRY_INITIAL_BACKOFF must be positive")
	case cfg.RetryMaxBackoff < cfg.RetryInitialBackoff:
		return errors.New("RETRY_MAX_BACKOFF must not be below RETRY_INITIAL_BACKOFF")
	case cfg.ForceRefreshRate < 0:
		return errors.New("FORCE_REFRESH_RATE must not be negative")
	case cfg.ForceRefreshBurst < 1:
		return errors.New("FORCE_REFRESH_BURST must be at least 1")
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	return nil
}
