package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix/v2"
	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/streamscout/internal/domain"
)

const (
	pageSize       = 100
	boxArtWidth    = "285"
	boxArtHeight   = "380"
	requestTimeout = 10 * time.Second
	// tokenExpiryMargin renews the app token before Twitch expires it.
	tokenExpiryMargin = 5 * time.Minute
)

var boxArtSize = strings.NewReplacer("{width}", boxArtWidth, "{height}", boxArtHeight)

type Config struct {
	ClientID     string
	ClientSecret string
	// APIBaseURL overrides the Helix endpoint. Empty means helix.DefaultAPIBaseURL.
	APIBaseURL string
	// HTTPClient is used for Helix and token requests. Nil means a client with a
	// 10 second timeout.
	HTTPClient *http.Client
}

// Source reads live categories and their streams from the Twitch Helix API using
// an app access token. Every call is exactly one Helix request; the reported
// rate limit is passed to the budget after each response.
type Source struct {
	cfg    Config
	budget domain.RequestBudget
	clock  clockwork.Clock

	tokens      singleflight.Group
	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

func NewSource(cfg Config, budget domain.RequestBudget, clock clockwork.Clock) (*Source, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("twitch client id and secret are required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	return &Source{cfg: cfg, budget: budget, clock: clock}, nil
}

// ListCategories returns one page of live categories ordered by current viewers.
func (s *Source) ListCategories(ctx context.Context, cursor string) (domain.CategoryPage, error) {
	var resp *helix.TopGamesResponse
	err := s.request(ctx, "list_categories", func(c *helix.Client) (*helix.ResponseCommon, error) {
		var err error
		resp, err = c.GetTopGames(&helix.TopGamesParams{After: cursor, First: pageSize})
		if err != nil {
			return nil, err
		}
		return &resp.ResponseCommon, nil
	})
	if err != nil {
		return domain.CategoryPage{}, err
	}

	page := domain.CategoryPage{
		Categories: make([]domain.Category, 0, len(resp.Data.Games)),
		Next:       resp.Data.Pagination.Cursor,
	}
	for _, g := range resp.Data.Games {
		page.Categories = append(page.Categories, domain.Category{
			ID:        g.ID,
			Name:      g.Name,
			BoxArtURL: boxArtSize.Replace(g.BoxArtURL),
		})
	}
	return page, nil
}

// CategoryStreams returns the viewer counts of one page of live streams in a category.
func (s *Source) CategoryStreams(ctx context.Context, categoryID, cursor string) (domain.StreamPage, error) {
	var resp *helix.StreamsResponse
	err := s.request(ctx, "category_streams", func(c *helix.Client) (*helix.ResponseCommon, error) {
		var err error
		resp, err = c.GetStreams(&helix.StreamsParams{GameIDs: []string{categoryID}, After: cursor, First: pageSize})
		if err != nil {
			return nil, err
		}
		return &resp.ResponseCommon, nil
	})
	if err != nil {
		return domain.StreamPage{}, err
	}

	page := domain.StreamPage{
		ViewerCounts: make([]int, 0, len(resp.Data.Streams)),
		Next:         resp.Data.Pagination.Cursor,
	}
	for _, st := range resp.Data.Streams {
		page.ViewerCounts = append(page.ViewerCounts, st.ViewerCount)
	}
	return page, nil
}

// request runs fn with a token-bearing client bound to ctx. A 401 renews the app
// token once and repeats the request.
func (s *Source) request(ctx context.Context, op string, fn func(*helix.Client) (*helix.ResponseCommon, error)) error {
	token, err := s.appToken(ctx, "")
	if err != nil {
		return err
	}

	common, err := s.send(ctx, token, fn)
	if err == nil && common.StatusCode == http.StatusUnauthorized {
		if token, err = s.appToken(ctx, token); err != nil {
			return err
		}
		common, err = s.send(ctx, token, fn)
	}
	return s.classify(ctx, op, common, err)
}

func (s *Source) send(ctx context.Context, token string, fn func(*helix.Client) (*helix.ResponseCommon, error)) (*helix.ResponseCommon, error) {
	c, err := s.client(ctx, token)
	if err != nil {
		return nil, err
	}
	return fn(c)
}

// client returns a helix client whose requests carry ctx.
func (s *Source) client(ctx context.Context, token string) (*helix.Client, error) {
	c, err := helix.NewClient(&helix.Options{
		ClientID:       s.cfg.ClientID,
		ClientSecret:   s.cfg.ClientSecret,
		AppAccessToken: token,
		APIBaseURL:     s.cfg.APIBaseURL,
		HTTPClient:     contextDoer{ctx: ctx, client: s.cfg.HTTPClient},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}
	return c, nil
}

func (s *Source) classify(ctx context.Context, op string, common *helix.ResponseCommon, err error) error {
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("helix %s: %w", op, ctx.Err())
		}
		return &domain.UpstreamError{Kind: domain.Transient, Op: op, Err: err}
	}

	s.observe(common)

	status := common.StatusCode
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &domain.UpstreamError{Kind: domain.RateLimited, Op: op, StatusCode: status, RetryAfter: s.retryAfter(common), Err: apiError(common)}
	case status >= 500:
		return &domain.UpstreamError{Kind: domain.Transient, Op: op, StatusCode: status, Err: apiError(common)}
	default:
		return &domain.UpstreamError{Kind: domain.Fatal, Op: op, StatusCode: status, Err: apiError(common)}
	}
}

func (s *Source) observe(common *helix.ResponseCommon) {
	if s.budget == nil || common.Header.Get("Ratelimit-Remaining") == "" {
		return
	}
	var resetAt time.Time
	if reset := common.GetRateLimitReset(); reset > 0 {
		resetAt = time.Unix(int64(reset), 0)
	}
	s.budget.Observe(common.GetRateLimitRemaining(), resetAt)
}

func (s *Source) retryAfter(common *helix.ResponseCommon) time.Duration {
	reset := common.GetRateLimitReset()
	if reset <= 0 {
		return 0
	}
	return max(0, time.Unix(int64(reset), 0).Sub(s.clock.Now()))
}

func apiError(common *helix.ResponseCommon) error {
	if common.ErrorMessage == "" && common.Error == "" {
		return fmt.Errorf("status %d", common.StatusCode)
	}
	return fmt.Errorf("%s: %s", common.Error, common.ErrorMessage)
}

// contextDoer attaches ctx to every request issued by a helix client.
type contextDoer struct {
	ctx    context.Context
	client *http.Client
}

func (d contextDoer) Do(req *http.Request) (*http.Response, error) {
	return d.client.Do(req.WithContext(d.ctx))
}
