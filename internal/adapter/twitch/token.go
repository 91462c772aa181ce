package twitch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pscheid92/streamscout/internal/domain"
)

const opAppToken = "app_token"

// appToken returns a valid app access token. When stale is the token currently
// held, it is replaced even if it has not expired yet. Concurrent callers share a
// single token request.
func (s *Source) appToken(ctx context.Context, stale string) (string, error) {
	s.mu.RLock()
	token, expiry := s.token, s.tokenExpiry
	s.mu.RUnlock()

	if token != "" && token != stale && s.clock.Now().Before(expiry) {
		return token, nil
	}

	v, err, _ := s.tokens.Do("app", func() (any, error) {
		return s.requestToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Source) requestToken(ctx context.Context) (string, error) {
	c, err := s.client(ctx, "")
	if err != nil {
		return "", err
	}

	resp, err := c.RequestAppAccessToken(nil)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("helix %s: %w", opAppToken, ctx.Err())
		}
		return "", &domain.UpstreamError{Kind: domain.Transient, Op: opAppToken, Err: err}
	}

	switch status := resp.StatusCode; {
	case status == http.StatusOK:
	case status == http.StatusTooManyRequests || status >= 500:
		return "", &domain.UpstreamError{Kind: domain.Transient, Op: opAppToken, StatusCode: status, Err: apiError(&resp.ResponseCommon)}
	default:
		// Rejected client credentials cannot recover by retrying.
		return "", &domain.UpstreamError{Kind: domain.Fatal, Op: opAppToken, StatusCode: status, Err: apiError(&resp.ResponseCommon)}
	}

	token := resp.Data.AccessToken
	expiry := s.clock.Now().Add(time.Duration(resp.Data.ExpiresIn)*time.Second - tokenExpiryMargin)

	s.mu.Lock()
	s.token, s.tokenExpiry = token, expiry
	s.mu.Unlock()

	slog.Info("Twitch app access token acquired", "expires_in", resp.Data.ExpiresIn)
	return token, nil
}
