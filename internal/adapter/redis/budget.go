package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/streamscout/internal/domain"
)

const (
	budgetKeyPrefix = "streamscout:budget:"
	observeTimeout  = time.Second
)

// acquireScript takes one request from the shared fixed window.
// KEYS: [1]=counter, [2]=blocked-until (ms). ARGV: [1]=ceiling, [2]=window_ms.
// Returns 0 when granted, otherwise the milliseconds to wait.
var acquireScript = goredis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local blocked = tonumber(redis.call('GET', KEYS[2]) or '0')
if blocked > now then
  return blocked - now
end
local used = redis.call('INCR', KEYS[1])
if used == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if used <= tonumber(ARGV[1]) then
  return 0
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl <= 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return ttl
`)

// observeScript aligns the shared window with the allowance reported upstream.
// KEYS: [1]=counter, [2]=blocked-until. ARGV: [1]=ceiling, [2]=remaining, [3]=reset_ms.
var observeScript = goredis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local ttl = tonumber(ARGV[3]) - now
if ttl <= 0 then
  return 0
end
local used = tonumber(ARGV[1]) - tonumber(ARGV[2])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if used > current then
  redis.call('SET', KEYS[1], used, 'PX', ttl)
end
if tonumber(ARGV[2]) <= 0 then
  redis.call('SET', KEYS[2], ARGV[3], 'PX', ttl)
end
return 1
`)

// SharedBudget is a request budget shared by every process using the same Redis
// and client id. When Redis fails, Acquire falls back to the local budget, which
// also tracks every upstream observation.
type SharedBudget struct {
	rdb     goredis.Scripter
	local   domain.RequestBudget
	clock   clockwork.Clock
	keys    []string
	ceiling int
	window  time.Duration
	maxWait time.Duration
}

func NewSharedBudget(rdb goredis.Scripter, local domain.RequestBudget, clock clockwork.Clock, scope string, ceiling int, window, maxWait time.Duration) *SharedBudget {
	if maxWait <= 0 {
		maxWait = window
	}
	return &SharedBudget{
		rdb:     rdb,
		local:   local,
		clock:   clock,
		keys:    []string{budgetKeyPrefix + scope + ":used", budgetKeyPrefix + scope + ":blocked"},
		ceiling: ceiling,
		window:  window,
		maxWait: maxWait,
	}
}

func (b *SharedBudget) Acquire(ctx context.Context) error {
	for {
		waitMs, err := acquireScript.Run(ctx, b.rdb, b.keys, b.ceiling, b.window.Milliseconds()).Int64()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("waiting for request budget: %w", ctx.Err())
			}
			slog.DebugContext(ctx, "Shared budget unavailable, using local budget", "error", err)
			return b.local.Acquire(ctx)
		}
		if waitMs <= 0 {
			return nil
		}

		wait := min(time.Duration(waitMs)*time.Millisecond, b.maxWait)
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for request budget: %w", ctx.Err())
		case <-b.clock.After(wait):
		}
	}
}

func (b *SharedBudget) Observe(remaining int, resetAt time.Time) {
	b.local.Observe(remaining, resetAt)
	if resetAt.IsZero() {
		return
	}
	if limit := b.clock.Now().Add(b.maxWait); resetAt.After(limit) {
		resetAt = limit
	}

	ctx, cancel := context.WithTimeout(context.Background(), observeTimeout)
	defer cancel()

	err := observeScript.Run(ctx, b.rdb, b.keys,
		b.ceiling,
		strconv.Itoa(max(0, remaining)),
		strconv.FormatInt(resetAt.UnixMilli(), 10),
	).Err()
	if err != nil {
		slog.Debug("Failed to share upstream rate limit", "error", err)
	}
}
