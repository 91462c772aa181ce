package ranking

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/streamscout/internal/domain"
)

// MaxAge is the age reported for an invalidated snapshot.
const MaxAge = time.Duration(math.MaxInt64)

// Cache holds the current RankingSnapshot. Reads never block: installs and
// invalidations replace the held reference atomically.
type Cache struct {
	clock   clockwork.Clock
	current atomic.Pointer[cached]
}

type cached struct {
	snapshot    *domain.RankingSnapshot
	invalidated bool
}

func NewCache(clock clockwork.Clock) *Cache {
	return &Cache{clock: clock}
}

// Read returns the installed snapshot and its age, or domain.ErrRankingUnavailable
// before the first install. The snapshot must be treated as read-only.
func (c *Cache) Read() (*domain.RankingSnapshot, time.Duration, error) {
	cur := c.current.Load()
	if cur == nil {
		return nil, 0, domain.ErrRankingUnavailable
	}
	if cur.invalidated {
		return cur.snapshot, MaxAge, nil
	}
	return cur.snapshot, max(0, c.clock.Since(cur.snapshot.ComputedAt)), nil
}

// Install publishes snapshot under the next generation and returns it.
func (c *Cache) Install(snapshot *domain.RankingSnapshot) *domain.RankingSnapshot {
	for {
		old := c.current.Load()
		installed := *snapshot
		installed.Generation = 1
		if old != nil {
			installed.Generation = old.snapshot.Generation + 1
		}
		if c.current.CompareAndSwap(old, &cached{snapshot: &installed}) {
			return &installed
		}
	}
}

// Invalidate marks the installed snapshot as maximally old without removing it.
// It reports false when nothing is installed yet.
func (c *Cache) Invalidate() bool {
	for {
		old := c.current.Load()
		if old == nil {
			return false
		}
		if old.invalidated || c.current.CompareAndSwap(old, &cached{snapshot: old.snapshot, invalidated: true}) {
			return true
		}
	}
}

// Generation returns the generation of the installed snapshot, or 0.
func (c *Cache) Generation() uint64 {
	if cur := c.current.Load(); cur != nil {
		return cur.snapshot.Generation
	}
	return 0
}
