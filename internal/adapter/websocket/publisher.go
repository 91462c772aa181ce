package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/centrifugal/centrifuge"

	"github.com/pscheid92/streamscout/internal/domain"
)

// Event is the message type carried in every ranking update.
const Event = "ranking.updated"

type rankingEntry struct {
	Rank         int     `json:"rank"`
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	BoxArtURL    string  `json:"box_art_url,omitempty"`
	Viewers      int     `json:"viewers"`
	Broadcasters int     `json:"broadcasters"`
	Score        float64 `json:"score"`
}

type rankingUpdate struct {
	Event      string         `json:"event"`
	Generation uint64         `json:"generation"`
	ComputedAt time.Time      `json:"computed_at"`
	Partial    bool           `json:"partial"`
	Entries    []rankingEntry `json:"entries"`
}

// PublishObserver is told the outcome of each publish.
type PublishObserver interface {
	Published(err error)
}

type channelPublisher interface {
	Publish(channel string, data []byte, opts ...centrifuge.PublishOption) (centrifuge.PublishResult, error)
}

// Publisher pushes installed snapshots to subscribers of Channel.
type Publisher struct {
	node     channelPublisher
	limit    int
	observer PublishObserver
}

// NewPublisher returns a publisher sending at most limit entries per update.
// observer may be nil.
func NewPublisher(node *centrifuge.Node, limit int, observer PublishObserver) *Publisher {
	return newPublisher(node, limit, observer)
}

func newPublisher(node channelPublisher, limit int, observer PublishObserver) *Publisher {
	if limit < 1 || limit > domain.MaxRankingSize {
		limit = domain.MaxRankingSize
	}
	return &Publisher{node: node, limit: limit, observer: observer}
}

// SnapshotInstalled implements the scheduler's install listener. Failures are
// logged; subscribers catch up on the next install.
func (p *Publisher) SnapshotInstalled(ctx context.Context, snapshot *domain.RankingSnapshot) {
	err := p.publish(snapshot)
	if p.observer != nil {
		p.observer.Published(err)
	}
	if err != nil {
		slog.WarnContext(ctx, "Failed to publish ranking update", "generation", snapshot.Generation, "error", err)
		return
	}
	slog.DebugContext(ctx, "Ranking update published", "generation", snapshot.Generation)
}

func (p *Publisher) publish(snapshot *domain.RankingSnapshot) error {
	top := snapshot.Top(p.limit)
	update := rankingUpdate{
		Event:      Event,
		Generation: snapshot.Generation,
		ComputedAt: snapshot.ComputedAt,
		Partial:    snapshot.Partial,
		Entries:    make([]rankingEntry, 0, len(top)),
	}
	for _, e := range top {
		update.Entries = append(update.Entries, rankingEntry{
			Rank:         e.Rank,
			ID:           e.ID,
			Name:         e.Name,
			BoxArtURL:    e.BoxArtURL,
			Viewers:      e.Viewers,
			Broadcasters: e.Broadcasters,
			Score:        e.Score,
		})
	}

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal ranking update: %w", err)
	}
	if _, err := p.node.Publish(Channel, data); err != nil {
		return fmt.Errorf("publish to channel %s: %w", Channel, err)
	}
	return nil
}
