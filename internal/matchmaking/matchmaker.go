// internal/matchmaking/matchmaker.go
package matchmaking

import (
	"context"

	"github.com/jason-s-yu/matchmaker/internal/clock"
	"github.com/jason-s-yu/matchmaker/internal/lobby"
	"github.com/jason-s-yu/matchmaker/internal/metrics"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/jason-s-yu/matchmaker/internal/presence"
	"github.com/jason-s-yu/matchmaker/internal/store"
	"github.com/sirupsen/logrus"
)

// Matchmaker bundles the host and joiner queues behind one handle.
type Matchmaker struct {
	queues  map[models.Side]*MatchQueue
	lobbies *lobby.LobbyManager
	logger  *logrus.Logger
}

// NewMatchmaker builds both queues and, when m is set, exposes their stats as
// gauges.
func NewMatchmaker(repo store.QueueRepository, lm *lobby.LobbyManager, clk clock.Clock, notifier presence.Notifier, m *metrics.Metrics, logger *logrus.Logger, opts Options) *Matchmaker {
	mm := &Matchmaker{
		queues:  make(map[models.Side]*MatchQueue, len(models.Sides)),
		lobbies: lm,
		logger:  logger,
	}
	for _, side := range models.Sides {
		q := NewMatchQueue(side, repo, lm, clk, notifier, m, logger, opts)
		mm.queues[side] = q
		if err := m.WatchQueue(side.String(), func(ctx context.Context) (int, int, error) {
			s, err := q.Stats(ctx)
			return s.OpenLobbies, s.QueueLength, err
		}); err != nil {
			logger.WithError(err).Warnf("failed to register %s queue metrics", side)
		}
	}
	return mm
}

// Queue returns the queue for side, or nil for an invalid side.
func (mm *Matchmaker) Queue(side models.Side) *MatchQueue {
	return mm.queues[side]
}

// Lobbies returns the lobby manager the queues admit into.
func (mm *Matchmaker) Lobbies() *lobby.LobbyManager { return mm.lobbies }

// Cancel drops the session from both queues. Absent entries are ignored.
func (mm *Matchmaker) Cancel(ctx context.Context, sessionToken string) error {
	for _, side := range models.Sides {
		if _, err := mm.queues[side].Dequeue(ctx, sessionToken); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns per-side stats keyed by the side's text form.
func (mm *Matchmaker) Stats(ctx context.Context) (map[string]models.QueueStats, error) {
	out := make(map[string]models.QueueStats, len(mm.queues))
	for _, side := range models.Sides {
		s, err := mm.queues[side].Stats(ctx)
		if err != nil {
			return nil, err
		}
		out[side.String()] = s
	}
	return out, nil
}
