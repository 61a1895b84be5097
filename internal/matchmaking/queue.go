// internal/matchmaking/queue.go
package matchmaking

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/matchmaker/internal/clock"
	"github.com/jason-s-yu/matchmaker/internal/lobby"
	"github.com/jason-s-yu/matchmaker/internal/metrics"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/jason-s-yu/matchmaker/internal/presence"
	"github.com/jason-s-yu/matchmaker/internal/store"
	"github.com/sirupsen/logrus"
)

// Options are the tunable policy values of a MatchQueue.
type Options struct {
	MaxJoiners      int
	AvgMatchSeconds int
}

// MatchQueue is the queue for one side. Hosts are matched instantly by
// opening a lobby; joiners are admitted into the oldest open lobby that has a
// free slot.
type MatchQueue struct {
	side     models.Side
	queue    store.QueueRepository
	lobbies  *lobby.LobbyManager
	clock    clock.Clock
	notifier presence.Notifier
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	opts     Options
}

// NewMatchQueue builds the queue for side. notifier and m may be nil.
func NewMatchQueue(side models.Side, repo store.QueueRepository, lm *lobby.LobbyManager, clk clock.Clock, notifier presence.Notifier, m *metrics.Metrics, logger *logrus.Logger, opts Options) *MatchQueue {
	if notifier == nil {
		notifier = presence.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if opts.MaxJoiners <= 0 {
		opts.MaxJoiners = lm.MaxJoiners()
	}
	return &MatchQueue{
		side:     side,
		queue:    repo,
		lobbies:  lm,
		clock:    clk,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		opts:     opts,
	}
}

// Side returns the side this queue serves.
func (q *MatchQueue) Side() models.Side { return q.side }

// Enqueue appends the player unless the session is already waiting on this
// side. It reports whether a new entry was written.
func (q *MatchQueue) Enqueue(ctx context.Context, sessionToken, playerID string) (bool, error) {
	added, err := q.queue.Enqueue(ctx, models.QueueEntry{
		SessionToken: sessionToken,
		PlayerID:     playerID,
		Side:         q.side,
		EnqueuedAt:   clock.UnixMilli(q.clock),
	})
	if err != nil {
		return false, err
	}
	if added {
		q.metrics.Enqueued(q.side.String())
		q.logger.WithFields(logrus.Fields{
			"side":   q.side,
			"player": playerID,
		}).Debug("player queued")
	}
	return added, nil
}

// Dequeue removes the session's entry if present. A missing entry is not an
// error.
func (q *MatchQueue) Dequeue(ctx context.Context, sessionToken string) (bool, error) {
	return q.queue.Dequeue(ctx, q.side, sessionToken)
}

// PollStatus advances the caller's matchmaking. A caller without a queue entry
// gets an empty result.
func (q *MatchQueue) PollStatus(ctx context.Context, sessionToken string) (*models.MatchResult, error) {
	entries, err := q.queue.QueueEntries(ctx, q.side)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, e := range entries {
		if e.SessionToken == sessionToken {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &models.MatchResult{}, nil
	}
	entry := entries[idx]

	switch q.side {
	case models.SideHost:
		return q.pollHost(ctx, entry)
	case models.SideJoiner:
		return q.pollJoiner(ctx, entry, idx)
	default:
		return nil, fmt.Errorf("matchmaking: invalid side %d", q.side)
	}
}

func (q *MatchQueue) pollHost(ctx context.Context, entry models.QueueEntry) (*models.MatchResult, error) {
	host := models.Member{SessionToken: entry.SessionToken, PlayerID: entry.PlayerID}
	l, err := q.lobbies.HostLobby(ctx, host)
	if err != nil {
		return nil, err
	}
	if err := q.lobbies.EnsureIndexed(ctx, l); err != nil {
		return nil, err
	}
	q.dequeue(ctx, entry.SessionToken)
	return q.matched(l), nil
}

func (q *MatchQueue) pollJoiner(ctx context.Context, entry models.QueueEntry, idx int) (*models.MatchResult, error) {
	open, err := q.lobbies.OpenLobbies(ctx)
	if err != nil {
		return nil, err
	}

	for _, l := range open {
		if l.HasJoiner(entry.PlayerID) {
			q.dequeue(ctx, entry.SessionToken)
			return q.matched(l), nil
		}
	}

	me := models.Member{SessionToken: entry.SessionToken, PlayerID: entry.PlayerID}
	for _, l := range open {
		if !l.Accepting() {
			continue
		}
		outcome, updated, err := q.lobbies.Admit(ctx, l.ID, me)
		if err != nil {
			q.logger.WithError(err).WithField("lobby_id", l.ID).Warn("admission attempt failed")
			continue
		}
		switch outcome {
		case store.AdmitAdmitted:
			q.dequeue(ctx, entry.SessionToken)
			res := q.matched(updated)
			ev := presence.MatchJoined(res.Match)
			for _, playerID := range []string{updated.Host.PlayerID, entry.PlayerID} {
				if err := q.notifier.Notify(ctx, playerID, ev); err != nil {
					q.logger.WithError(err).WithField("lobby_id", l.ID).Debug("presence notify failed")
				}
			}
			q.logger.WithFields(logrus.Fields{
				"lobby_id": l.ID,
				"player":   entry.PlayerID,
			}).Info("joiner admitted")
			return res, nil
		case store.AdmitAlreadySeated:
			q.dequeue(ctx, entry.SessionToken)
			return q.matched(updated), nil
		}
	}

	return q.queued(ctx, idx)
}

func (q *MatchQueue) queued(ctx context.Context, idx int) (*models.MatchResult, error) {
	sizeA, sizeB, err := q.Sizes(ctx)
	if err != nil {
		return nil, err
	}
	position, err := q.RealPosition(ctx, idx)
	if err != nil {
		return nil, err
	}
	eta, err := q.EstimatedWaitSeconds(ctx, position)
	if err != nil {
		return nil, err
	}
	return &models.MatchResult{
		Status: models.StatusQueued,
		Queue: &models.QueueStatus{
			ETA:      eta,
			Position: position,
			SizeA:    sizeA,
			SizeB:    sizeB,
			Stable:   true,
		},
	}, nil
}

func (q *MatchQueue) matched(l *models.Lobby) *models.MatchResult {
	return &models.MatchResult{
		Status: models.StatusMatched,
		Match:  models.NewSnapshot(l, models.StatusOpened, q.opts.MaxJoiners),
	}
}

func (q *MatchQueue) dequeue(ctx context.Context, sessionToken string) {
	if _, err := q.queue.Dequeue(ctx, q.side, sessionToken); err != nil {
		q.logger.WithError(err).WithField("side", q.side).Warn("failed to dequeue matched player")
	}
}
