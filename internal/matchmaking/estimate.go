// internal/matchmaking/estimate.go
package matchmaking

import (
	"context"

	"github.com/jason-s-yu/matchmaker/internal/models"
)

// EstimatedWaitSeconds estimates the wait for a joiner at 1-based position.
// Each round fills the free slots of open lobbies plus the lobbies that the
// queued hosts are about to open. With no seat available at all, even the
// head of the queue waits one round. Hosts are matched instantly and get 0.
func (q *MatchQueue) EstimatedWaitSeconds(ctx context.Context, position int) (int, error) {
	if q.side == models.SideHost {
		return 0, nil
	}
	hosts, err := q.queue.QueueLen(ctx, models.SideHost)
	if err != nil {
		return 0, err
	}
	free, err := q.freeSlots(ctx)
	if err != nil {
		return 0, err
	}

	seats := free + hosts*q.opts.MaxJoiners
	capacity := max(1, seats)
	ahead := max(0, position-1)
	rounds := (ahead + capacity - 1) / capacity
	if seats == 0 {
		rounds++
	}
	return rounds * q.opts.AvgMatchSeconds, nil
}

// RealPosition converts a 0-based raw queue index into the 1-based position
// after the free slots of open lobbies have been handed out.
func (q *MatchQueue) RealPosition(ctx context.Context, rawIndex int) (int, error) {
	free, err := q.freeSlots(ctx)
	if err != nil {
		return 0, err
	}
	return max(1, rawIndex-free+1), nil
}

// Sizes returns the host and joiner queue lengths.
func (q *MatchQueue) Sizes(ctx context.Context) (sizeA, sizeB int, err error) {
	if sizeA, err = q.queue.QueueLen(ctx, models.SideHost); err != nil {
		return 0, 0, err
	}
	if sizeB, err = q.queue.QueueLen(ctx, models.SideJoiner); err != nil {
		return 0, 0, err
	}
	return sizeA, sizeB, nil
}

// Stats reports the number of lobbies accepting joiners and this side's
// queue length.
func (q *MatchQueue) Stats(ctx context.Context) (models.QueueStats, error) {
	open, err := q.lobbies.OpenLobbies(ctx)
	if err != nil {
		return models.QueueStats{}, err
	}
	n, err := q.queue.QueueLen(ctx, q.side)
	if err != nil {
		return models.QueueStats{}, err
	}
	accepting := 0
	for _, l := range open {
		if l.Accepting() {
			accepting++
		}
	}
	return models.QueueStats{OpenLobbies: accepting, QueueLength: n}, nil
}

func (q *MatchQueue) freeSlots(ctx context.Context) (int, error) {
	open, err := q.lobbies.OpenLobbies(ctx)
	if err != nil {
		return 0, err
	}
	free := 0
	for _, l := range open {
		free += l.FreeSlots(q.opts.MaxJoiners)
	}
	return free, nil
}
