// internal/lobby/lobby_store.go
package lobby

import (
	"context"
	"errors"

	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/jason-s-yu/matchmaker/internal/store"
)

// OpenLobbies loads every lobby in the open index, oldest first. Index
// entries whose record has vanished are dropped from the index on the way,
// and undecodable records are discarded.
func (lm *LobbyManager) OpenLobbies(ctx context.Context) ([]*models.Lobby, error) {
	ids, err := lm.store.OpenLobbyIDs(ctx)
	if err != nil {
		return nil, err
	}
	lobbies := make([]*models.Lobby, 0, len(ids))
	for _, id := range ids {
		l, err := lm.store.GetLobby(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			if err := lm.store.UnindexOpenLobby(ctx, id); err != nil {
				lm.logger.WithError(err).WithField("lobby_id", id).Warn("failed to drop dangling index entry")
			}
			continue
		}
		if errors.Is(err, store.ErrCorrupt) {
			lm.logger.WithError(err).WithField("lobby_id", id).Warn("discarding undecodable lobby")
			if err := lm.store.DiscardLobby(ctx, id); err != nil {
				lm.logger.WithError(err).WithField("lobby_id", id).Warn("failed to discard lobby")
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		lobbies = append(lobbies, l)
	}
	return lobbies, nil
}

// FindByHost returns the open, not yet started lobby hosted by sessionToken,
// or nil.
func (lm *LobbyManager) FindByHost(ctx context.Context, sessionToken string) (*models.Lobby, error) {
	owned, err := lm.ownedBy(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	for _, l := range owned {
		if !l.HasStarted {
			return l, nil
		}
	}
	return nil, nil
}

// FindByJoiner returns the open lobby that already seats playerID, or nil.
func (lm *LobbyManager) FindByJoiner(ctx context.Context, playerID string) (*models.Lobby, error) {
	lobbies, err := lm.OpenLobbies(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range lobbies {
		if l.HasJoiner(playerID) {
			return l, nil
		}
	}
	return nil, nil
}

// EnsureIndexed puts an active lobby back into the open index if it fell out.
func (lm *LobbyManager) EnsureIndexed(ctx context.Context, l *models.Lobby) error {
	return lm.store.IndexOpenLobby(ctx, l.ID, l.CreatedAt)
}

func (lm *LobbyManager) ownedBy(ctx context.Context, sessionToken string) ([]*models.Lobby, error) {
	if sessionToken == "" {
		return nil, nil
	}
	lobbies, err := lm.OpenLobbies(ctx)
	if err != nil {
		return nil, err
	}
	var owned []*models.Lobby
	for _, l := range lobbies {
		if l.IsHost(sessionToken) {
			owned = append(owned, l)
		}
	}
	return owned, nil
}
