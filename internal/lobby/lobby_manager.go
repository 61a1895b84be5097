// internal/lobby/lobby_manager.go

package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/matchmaker/internal/clock"
	"github.com/jason-s-yu/matchmaker/internal/metrics"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/jason-s-yu/matchmaker/internal/presence"
	"github.com/jason-s-yu/matchmaker/internal/store"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is the store's not-found error, re-exported so callers of
	// this package need not import store.
	ErrNotFound = store.ErrNotFound
	// ErrCorrupt marks a record that could not be decoded; such records are
	// discarded rather than archived.
	ErrCorrupt = store.ErrCorrupt
	// ErrForbidden is returned when a non-host attempts a host-only operation.
	ErrForbidden = errors.New("lobby: caller is not the host")
)

const (
	ReasonRehosted         = "rehosted"
	ReasonHeartbeatExpired = "heartbeatExpired"
)

// Options are the policy knobs of a LobbyManager.
type Options struct {
	MaxJoiners   int
	HeartbeatTTL time.Duration
}

// LobbyManager is the only component that creates, mutates or kills lobby
// records. It keeps no state of its own; every call goes to the store.
type LobbyManager struct {
	store    store.LobbyRepository
	clock    clock.Clock
	notifier presence.Notifier
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	opts     Options
}

// NewLobbyManager wires a manager. notifier and m may be nil.
func NewLobbyManager(repo store.LobbyRepository, clk clock.Clock, notifier presence.Notifier, m *metrics.Metrics, logger *logrus.Logger, opts Options) *LobbyManager {
	if notifier == nil {
		notifier = presence.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &LobbyManager{
		store:    repo,
		clock:    clk,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		opts:     opts,
	}
}

// MaxJoiners returns the per-lobby joiner capacity.
func (lm *LobbyManager) MaxJoiners() int { return lm.opts.MaxJoiners }

// CreateLobby opens a lobby hosted by host. Any other open lobby the host
// already owns is killed first. When explicitID names an existing record it is
// returned unchanged.
func (lm *LobbyManager) CreateLobby(ctx context.Context, host models.Member, explicitID string) (string, error) {
	owned, err := lm.ownedBy(ctx, host.SessionToken)
	if err != nil {
		return "", err
	}
	for _, l := range owned {
		if l.ID == explicitID {
			continue
		}
		if _, err := lm.KillMatch(ctx, l.ID, ReasonRehosted); err != nil && !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("failed to tear down previous lobby %s: %w", l.ID, err)
		}
	}

	id := explicitID
	if id == "" {
		id = uuid.NewString()
	}
	l, created, err := lm.store.CreateLobby(ctx, models.NewLobby(id, host, clock.UnixMilli(lm.clock)), lm.opts.HeartbeatTTL)
	if err != nil {
		return "", err
	}
	if created {
		lm.logger.WithFields(logrus.Fields{
			"lobby_id": l.ID,
			"host":     host.PlayerID,
		}).Info("lobby created")
	}
	return l.ID, nil
}

// HostLobby returns the open lobby hosted by host, creating one when there is
// none. Concurrent calls for the same host all get the same lobby. Started
// lobbies the host still owns are torn down first.
func (lm *LobbyManager) HostLobby(ctx context.Context, host models.Member) (*models.Lobby, error) {
	owned, err := lm.ownedBy(ctx, host.SessionToken)
	if err != nil {
		return nil, err
	}
	for _, l := range owned {
		if !l.HasStarted {
			return l, nil
		}
	}
	for _, l := range owned {
		if _, err := lm.KillMatch(ctx, l.ID, ReasonRehosted); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("failed to tear down started lobby %s: %w", l.ID, err)
		}
	}

	l, created, err := lm.store.CreateLobby(ctx, models.NewLobby(uuid.NewString(), host, clock.UnixMilli(lm.clock)), lm.opts.HeartbeatTTL)
	if err != nil {
		return nil, err
	}
	if created {
		lm.logger.WithFields(logrus.Fields{
			"lobby_id": l.ID,
			"host":     host.PlayerID,
		}).Info("lobby created")
	}
	return l, nil
}

// RegisterMatch marks the lobby ready and stores the host's settings.
func (lm *LobbyManager) RegisterMatch(ctx context.Context, id, settings string) (*models.Lobby, error) {
	return lm.register(ctx, id, "", settings)
}

// RegisterMatchAs is RegisterMatch restricted to the lobby host.
func (lm *LobbyManager) RegisterMatchAs(ctx context.Context, id, sessionToken, settings string) (*models.Lobby, error) {
	if sessionToken == "" {
		return nil, ErrForbidden
	}
	return lm.register(ctx, id, sessionToken, settings)
}

func (lm *LobbyManager) register(ctx context.Context, id, sessionToken, settings string) (*models.Lobby, error) {
	l, _, err := lm.store.UpdateLobby(ctx, id, func(l *models.Lobby) (bool, error) {
		if sessionToken != "" && !l.IsHost(sessionToken) {
			return false, ErrForbidden
		}
		if l.IsReady && l.SessionSettings == settings {
			return false, nil
		}
		l.IsReady = true
		l.SessionSettings = settings
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	lm.logger.WithField("lobby_id", id).Info("lobby registered")
	return l, nil
}

// GetLobby returns the active record only.
func (lm *LobbyManager) GetLobby(ctx context.Context, id string) (*models.Lobby, error) {
	return lm.store.GetLobby(ctx, id)
}

// GetKilledLobby returns the archived record only.
func (lm *LobbyManager) GetKilledLobby(ctx context.Context, id string) (*models.KilledLobby, error) {
	return lm.store.GetKilledLobby(ctx, id)
}

// IsOwner reports whether sessionToken hosts the active lobby id.
func (lm *LobbyManager) IsOwner(ctx context.Context, id, sessionToken string) bool {
	l, err := lm.store.GetLobby(ctx, id)
	if err != nil {
		return false
	}
	return l.IsHost(sessionToken)
}

// RemoveJoiner takes sessionToken out of the lobby. When the caller is the
// host the whole lobby is killed instead.
func (lm *LobbyManager) RemoveJoiner(ctx context.Context, id, sessionToken string) (bool, error) {
	l, err := lm.store.GetLobby(ctx, id)
	if err != nil {
		return false, err
	}
	if l.IsHost(sessionToken) {
		if _, err := lm.KillMatch(ctx, id, ""); err != nil {
			return false, err
		}
		return true, nil
	}

	_, removed, err := lm.store.UpdateLobby(ctx, id, func(l *models.Lobby) (bool, error) {
		rest, ok := l.WithoutJoiner(sessionToken)
		if ok {
			l.Joiners = rest
		}
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		lm.logger.WithField("lobby_id", id).Info("joiner left lobby")
	}
	return removed, nil
}

// KillMatch archives the lobby and removes it from the open index. Killing an
// already archived lobby returns the archive.
func (lm *LobbyManager) KillMatch(ctx context.Context, id, reason string) (*models.KilledLobby, error) {
	k, err := lm.store.KillLobby(ctx, id, reason, clock.UnixMilli(lm.clock))
	if errors.Is(err, store.ErrNotFound) {
		return lm.store.GetKilledLobby(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to kill lobby %s: %w", id, err)
	}

	lm.logger.WithFields(logrus.Fields{
		"lobby_id": id,
		"reason":   k.Reason,
	}).Info("lobby killed")
	lm.metrics.Killed(k.Reason)

	ev := presence.MatchClosed(models.NewClosedSnapshot(k, lm.opts.MaxJoiners))
	for _, m := range k.Joiners {
		if err := lm.notifier.Notify(ctx, m.PlayerID, ev); err != nil {
			lm.logger.WithError(err).WithField("lobby_id", id).Debug("presence notify failed")
		}
	}
	return k, nil
}

// CloseMatch closes the lobby for the host, or removes a joiner from it.
func (lm *LobbyManager) CloseMatch(ctx context.Context, id, sessionToken, reason string) (*models.Snapshot, error) {
	l, err := lm.store.GetLobby(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		k, err := lm.store.GetKilledLobby(ctx, id)
		if err != nil {
			return nil, err
		}
		return models.NewClosedSnapshot(k, lm.opts.MaxJoiners), nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case l.IsHost(sessionToken):
		k, err := lm.KillMatch(ctx, id, reason)
		if err != nil {
			return nil, err
		}
		return models.NewClosedSnapshot(k, lm.opts.MaxJoiners), nil
	case sessionToken != "":
		if _, seated := l.WithoutJoiner(sessionToken); seated {
			if _, err := lm.RemoveJoiner(ctx, id, sessionToken); err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			return lm.Snapshot(ctx, id)
		}
	}
	return nil, ErrForbidden
}

// Snapshot returns the client view of a lobby. Reading an active lobby
// refreshes its heartbeat; an archived one answers CLOSED.
func (lm *LobbyManager) Snapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	l, err := lm.store.GetLobby(ctx, id)
	switch {
	case err == nil:
		if err := lm.store.TouchHeartbeat(ctx, id, lm.opts.HeartbeatTTL); err != nil {
			lm.logger.WithError(err).WithField("lobby_id", id).Warn("failed to refresh heartbeat")
		}
		return models.NewSnapshot(l, models.StatusOpened, lm.opts.MaxJoiners), nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	k, err := lm.store.GetKilledLobby(ctx, id)
	if err != nil {
		return nil, err
	}
	return models.NewClosedSnapshot(k, lm.opts.MaxJoiners), nil
}

// Alive reports whether the lobby's heartbeat mark is still present.
func (lm *LobbyManager) Alive(ctx context.Context, id string) (bool, error) {
	return lm.store.HasHeartbeat(ctx, id)
}

// OpenLobbyIDs lists open lobby ids oldest first.
func (lm *LobbyManager) OpenLobbyIDs(ctx context.Context) ([]string, error) {
	return lm.store.OpenLobbyIDs(ctx)
}

// PurgeExpiredArchives deletes archives killed more than maxAge ago and
// returns how many were removed. Undecodable archives are deleted as well. A
// failure on one archive does not stop the pass.
func (lm *LobbyManager) PurgeExpiredArchives(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := lm.store.KilledLobbyIDs(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := lm.clock.Now().Add(-maxAge).UnixMilli()

	purged := 0
	var errs []error
	for _, id := range ids {
		k, err := lm.store.GetKilledLobby(ctx, id)
		switch {
		case errors.Is(err, store.ErrCorrupt):
			lm.logger.WithError(err).WithField("lobby_id", id).Warn("deleting undecodable archive")
		case err != nil && !errors.Is(err, store.ErrNotFound):
			errs = append(errs, err)
			continue
		case k != nil && k.KilledAt > cutoff:
			continue
		}
		if err := lm.store.DeleteKilledLobby(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete archive %s: %w", id, err))
			continue
		}
		purged++
	}
	lm.metrics.ArchivesPurged(purged)
	if purged > 0 {
		lm.logger.Infof("purged %d archived lobbies", purged)
	}
	return purged, errors.Join(errs...)
}

// Admit runs the atomic admission of m into lobby id.
func (lm *LobbyManager) Admit(ctx context.Context, id string, m models.Member) (store.AdmitOutcome, *models.Lobby, error) {
	outcome, l, err := lm.store.AdmitJoiner(ctx, id, m, lm.opts.MaxJoiners)
	if err != nil {
		return store.AdmitRejected, nil, err
	}
	lm.metrics.Admission(outcome.String())
	return outcome, l, nil
}
