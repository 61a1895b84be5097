// internal/reaper/reaper.go is the background garbage collector: it kills
// lobbies whose heartbeat lapsed, purges old archives and expires sessions.
package reaper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/lobby"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/sirupsen/logrus"
)

// Lobbies is the part of the lobby manager the reaper drives.
type Lobbies interface {
	OpenLobbyIDs(ctx context.Context) ([]string, error)
	Alive(ctx context.Context, id string) (bool, error)
	KillMatch(ctx context.Context, id, reason string) (*models.KilledLobby, error)
	PurgeExpiredArchives(ctx context.Context, maxAge time.Duration) (int, error)
}

// SessionPurger removes expired session records.
type SessionPurger interface {
	RemoveExpired(ctx context.Context) (int64, error)
}

// Options sets the three loop intervals and the archive grace window.
type Options struct {
	SweepInterval        time.Duration
	ArchiveGrace         time.Duration
	ArchivePurgeInterval time.Duration
	SessionPurgeInterval time.Duration
}

// Reaper owns the periodic background tasks.
type Reaper struct {
	lobbies  Lobbies
	sessions SessionPurger
	logger   *logrus.Logger
	opts     Options
}

// New returns a Reaper. sessions may be nil, in which case the session loop
// is not started.
func New(lobbies Lobbies, sessions SessionPurger, logger *logrus.Logger, opts Options) *Reaper {
	return &Reaper{
		lobbies:  lobbies,
		sessions: sessions,
		logger:   logger,
		opts:     opts,
	}
}

// Run starts the loops and blocks until ctx is cancelled and all of them
// have returned.
func (r *Reaper) Run(ctx context.Context) {
	var wg sync.WaitGroup
	start := func(name string, every time.Duration, task func(context.Context) error) {
		if every <= 0 {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx, name, every, task)
		}()
	}

	start("sweep", r.opts.SweepInterval, func(ctx context.Context) error {
		_, err := r.SweepDeadLobbies(ctx)
		return err
	})
	start("archive-purge", r.opts.ArchivePurgeInterval, func(ctx context.Context) error {
		_, err := r.PurgeArchives(ctx)
		return err
	})
	if r.sessions != nil {
		start("session-purge", r.opts.SessionPurgeInterval, func(ctx context.Context) error {
			_, err := r.PurgeSessions(ctx)
			return err
		})
	}

	r.logger.Info("reaper started")
	wg.Wait()
	r.logger.Info("reaper stopped")
}

func (r *Reaper) loop(ctx context.Context, name string, every time.Duration, task func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := task(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.WithError(err).WithField("task", name).Error("reaper task failed")
			}
		}
	}
}

// SweepDeadLobbies kills every open lobby whose heartbeat mark has expired and
// returns how many were killed. A failure on one lobby does not stop the
// sweep.
func (r *Reaper) SweepDeadLobbies(ctx context.Context) (int, error) {
	ids, err := r.lobbies.OpenLobbyIDs(ctx)
	if err != nil {
		return 0, err
	}

	killed := 0
	var errs []error
	for _, id := range ids {
		alive, err := r.lobbies.Alive(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if alive {
			continue
		}
		if _, err := r.lobbies.KillMatch(ctx, id, lobby.ReasonHeartbeatExpired); err != nil {
			if !errors.Is(err, lobby.ErrNotFound) && !errors.Is(err, lobby.ErrCorrupt) {
				errs = append(errs, err)
			}
			continue
		}
		killed++
	}
	if killed > 0 {
		r.logger.Infof("killed %d lobbies without heartbeat", killed)
	}
	return killed, errors.Join(errs...)
}

// PurgeArchives removes archives older than the grace window.
func (r *Reaper) PurgeArchives(ctx context.Context) (int, error) {
	return r.lobbies.PurgeExpiredArchives(ctx, r.opts.ArchiveGrace)
}

// PurgeSessions removes expired sessions through the session store.
func (r *Reaper) PurgeSessions(ctx context.Context) (int64, error) {
	if r.sessions == nil {
		return 0, nil
	}
	n, err := r.sessions.RemoveExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Infof("removed %d expired sessions", n)
	}
	return n, nil
}
