// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/models"
)

var (
	// ErrNotFound is returned when a lobby, archive or queue entry is absent.
	// It is an expected outcome, never a fault.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an optimistic transaction kept losing the
	// race for its watched keys.
	ErrConflict = errors.New("store: too many concurrent modifications")

	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("store: undecodable record")
)

// AdmitOutcome is the result of one admission attempt.
type AdmitOutcome int

const (
	// AdmitRejected means the lobby is gone, not ready, started or full.
	AdmitRejected AdmitOutcome = iota
	AdmitAdmitted
	// AdmitAlreadySeated means the player was already one of the joiners.
	AdmitAlreadySeated
)

func (o AdmitOutcome) String() string {
	switch o {
	case AdmitAdmitted:
		return "admitted"
	case AdmitAlreadySeated:
		return "already_seated"
	default:
		return "rejected"
	}
}

// LobbyRepository persists lobbies, the open-lobby index, archives and
// heartbeat marks.
type LobbyRepository interface {
	GetLobby(ctx context.Context, id string) (*models.Lobby, error)
	// CreateLobby writes l, indexes it as open under l.CreatedAt, arms its
	// heartbeat and claims it as the host's lobby, all in one transaction.
	// When a record with the same id already exists, or the host already
	// holds a claim on a live lobby, that lobby is returned unchanged with
	// created == false.
	CreateLobby(ctx context.Context, l *models.Lobby, heartbeatTTL time.Duration) (existing *models.Lobby, created bool, err error)
	// UpdateLobby runs fn against the current record and writes the result
	// back only if fn reports a change and nobody else modified the record in
	// the meantime. Conflicts are retried.
	UpdateLobby(ctx context.Context, id string, fn func(*models.Lobby) (bool, error)) (*models.Lobby, bool, error)
	// AdmitJoiner runs the atomic admission check for m against lobby id.
	AdmitJoiner(ctx context.Context, id string, m models.Member, maxJoiners int) (AdmitOutcome, *models.Lobby, error)
	// KillLobby moves the active record to the archive and drops it from the
	// open index. ErrNotFound when there is no active record. An undecodable
	// record is discarded without an archive and reported as ErrCorrupt.
	KillLobby(ctx context.Context, id, reason string, killedAt int64) (*models.KilledLobby, error)
	// DiscardLobby deletes the active record, its heartbeat and its index
	// entries without writing an archive.
	DiscardLobby(ctx context.Context, id string) error
	GetKilledLobby(ctx context.Context, id string) (*models.KilledLobby, error)
	KilledLobbyIDs(ctx context.Context) ([]string, error)
	DeleteKilledLobby(ctx context.Context, id string) error

	// OpenLobbyIDs returns open lobby ids oldest first.
	OpenLobbyIDs(ctx context.Context) ([]string, error)
	// IndexOpenLobby adds id to the open index, keeping any existing score.
	IndexOpenLobby(ctx context.Context, id string, createdAt int64) error
	UnindexOpenLobby(ctx context.Context, id string) error

	TouchHeartbeat(ctx context.Context, id string, ttl time.Duration) error
	HasHeartbeat(ctx context.Context, id string) (bool, error)
}

// QueueRepository persists the per-side FIFO queues.
type QueueRepository interface {
	// Enqueue appends e to its side unless the token is already queued there.
	Enqueue(ctx context.Context, e models.QueueEntry) (bool, error)
	// Dequeue removes the entry for token; false when there was none.
	Dequeue(ctx context.Context, side models.Side, token string) (bool, error)
	QueueEntries(ctx context.Context, side models.Side) ([]models.QueueEntry, error)
	QueueLen(ctx context.Context, side models.Side) (int, error)
}

// Repository is everything the matchmaking core needs from the shared store.
type Repository interface {
	LobbyRepository
	QueueRepository
}
