package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSessionNotFound is returned for unknown or expired session tokens.
var ErrSessionNotFound = errors.New("session not found")

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           SERIAL PRIMARY KEY,
	bhvr_session TEXT UNIQUE NOT NULL,
	user_id      TEXT NOT NULL,
	steam_id     BIGINT NOT NULL DEFAULT 0,
	expires      BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// SessionStore reads the sessions table owned by the login service. Only the
// lookup and the expiry purge live here.
type SessionStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool, now: time.Now}
}

// EnsureSchema creates the sessions table if it is missing. The login
// service owns the table; this is for local and test databases only.
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sessionSchema); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

// PlayerID resolves a session token to its player id.
func (s *SessionStore) PlayerID(ctx context.Context, token string) (string, error) {
	q := `SELECT user_id FROM sessions WHERE bhvr_session=$1 AND expires > $2`

	var playerID string
	err := s.pool.QueryRow(ctx, q, token, s.now().Unix()).Scan(&playerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up session: %w", err)
	}
	return playerID, nil
}

// RemoveExpired deletes every expired session and returns how many went.
func (s *SessionStore) RemoveExpired(ctx context.Context) (int64, error) {
	var n int64
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM sessions WHERE expires <= $1`, s.now().Unix())
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remove expired sessions: %w", err)
	}
	return n, nil
}
