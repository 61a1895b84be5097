// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// maxTxAttempts bounds the optimistic WATCH/MULTI retry loop.
const maxTxAttempts = 16

// ConnectRedis opens a client for addr/db and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Redis implements Repository on top of a single Redis instance.
type Redis struct {
	rdb    redis.UniversalClient
	logger *logrus.Logger
}

// NewRedis wraps rdb. A nil logger discards output.
func NewRedis(rdb redis.UniversalClient, logger *logrus.Logger) *Redis {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Redis{rdb: rdb, logger: logger}
}

// Client exposes the underlying client for collaborators that share the
// connection (presence relay).
func (r *Redis) Client() redis.UniversalClient { return r.rdb }

func decodeLobby(raw []byte) (*models.Lobby, error) {
	var l models.Lobby
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("%w: lobby: %v", ErrCorrupt, err)
	}
	if l.Joiners == nil {
		l.Joiners = []models.Member{}
	}
	return &l, nil
}

func encodeLobby(l *models.Lobby) ([]byte, error) {
	if l.Joiners == nil {
		l.Joiners = []models.Member{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lobby %s: %w", l.ID, err)
	}
	return data, nil
}

// watch runs fn inside WATCH keys and retries when EXEC aborts because a
// watched key changed underneath it.
func (r *Redis) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := r.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		r.logger.WithFields(logrus.Fields{
			"keys":    keys,
			"attempt": attempt,
		}).Debug("optimistic transaction conflict, retrying")
	}
	return ErrConflict
}

func (r *Redis) GetLobby(ctx context.Context, id string) (*models.Lobby, error) {
	raw, err := r.rdb.Get(ctx, lobbyKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lobby %s: %w", id, err)
	}
	return decodeLobby(raw)
}

func (r *Redis) CreateLobby(ctx context.Context, l *models.Lobby, heartbeatTTL time.Duration) (*models.Lobby, bool, error) {
	key := lobbyKey(l.ID)
	data, err := encodeLobby(l)
	if err != nil {
		return nil, false, err
	}

	keys := []string{key}
	claim := ""
	if l.Host.SessionToken != "" {
		claim = hostLobbyKey(l.Host.SessionToken)
		keys = append(keys, claim)
	}

	var (
		existing *models.Lobby
		created  bool
	)
	err = r.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			existing, err = decodeLobby(raw)
			created = false
			return err
		case !errors.Is(err, redis.Nil):
			return err
		}

		if claim != "" {
			held, err := r.claimedLobby(ctx, tx, claim)
			if err != nil {
				return err
			}
			if held != nil {
				existing, created = held, false
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, openLobbiesKey, l.ID)
			pipe.ZAdd(ctx, openLobbiesZKey, redis.Z{Score: float64(l.CreatedAt), Member: l.ID})
			if heartbeatTTL > 0 {
				pipe.Set(ctx, heartbeatKey(l.ID), l.CreatedAt, heartbeatTTL)
			}
			if claim != "" {
				pipe.Set(ctx, claim, l.ID, 0)
			}
			return nil
		})
		if err == nil {
			existing, created = l, true
		}
		return err
	}, keys...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create lobby %s: %w", l.ID, err)
	}
	return existing, created, nil
}

// claimedLobby follows a host claim to its lobby. A claim naming a record
// that is gone or undecodable counts as free.
func (r *Redis) claimedLobby(ctx context.Context, tx *redis.Tx, claim string) (*models.Lobby, error) {
	id, err := tx.Get(ctx, claim).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := tx.Get(ctx, lobbyKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l, err := decodeLobby(raw)
	if err != nil {
		r.logger.WithError(err).WithField("lobby_id", id).Warn("host claim points at an undecodable lobby")
		return nil, nil
	}
	return l, nil
}

func (r *Redis) UpdateLobby(ctx context.Context, id string, fn func(*models.Lobby) (bool, error)) (*models.Lobby, bool, error) {
	key := lobbyKey(id)
	var (
		out     *models.Lobby
		changed bool
	)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		l, err := decodeLobby(raw)
		if err != nil {
			return err
		}
		dirty, err := fn(l)
		if err != nil {
			return err
		}
		if !dirty {
			out, changed = l, false
			return nil
		}
		data, err := encodeLobby(l)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			out, changed = l, true
		}
		return err
	}, key)
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

func (r *Redis) AdmitJoiner(ctx context.Context, id string, m models.Member, maxJoiners int) (AdmitOutcome, *models.Lobby, error) {
	member, err := json.Marshal(m)
	if err != nil {
		return AdmitRejected, nil, fmt.Errorf("failed to encode member: %w", err)
	}

	res, err := admitScript.Run(ctx, r.rdb, []string{lobbyKey(id)}, string(member), maxJoiners).Slice()
	if err != nil {
		return AdmitRejected, nil, fmt.Errorf("admission script failed for lobby %s: %w", id, err)
	}
	if len(res) != 2 {
		return AdmitRejected, nil, fmt.Errorf("admission script returned %d values", len(res))
	}
	code, _ := res[0].(int64)
	raw, _ := res[1].(string)

	outcome := AdmitOutcome(code)
	if outcome == AdmitRejected {
		return AdmitRejected, nil, nil
	}
	l, err := decodeLobby([]byte(raw))
	if err != nil {
		return outcome, nil, err
	}
	return outcome, l, nil
}

func (r *Redis) KillLobby(ctx context.Context, id, reason string, killedAt int64) (*models.KilledLobby, error) {
	key := lobbyKey(id)
	var killed *models.KilledLobby
	err := r.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		l, err := decodeLobby(raw)
		if err != nil {
			r.logger.WithError(err).WithField("lobby_id", id).Warn("discarding undecodable lobby")
			if _, perr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				discard(ctx, pipe, id)
				return nil
			}); perr != nil {
				return perr
			}
			return err
		}
		if reason != "" {
			l.Reason = reason
		}
		k := &models.KilledLobby{Lobby: *l, KilledAt: killedAt}
		archive, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("failed to encode archive %s: %w", id, err)
		}

		// The claim can only change hands once this record is gone, so the
		// unwatched read is stable until EXEC.
		claim := ""
		if l.Host.SessionToken != "" {
			owner, err := tx.Get(ctx, hostLobbyKey(l.Host.SessionToken)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if owner == id {
				claim = hostLobbyKey(l.Host.SessionToken)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			discard(ctx, pipe, id)
			if claim != "" {
				pipe.Del(ctx, claim)
			}
			pipe.Set(ctx, killedLobbyKey(id), archive, 0)
			pipe.SAdd(ctx, killedLobbiesKey, id)
			return nil
		})
		if err == nil {
			killed = k
		}
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return killed, nil
}

func (r *Redis) DiscardLobby(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		discard(ctx, pipe, id)
		return nil
	})
	return err
}

// discard queues the removal of an active record and everything that points
// at it except the host claim, which goes stale and is ignored.
func discard(ctx context.Context, pipe redis.Pipeliner, id string) {
	pipe.SRem(ctx, openLobbiesKey, id)
	pipe.ZRem(ctx, openLobbiesZKey, id)
	pipe.Del(ctx, lobbyKey(id), heartbeatKey(id))
}

func (r *Redis) GetKilledLobby(ctx context.Context, id string) (*models.KilledLobby, error) {
	raw, err := r.rdb.Get(ctx, killedLobbyKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s: %w", id, err)
	}
	var k models.KilledLobby
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("%w: archive %s: %v", ErrCorrupt, id, err)
	}
	if k.Joiners == nil {
		k.Joiners = []models.Member{}
	}
	return &k, nil
}

func (r *Redis) KilledLobbyIDs(ctx context.Context) ([]string, error) {
	return r.rdb.SMembers(ctx, killedLobbiesKey).Result()
}

func (r *Redis) DeleteKilledLobby(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, killedLobbyKey(id))
		pipe.SRem(ctx, killedLobbiesKey, id)
		return nil
	})
	return err
}

func (r *Redis) OpenLobbyIDs(ctx context.Context) ([]string, error) {
	return r.rdb.ZRange(ctx, openLobbiesZKey, 0, -1).Result()
}

func (r *Redis) IndexOpenLobby(ctx context.Context, id string, createdAt int64) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, openLobbiesKey, id)
		pipe.ZAddNX(ctx, openLobbiesZKey, redis.Z{Score: float64(createdAt), Member: id})
		return nil
	})
	return err
}

func (r *Redis) UnindexOpenLobby(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, openLobbiesKey, id)
		pipe.ZRem(ctx, openLobbiesZKey, id)
		return nil
	})
	return err
}

func (r *Redis) TouchHeartbeat(ctx context.Context, id string, ttl time.Duration) error {
	return r.rdb.Set(ctx, heartbeatKey(id), time.Now().Unix(), ttl).Err()
}

func (r *Redis) HasHeartbeat(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, heartbeatKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Enqueue(ctx context.Context, e models.QueueEntry) (bool, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("failed to marshal queue entry: %w", err)
	}
	n, err := enqueueScript.Run(ctx, r.rdb, []string{queueKey(e.Side)}, e.SessionToken, string(data)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue on %s: %w", queueKey(e.Side), err)
	}
	return n == 1, nil
}

func (r *Redis) Dequeue(ctx context.Context, side models.Side, token string) (bool, error) {
	n, err := dequeueScript.Run(ctx, r.rdb, []string{queueKey(side)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("failed to dequeue from %s: %w", queueKey(side), err)
	}
	return n == 1, nil
}

func (r *Redis) QueueEntries(ctx context.Context, side models.Side) ([]models.QueueEntry, error) {
	items, err := r.rdb.LRange(ctx, queueKey(side), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", queueKey(side), err)
	}
	entries := make([]models.QueueEntry, 0, len(items))
	for _, raw := range items {
		var e models.QueueEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			r.logger.WithError(err).WithField("queue", queueKey(side)).Warn("skipping undecodable queue entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *Redis) QueueLen(ctx context.Context, side models.Side) (int, error) {
	n, err := r.rdb.LLen(ctx, queueKey(side)).Result()
	return int(n), err
}
