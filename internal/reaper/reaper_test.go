package reaper

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jason-s-yu/matchmaker/internal/clock"
	"github.com/jason-s-yu/matchmaker/internal/lobby"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/jason-s-yu/matchmaker/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSessions struct {
	calls atomic.Int32
	err   error
}

func (m *mockSessions) RemoveExpired(context.Context) (int64, error) {
	m.calls.Add(1)
	return 3, m.err
}

func newManager(t *testing.T) (*lobby.LobbyManager, *miniredis.Miniredis, *clock.Manual) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := quietLogger()
	clk := clock.NewManual(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	lm := lobby.NewLobbyManager(store.NewRedis(rdb, logger), clk, nil, nil, logger, lobby.Options{MaxJoiners: 4, HeartbeatTTL: 20 * time.Second})
	return lm, mr, clk
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSweepKillsLobbyWithoutHeartbeat(t *testing.T) {
	lm, mr, _ := newManager(t)
	ctx := context.Background()
	r := New(lm, nil, quietLogger(), Options{ArchiveGrace: 5 * time.Minute})

	id, err := lm.CreateLobby(ctx, models.Member{SessionToken: "tok-H", PlayerID: "H"}, "")
	require.NoError(t, err)

	n, err := r.SweepDeadLobbies(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh lobby has a heartbeat")

	mr.FastForward(21 * time.Second)
	n, err = r.SweepDeadLobbies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := lm.Snapshot(ctx, id)
	require.NoError(t, err, "a reaped lobby still answers from the archive")
	assert.Equal(t, models.StatusClosed, snap.Status)
	assert.Equal(t, lobby.ReasonHeartbeatExpired, snap.Reason)
}

func TestSweepSparesLobbyReadWithinTTL(t *testing.T) {
	lm, mr, _ := newManager(t)
	ctx := context.Background()
	r := New(lm, nil, quietLogger(), Options{})

	id, err := lm.CreateLobby(ctx, models.Member{SessionToken: "tok-H", PlayerID: "H"}, "")
	require.NoError(t, err)

	mr.FastForward(15 * time.Second)
	_, err = lm.Snapshot(ctx, id)
	require.NoError(t, err)
	mr.FastForward(15 * time.Second)

	n, err := r.SweepDeadLobbies(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	snap, err := lm.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpened, snap.Status)
}

func TestPurgeArchivesAfterGrace(t *testing.T) {
	lm, _, clk := newManager(t)
	ctx := context.Background()
	r := New(lm, nil, quietLogger(), Options{ArchiveGrace: 5 * time.Minute})

	id, err := lm.CreateLobby(ctx, models.Member{SessionToken: "tok-H", PlayerID: "H"}, "")
	require.NoError(t, err)
	_, err = lm.KillMatch(ctx, id, "hostLeft")
	require.NoError(t, err)

	n, err := r.PurgeArchives(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(6 * time.Minute)
	n, err = r.PurgeArchives(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = lm.Snapshot(ctx, id)
	assert.ErrorIs(t, err, lobby.ErrNotFound)
}

func TestPurgeSessions(t *testing.T) {
	lm, _, _ := newManager(t)
	ctx := context.Background()

	n, err := New(lm, nil, quietLogger(), Options{}).PurgeSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sessions := &mockSessions{}
	n, err = New(lm, sessions, quietLogger(), Options{}).PurgeSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	sessions.err = errors.New("db down")
	_, err = New(lm, sessions, quietLogger(), Options{}).PurgeSessions(ctx)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	lm, _, _ := newManager(t)
	sessions := &mockSessions{err: errors.New("keeps failing")}
	r := New(lm, sessions, quietLogger(), Options{
		SweepInterval:        5 * time.Millisecond,
		ArchivePurgeInterval: 5 * time.Millisecond,
		SessionPurgeInterval: 5 * time.Millisecond,
		ArchiveGrace:         time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sessions.calls.Load() >= 2 }, time.Second, 5*time.Millisecond,
		"errors must not stop the loop")
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestSweepDropsUndecodableLobby(t *testing.T) {
	lm, mr, _ := newManager(t)
	ctx := context.Background()
	r := New(lm, nil, quietLogger(), Options{ArchiveGrace: 5 * time.Minute})

	id, err := lm.CreateLobby(ctx, models.Member{SessionToken: "tok-H", PlayerID: "H"}, "")
	require.NoError(t, err)
	require.NoError(t, mr.Set("lobby:"+id, "{not json"))

	mr.FastForward(21 * time.Second)
	n, err := r.SweepDeadLobbies(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ids, err := lm.OpenLobbyIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
