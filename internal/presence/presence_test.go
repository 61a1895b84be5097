package presence

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestHubDeliverAndReplace(t *testing.T) {
	hub := NewHub(quietLogger(), 1)

	assert.False(t, hub.Deliver("p1", Connected()), "nobody connected")

	cancelled := false
	first := hub.Register("p1", func() { cancelled = true })
	second := hub.Register("p1", nil)
	assert.True(t, cancelled, "previous socket must be cancelled")
	assert.True(t, first.Replaced())
	assert.False(t, second.Replaced())

	assert.True(t, hub.Deliver("p1", Connected()))
	assert.False(t, hub.Deliver("p1", Connected()), "full buffer drops instead of blocking")
	assert.Len(t, second.OutChan, 1)
	assert.Empty(t, first.OutChan)

	hub.Unregister(first)
	assert.True(t, hub.Connected("p1"), "stale unregister leaves the current socket alone")
	hub.Unregister(second)
	assert.False(t, hub.Connected("p1"))
}

func TestMatchJoinedCarriesSnapshot(t *testing.T) {
	l := models.NewLobby("m1", models.Member{SessionToken: "h", PlayerID: "H"}, 1)
	ev := MatchJoined(models.NewSnapshot(l, models.StatusOpened, 4))
	assert.Equal(t, "matchmaking.joined", ev.Name())

	var s models.Snapshot
	require.NoError(t, json.Unmarshal(ev.Data, &s))
	assert.Equal(t, "m1", s.MatchID)
}

func TestRedisRelayDeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hub := NewHub(quietLogger(), 8)
	conn := hub.Register("p1", nil)
	relay := NewRedisRelay(rdb, hub, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	// The subscription is asynchronous; publish until one lands.
	require.Eventually(t, func() bool {
		assert.NoError(t, relay.Notify(context.Background(), "p1", MatchClosed(nil)))
		select {
		case ev := <-conn.OutChan:
			return ev.Name() == "matchmaking.closed"
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
