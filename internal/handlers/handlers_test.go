package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/jason-s-yu/matchmaker/internal/auth"
	"github.com/jason-s-yu/matchmaker/internal/clock"
	"github.com/jason-s-yu/matchmaker/internal/database"
	"github.com/jason-s-yu/matchmaker/internal/lobby"
	"github.com/jason-s-yu/matchmaker/internal/matchmaking"
	"github.com/jason-s-yu/matchmaker/internal/metrics"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/jason-s-yu/matchmaker/internal/presence"
	"github.com/jason-s-yu/matchmaker/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSessions maps session tokens to player ids.
type mockSessions struct {
	players map[string]string
	err     error
}

func (m *mockSessions) PlayerID(_ context.Context, token string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	id, ok := m.players[token]
	if !ok {
		return "", database.ErrSessionNotFound
	}
	return id, nil
}

type testEnv struct {
	server   *MatchServer
	mux      *http.ServeMux
	sessions *mockSessions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := store.NewRedis(rdb, logger)
	hub := presence.NewHub(logger, 8)
	clk := clock.Real{}
	m := metrics.New()
	lm := lobby.NewLobbyManager(repo, clk, hub, m, logger, lobby.Options{MaxJoiners: 4, HeartbeatTTL: 20 * time.Second})
	mm := matchmaking.NewMatchmaker(repo, lm, clk, hub, m, logger, matchmaking.Options{MaxJoiners: 4, AvgMatchSeconds: 10})

	tokens, err := auth.NewTokens(time.Minute)
	require.NoError(t, err)

	sessions := &mockSessions{players: map[string]string{
		"tok-H":  "H",
		"tok-P1": "P1",
		"tok-X":  "X",
	}}
	s := &MatchServer{
		Matchmaker:  mm,
		Sessions:    sessions,
		Tokens:      tokens,
		Hub:         hub,
		PublicWSURL: "ws://example.test",
		Logger:      logger,
	}
	mux := http.NewServeMux()
	s.Routes(mux, m.Handler())
	return &testEnv{server: s, mux: mux, sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, path, session, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if session != "" {
		req.Header.Set("Cookie", "other=1; "+SessionCookie+"="+session)
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestQueueRequiresSession(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/queue", "", `{"side":"A"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/queue", "tok-unknown", `{"side":"A"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/queue", "tok-H", `{"side":"C"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.sessions.err = errors.New("connection refused")
	w = e.do(t, http.MethodPost, "/queue", "tok-H", `{"side":"A"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRoutesMatchMethodAndWildcards(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/queue", "tok-H", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, w.Header().Get("Allow"), http.MethodPost)

	w = e.do(t, http.MethodPut, "/match/some-id/hostLeft", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "wildcard route reached the handler")

	w = e.do(t, http.MethodGet, "/matchmaking/stats", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnqueueReplyIsUnstable(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/queue", "tok-P1", `{"side":"B"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[models.MatchResult](t, w)
	assert.Equal(t, models.StatusQueued, res.Status)
	require.NotNil(t, res.Queue)
	assert.Equal(t, models.UnknownETA, res.Queue.ETA)
	assert.False(t, res.Queue.Stable)
	assert.Equal(t, 1, res.Queue.SizeB)

	w = e.do(t, http.MethodPost, "/queue", "tok-H", `{"side":"A","checkOnly":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String(), "not queued")
}

func TestMatchLifecycle(t *testing.T) {
	e := newTestEnv(t)

	// Host queues and is matched with a fresh lobby.
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/queue", "tok-H", `{"side":"A"}`).Code)
	w := e.do(t, http.MethodPost, "/queue", "tok-H", `{"side":"A","checkOnly":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	hostRes := decode[models.MatchResult](t, w)
	require.Equal(t, models.StatusMatched, hostRes.Status)
	matchID := hostRes.Match.MatchID

	w = e.do(t, http.MethodPost, "/match/"+matchID+"/register", "tok-P1", `{"customData":{"SessionSettings":"abc"}}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, http.MethodPost, "/match/missing/register", "tok-H", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/match/"+matchID+"/register", "tok-H", `{"customData":{"SessionSettings":"abc"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[models.Snapshot](t, w)
	assert.Equal(t, models.StatusOpened, snap.Status)
	assert.Equal(t, "abc", snap.CustomData.SessionSettings)

	// Joiner is admitted.
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/queue", "tok-P1", `{"side":"B"}`).Code)
	w = e.do(t, http.MethodPost, "/queue", "tok-P1", `{"side":"B","checkOnly":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	joinRes := decode[models.MatchResult](t, w)
	require.Equal(t, models.StatusMatched, joinRes.Status)
	assert.Equal(t, matchID, joinRes.Match.MatchID)
	assert.Equal(t, []string{"P1"}, joinRes.Match.SideB)

	w = e.do(t, http.MethodGet, "/match/"+matchID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusOpened, decode[models.Snapshot](t, w).Status)

	w = e.do(t, http.MethodGet, "/match/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPut, "/match/"+matchID+"/hostLeft", "tok-X", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, http.MethodPut, "/match/"+matchID+"/hostLeft", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPut, "/match/"+matchID+"/hostLeft", "tok-H", "")
	require.Equal(t, http.StatusOK, w.Code)
	closed := decode[models.Snapshot](t, w)
	assert.Equal(t, models.StatusClosed, closed.Status)
	assert.Equal(t, "hostLeft", closed.Reason)

	w = e.do(t, http.MethodGet, "/match/"+matchID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	read := decode[models.Snapshot](t, w)
	assert.Equal(t, models.StatusClosed, read.Status)
	assert.Equal(t, "hostLeft", read.Reason)

	w = e.do(t, http.MethodPut, "/match/"+matchID+"/again", "tok-H", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hostLeft", decode[models.Snapshot](t, w).Reason)
}

func TestCancelAndStats(t *testing.T) {
	e := newTestEnv(t)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/queue", "tok-P1", `{"side":"joiner"}`).Code)

	w := e.do(t, http.MethodGet, "/matchmaking/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[map[string]models.QueueStats](t, w)
	assert.Equal(t, 1, stats["joiner"].QueueLength)
	assert.Equal(t, 0, stats["host"].QueueLength)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/queue/cancel", "", "").Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodPost, "/queue/cancel", "tok-P1", "").Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodPost, "/queue/cancel", "tok-P1", "").Code)

	w = e.do(t, http.MethodGet, "/matchmaking/stats", "", "")
	assert.Equal(t, 0, decode[map[string]models.QueueStats](t, w)["joiner"].QueueLength)

	w = e.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "matchmaker_enqueued_total")
}

func TestPresenceSocket(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.mux)
	t.Cleanup(srv.Close)
	e.server.PublicWSURL = "ws" + strings.TrimPrefix(srv.URL, "http")

	w := e.do(t, http.MethodGet, "/presence/url", "tok-P1", "")
	require.Equal(t, http.StatusOK, w.Code)
	url := decode[map[string]string](t, w)["url"]
	require.True(t, strings.HasPrefix(url, e.server.PublicWSURL+"/presence/ws/"), url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	var ev presence.Event
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "connection.successful", ev.Name())

	require.Eventually(t, func() bool { return e.server.Hub.Connected("P1") }, time.Second, 10*time.Millisecond)
	require.NoError(t, e.server.Hub.Notify(ctx, "P1", presence.MatchClosed(nil)))

	_, data, err = c.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "matchmaking.closed", ev.Name())
}

func TestPresenceSocketRejectsBadToken(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/presence/ws/garbage", nil)
	require.NoError(t, err)

	_, _, err = c.Read(ctx)
	assert.Equal(t, websocket.StatusCode(InvalidAuthTokenError), websocket.CloseStatus(err))
}

func TestPresenceSocketReplacedByNewerSocket(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dial := func() *websocket.Conn {
		token, err := e.server.Tokens.Create("P1")
		require.NoError(t, err)
		c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/presence/ws/"+token, nil)
		require.NoError(t, err)
		_, _, err = c.Read(ctx)
		require.NoError(t, err, "greeting")
		return c
	}

	first := dial()
	second := dial()
	defer second.Close(websocket.StatusNormalClosure, "")

	_, _, err := first.Read(ctx)
	assert.Equal(t, websocket.StatusCode(ReplacedError), websocket.CloseStatus(err))
}

func TestPresenceCloseStatus(t *testing.T) {
	hub := presence.NewHub(nil, 1)
	lost := hub.Register("P1", func() {})

	code, _ := presenceCloseStatus(lost, true)
	assert.Equal(t, websocket.StatusInternalError, code, "a failed pump is not a replacement")
	code, _ = presenceCloseStatus(lost, false)
	assert.Equal(t, websocket.StatusNormalClosure, code)

	hub.Register("P1", nil)
	code, _ = presenceCloseStatus(lost, true)
	assert.Equal(t, websocket.StatusCode(ReplacedError), code)
}

func TestExtractCookieToken(t *testing.T) {
	assert.Equal(t, "abc", extractCookieToken("a=1; bhvrSession=abc; b=2", SessionCookie))
	assert.Equal(t, "", extractCookieToken("xbhvrSession=abc", SessionCookie))
	assert.Equal(t, "", extractCookieToken("", SessionCookie))
}
