// internal/handlers/server.go
package handlers

import (
	"context"
	"net/http"

	"github.com/jason-s-yu/matchmaker/internal/auth"
	"github.com/jason-s-yu/matchmaker/internal/matchmaking"
	"github.com/jason-s-yu/matchmaker/internal/middleware"
	"github.com/jason-s-yu/matchmaker/internal/presence"
	"github.com/sirupsen/logrus"
)

// SessionCookie carries the caller's session token.
const SessionCookie = "bhvrSession"

// SessionLookup resolves a session token to a player id, returning
// database.ErrSessionNotFound for unknown or expired sessions.
type SessionLookup interface {
	PlayerID(ctx context.Context, token string) (string, error)
}

// MatchServer holds everything the endpoint layer talks to.
type MatchServer struct {
	Matchmaker  *matchmaking.Matchmaker
	Sessions    SessionLookup
	Tokens      *auth.Tokens
	Hub         *presence.Hub
	PublicWSURL string
	Logger      *logrus.Logger
}

// Routes registers every endpoint on mux. metrics may be nil.
func (s *MatchServer) Routes(mux *http.ServeMux, metrics http.Handler) {
	logged := middleware.LogMiddleware(s.Logger)

	mux.Handle("POST /queue", logged(QueueHandler(s)))
	mux.Handle("POST /queue/cancel", logged(CancelQueueHandler(s)))
	mux.Handle("GET /matchmaking/stats", logged(StatsHandler(s)))

	mux.Handle("POST /match/{id}/register", logged(RegisterMatchHandler(s)))
	mux.Handle("GET /match/{id}", logged(GetMatchHandler(s)))
	mux.Handle("PUT /match/{id}/{reason}", logged(CloseMatchHandler(s)))

	if s.Tokens != nil && s.Hub != nil {
		mux.Handle("GET /presence/url", logged(PresenceURLHandler(s)))
		mux.Handle("GET /presence/ws/{token}", PresenceWSHandler(s))
	}
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
}
