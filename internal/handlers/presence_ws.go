// internal/handlers/presence_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/matchmaker/internal/middleware"
	"github.com/jason-s-yu/matchmaker/internal/presence"
	"github.com/sirupsen/logrus"
)

// PresenceURLHandler hands the caller a signed websocket URL for presence
// events.
func PresenceURLHandler(s *MatchServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, playerID, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		token, err := s.Tokens.Create(playerID)
		if err != nil {
			s.Logger.WithError(err).Error("failed to sign presence token")
			http.Error(w, "failed to create presence token", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"url": strings.TrimRight(s.PublicWSURL, "/") + "/presence/ws/" + token,
		})
	}
}

// PresenceWSHandler accepts the presence socket. The client only listens;
// anything it sends is read and discarded so control frames are processed.
func PresenceWSHandler(s *MatchServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, authErr := s.Tokens.Authenticate(r.PathValue("token"))

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			s.Logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if authErr != nil {
			c.Close(InvalidAuthTokenError, "invalid presence token")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		conn := s.Hub.Register(playerID, cancel)
		defer s.Hub.Unregister(conn)

		middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path)
		conn.Write(presence.Connected())

		go presenceWritePump(ctx, c, conn, s.Logger)

		// Cancelling a read tears the socket down without a close frame, so
		// the reader runs on the request context and ctx is watched here.
		readErr := make(chan error, 1)
		go func() { readErr <- presenceReadPump(r.Context(), c) }()
		select {
		case err = <-readErr:
		case <-ctx.Done():
		}

		middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, err)
		c.Close(presenceCloseStatus(conn, ctx.Err() != nil && r.Context().Err() == nil))
	}
}

// presenceCloseStatus picks the close frame for a finished socket. cancelled
// is true when the socket was stopped from our side.
func presenceCloseStatus(conn *presence.Conn, cancelled bool) (websocket.StatusCode, string) {
	switch {
	case conn.Replaced():
		return ReplacedError, "replaced by a newer connection"
	case cancelled:
		return websocket.StatusInternalError, "presence connection lost"
	default:
		return websocket.StatusNormalClosure, ""
	}
}

func presenceReadPump(ctx context.Context, c *websocket.Conn) error {
	for {
		if _, _, err := c.Read(ctx); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func presenceWritePump(ctx context.Context, c *websocket.Conn, conn *presence.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-conn.OutChan:
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Warnf("presence: failed to marshal %s for %s: %v", ev.Name(), conn.PlayerID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("presence: failed to write to %s: %v", conn.PlayerID, err)
				conn.Cancel()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Cancel()
				return
			}
		}
	}
}
