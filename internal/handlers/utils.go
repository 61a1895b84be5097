package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jason-s-yu/matchmaker/internal/database"
	"github.com/jason-s-yu/matchmaker/internal/lobby"
	"github.com/sirupsen/logrus"
)

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	for _, part := range strings.Split(cookieHeader, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && name == cookieName {
			return value
		}
	}
	return ""
}

// authenticate resolves the session cookie into (token, playerID). On failure
// it has already written the response.
func (s *MatchServer) authenticate(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	token := extractCookieToken(r.Header.Get("Cookie"), SessionCookie)
	if token == "" {
		http.Error(w, "no session cookie", http.StatusUnauthorized)
		return "", "", false
	}
	playerID, err := s.Sessions.PlayerID(r.Context(), token)
	if errors.Is(err, database.ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusUnauthorized)
		return "", "", false
	}
	if err != nil {
		s.storeError(w, r, err)
		return "", "", false
	}
	return token, playerID, true
}

// sessionToken returns the cookie token without a lookup; 401 when absent.
func sessionToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := extractCookieToken(r.Header.Get("Cookie"), SessionCookie)
	if token == "" {
		http.Error(w, "no session cookie", http.StatusUnauthorized)
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// storeError maps core errors onto status codes. Anything unexpected is a
// transient store failure and the client is asked to retry.
func (s *MatchServer) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lobby.ErrNotFound):
		http.Error(w, "match not found", http.StatusNotFound)
	case errors.Is(err, lobby.ErrForbidden):
		http.Error(w, "not the match host", http.StatusForbidden)
	default:
		s.Logger.WithFields(logrus.Fields{
			"path":  r.URL.Path,
			"error": err,
		}).Error("store failure")
		w.Header().Set("Retry-After", "1")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
	}
}
