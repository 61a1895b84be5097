// internal/handlers/match.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jason-s-yu/matchmaker/internal/models"
)

type registerRequest struct {
	CustomData models.MatchCustomData `json:"customData"`
}

// RegisterMatchHandler marks the caller's lobby ready for joiners.
func RegisterMatchHandler(s *MatchServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessionToken(w, r)
		if !ok {
			return
		}
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "bad register payload", http.StatusBadRequest)
			return
		}

		lm := s.Matchmaker.Lobbies()
		l, err := lm.RegisterMatchAs(r.Context(), r.PathValue("id"), token, req.CustomData.SessionSettings)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, models.NewSnapshot(l, models.StatusOpened, lm.MaxJoiners()))
	}
}

// GetMatchHandler returns the match snapshot. Reading an open match keeps its
// heartbeat alive.
func GetMatchHandler(s *MatchServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.Matchmaker.Lobbies().Snapshot(r.Context(), r.PathValue("id"))
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// CloseMatchHandler closes the match for its host or removes a joiner.
func CloseMatchHandler(s *MatchServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessionToken(w, r)
		if !ok {
			return
		}
		snap, err := s.Matchmaker.Lobbies().CloseMatch(r.Context(), r.PathValue("id"), token, r.PathValue("reason"))
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}
