// internal/handlers/queue.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/sirupsen/logrus"
)

type queueRequest struct {
	Side      string `json:"side"`
	CheckOnly bool   `json:"checkOnly"`
}

// QueueHandler enqueues the caller, or with checkOnly polls their status.
func QueueHandler(s *MatchServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, playerID, ok := s.authenticate(w, r)
		if !ok {
			return
		}

		var req queueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad queue request payload", http.StatusBadRequest)
			return
		}
		side, err := models.ParseSide(req.Side)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q := s.Matchmaker.Queue(side)

		if !req.CheckOnly {
			if _, err := q.Enqueue(r.Context(), token, playerID); err != nil {
				s.storeError(w, r, err)
				return
			}
			status := &models.QueueStatus{ETA: models.UnknownETA}
			if side == models.SideHost {
				status.SizeA = 1
			} else {
				status.SizeB = 1
			}
			writeJSON(w, http.StatusOK, &models.MatchResult{Status: models.StatusQueued, Queue: status})
			return
		}

		res, err := q.PollStatus(r.Context(), token)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		if res.Status == models.StatusNone {
			writeJSON(w, http.StatusOK, struct{}{})
			return
		}
		if res.Matched() {
			s.Logger.WithFields(logrus.Fields{
				"side":     side,
				"player":   playerID,
				"match_id": res.Match.MatchID,
			}).Info("player matched")
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// CancelQueueHandler removes the caller from both queues.
func CancelQueueHandler(s *MatchServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessionToken(w, r)
		if !ok {
			return
		}
		if err := s.Matchmaker.Cancel(r.Context(), token); err != nil {
			s.storeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// StatsHandler reports open lobbies and queue lengths per side.
func StatsHandler(s *MatchServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Matchmaker.Stats(r.Context())
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
