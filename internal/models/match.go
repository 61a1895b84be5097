// internal/models/match.go
package models

// QueueEntry is a player waiting on one side of the matchmaking queue.
// SessionToken is its identity; a side never holds two entries with the
// same token.
type QueueEntry struct {
	SessionToken string `json:"sessionToken"`
	PlayerID     string `json:"playerId"`
	Side         Side   `json:"side"`
	EnqueuedAt   int64  `json:"enqueuedAt"`
}

// MatchStatus is the state reported to a polling client.
type MatchStatus string

const (
	StatusNone    MatchStatus = ""
	StatusQueued  MatchStatus = "QUEUED"
	StatusMatched MatchStatus = "MATCHED"
	StatusOpened  MatchStatus = "OPENED"
	StatusClosed  MatchStatus = "CLOSED"
)

// UnknownETA is reported when no estimate has been computed yet.
const UnknownETA = -10000

// QueueStatus describes a queued player's place in line.
type QueueStatus struct {
	ETA      int  `json:"ETA"`
	Position int  `json:"position"`
	SizeA    int  `json:"sizeA"`
	SizeB    int  `json:"sizeB"`
	Stable   bool `json:"stable"`
}

// MatchResult is the answer to a queue poll. Exactly one of Queue or Match is
// set for QUEUED and MATCHED respectively; an empty Status means the caller
// has no queue entry and should enqueue again.
type MatchResult struct {
	Status MatchStatus  `json:"status"`
	Queue  *QueueStatus `json:"queueData,omitempty"`
	Match  *Snapshot    `json:"matchData,omitempty"`
}

// Queued reports whether the result is QUEUED.
func (r *MatchResult) Queued() bool { return r != nil && r.Status == StatusQueued }

// Matched reports whether the result is MATCHED.
func (r *MatchResult) Matched() bool { return r != nil && r.Status == StatusMatched }

// MatchProps mirrors the client's expected lobby shape.
type MatchProps struct {
	CountA int `json:"countA"`
	CountB int `json:"countB"`
}

// MatchCustomData carries the host's opaque session settings.
type MatchCustomData struct {
	SessionSettings string `json:"SessionSettings"`
}

// Snapshot is the client-facing view of a lobby.
type Snapshot struct {
	MatchID    string          `json:"matchId"`
	Status     MatchStatus     `json:"status"`
	Creator    string          `json:"creator"`
	SideA      []string        `json:"sideA"`
	SideB      []string        `json:"sideB"`
	CustomData MatchCustomData `json:"customData"`
	Props      MatchProps      `json:"props"`
	Reason     string          `json:"reason"`
	CreatedAt  int64           `json:"creationDateTime"`
	KilledAt   int64           `json:"killedAt,omitempty"`
}

// NewSnapshot builds the client view of l with the given status.
func NewSnapshot(l *Lobby, status MatchStatus, maxJoiners int) *Snapshot {
	return &Snapshot{
		MatchID:    l.ID,
		Status:     status,
		Creator:    l.Host.PlayerID,
		SideA:      []string{l.Host.PlayerID},
		SideB:      l.JoinerIDs(),
		CustomData: MatchCustomData{SessionSettings: l.SessionSettings},
		Props:      MatchProps{CountA: 1, CountB: maxJoiners},
		Reason:     l.Reason,
		CreatedAt:  l.CreatedAt,
	}
}

// NewClosedSnapshot builds the CLOSED view of an archived lobby.
func NewClosedSnapshot(k *KilledLobby, maxJoiners int) *Snapshot {
	s := NewSnapshot(&k.Lobby, StatusClosed, maxJoiners)
	s.KilledAt = k.KilledAt
	return s
}

// QueueStats is the observability view of one side of the queue.
type QueueStats struct {
	OpenLobbies int `json:"openLobbies"`
	QueueLength int `json:"queue"`
}
