// internal/models/lobby.go
package models

// Member identifies one player taking part in a lobby.
type Member struct {
	SessionToken string `json:"sessionToken"`
	PlayerID     string `json:"playerId"`
}

// Lobby is a forming match with one host and up to MaxJoiners joiners. It is
// stored as JSON under lobby:{id}; the admission script decodes the same
// document with Redis cjson, so field names here are part of that contract.
type Lobby struct {
	ID      string   `json:"id"`
	Host    Member   `json:"host"`
	Joiners []Member `json:"joiners"`

	// IsReady is set once the host registers the match; only ready lobbies
	// accept joiners.
	IsReady    bool `json:"isReady"`
	HasStarted bool `json:"hasStarted"`

	SessionSettings string `json:"sessionSettings,omitempty"`
	Reason          string `json:"reason,omitempty"`

	// CreatedAt is the creation time in unix milliseconds; it is also the
	// FIFO score in the open-lobby index.
	CreatedAt int64 `json:"createdAt"`
}

// KilledLobby is the archived copy of a closed lobby, kept around for a grace
// window so status reads can still answer CLOSED.
type KilledLobby struct {
	Lobby
	KilledAt int64 `json:"killedAt"`
}

// NewLobby returns a fresh, not yet ready lobby owned by host.
func NewLobby(id string, host Member, createdAt int64) *Lobby {
	return &Lobby{
		ID:        id,
		Host:      host,
		Joiners:   []Member{},
		CreatedAt: createdAt,
	}
}

// Accepting reports whether the lobby currently admits joiners at all.
func (l *Lobby) Accepting() bool {
	return l.IsReady && !l.HasStarted
}

// FreeSlots returns how many joiners the lobby can still take, or 0 when it
// is not accepting.
func (l *Lobby) FreeSlots(maxJoiners int) int {
	if !l.Accepting() {
		return 0
	}
	free := maxJoiners - len(l.Joiners)
	if free < 0 {
		return 0
	}
	return free
}

// HasJoiner reports whether playerID is already seated as a joiner.
func (l *Lobby) HasJoiner(playerID string) bool {
	for _, m := range l.Joiners {
		if m.PlayerID == playerID {
			return true
		}
	}
	return false
}

// IsHost reports whether sessionToken belongs to the lobby host.
func (l *Lobby) IsHost(sessionToken string) bool {
	return sessionToken != "" && l.Host.SessionToken == sessionToken
}

// JoinerIDs returns the joiners' player ids in seat order.
func (l *Lobby) JoinerIDs() []string {
	ids := make([]string, 0, len(l.Joiners))
	for _, m := range l.Joiners {
		ids = append(ids, m.PlayerID)
	}
	return ids
}

// WithoutJoiner returns the joiners list minus the entry for sessionToken and
// whether anything was removed.
func (l *Lobby) WithoutJoiner(sessionToken string) ([]Member, bool) {
	out := make([]Member, 0, len(l.Joiners))
	removed := false
	for _, m := range l.Joiners {
		if m.SessionToken == sessionToken {
			removed = true
			continue
		}
		out = append(out, m)
	}
	return out, removed
}
