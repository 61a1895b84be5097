// internal/store/keys.go
package store

import "github.com/jason-s-yu/matchmaker/internal/models"

// Redis key layout. Every piece of matchmaking state lives under one of
// these keys; nothing is kept authoritatively in process memory.
const (
	openLobbiesKey   = "lobbies:open"
	openLobbiesZKey  = "lobbies:open:z"
	killedLobbiesKey = "lobbies:killed"
)

func lobbyKey(id string) string       { return "lobby:" + id }
func killedLobbyKey(id string) string { return "killed_lobby:" + id }
func heartbeatKey(id string) string   { return "heartbeat:" + id }

// hostLobbyKey maps a host session token to the id of the lobby it owns.
func hostLobbyKey(sessionToken string) string { return "host_lobby:" + sessionToken }

func queueKey(side models.Side) string { return "queue:" + side.String() }
