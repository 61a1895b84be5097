// internal/presence/event.go
package presence

import (
	"context"
	"encoding/json"

	"github.com/jason-s-yu/matchmaker/internal/models"
)

const (
	TopicMatchmaking = "matchmaking"
	TopicConnection  = "connection"

	EventJoined     = "joined"
	EventClosed     = "closed"
	EventSuccessful = "successful"
)

// Event is one message pushed to a connected player.
type Event struct {
	Topic string          `json:"topic"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Name returns the dotted form used in logs, e.g. "matchmaking.joined".
func (e Event) Name() string { return e.Topic + "." + e.Event }

// Notifier delivers events to players on a best-effort basis. Implementations
// must not block on the receiving client.
type Notifier interface {
	Notify(ctx context.Context, playerID string, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, string, Event) error { return nil }

func snapshotEvent(name string, s *models.Snapshot) Event {
	ev := Event{Topic: TopicMatchmaking, Event: name}
	if s != nil {
		if raw, err := json.Marshal(s); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// MatchJoined is sent to the host and the joiner when a joiner is admitted.
func MatchJoined(s *models.Snapshot) Event { return snapshotEvent(EventJoined, s) }

// MatchClosed is sent to the joiners of a lobby that was killed.
func MatchClosed(s *models.Snapshot) Event { return snapshotEvent(EventClosed, s) }

// Connected is the greeting written right after a presence socket opens.
func Connected() Event { return Event{Topic: TopicConnection, Event: EventSuccessful} }
