// internal/presence/hub.go
package presence

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Conn is a single player's live presence socket as seen by the hub.
type Conn struct {
	PlayerID string
	Cancel   context.CancelFunc // stops the socket's pumps
	OutChan  chan Event

	replaced atomic.Bool
}

// Replaced reports whether a newer connection for the same player took over.
func (c *Conn) Replaced() bool { return c.replaced.Load() }

// Write queues ev without blocking. It reports false when the buffer is full
// and the event was dropped.
func (c *Conn) Write(ev Event) bool {
	select {
	case c.OutChan <- ev:
		return true
	default:
		return false
	}
}

// Hub tracks the presence sockets connected to this instance, one per player.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	buffer int
	logger *logrus.Logger
}

// NewHub returns an empty hub whose connections buffer up to buffer events.
func NewHub(logger *logrus.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		conns:  make(map[string]*Conn),
		buffer: buffer,
		logger: logger,
	}
}

// Register adds a connection for playerID. A previous connection for the same
// player is cancelled and replaced.
func (h *Hub) Register(playerID string, cancel context.CancelFunc) *Conn {
	c := &Conn{
		PlayerID: playerID,
		Cancel:   cancel,
		OutChan:  make(chan Event, h.buffer),
	}

	h.mu.Lock()
	prev := h.conns[playerID]
	h.conns[playerID] = c
	h.mu.Unlock()

	if prev != nil {
		prev.replaced.Store(true)
		if prev.Cancel != nil {
			prev.Cancel()
		}
	}
	return c
}

// Unregister removes c if it is still the player's current connection.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[c.PlayerID]; ok && cur == c {
		delete(h.conns, c.PlayerID)
	}
}

// Connected reports whether playerID has a socket on this instance.
func (h *Hub) Connected(playerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[playerID]
	return ok
}

// Deliver pushes ev to playerID if connected here. It never blocks.
func (h *Hub) Deliver(playerID string, ev Event) bool {
	h.mu.RLock()
	c, ok := h.conns[playerID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if !c.Write(ev) {
		h.logger.WithFields(logrus.Fields{
			"player": playerID,
			"event":  ev.Name(),
		}).Warn("presence buffer full, dropping event")
		return false
	}
	return true
}

// Notify implements Notifier for a single-instance deployment.
func (h *Hub) Notify(_ context.Context, playerID string, ev Event) error {
	h.Deliver(playerID, ev)
	return nil
}
