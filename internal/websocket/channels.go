package websocket

import (
	"sync"

	"relayd/pkg/interfaces"
)

var _ interfaces.Transport = (*Channels)(nil)

// Channels tracks live connections and the identity-named delivery channels
// they attach to. Channels decouple delivery from connection-handle churn: a
// reconnecting client joins the same channel under a fresh handle. A
// connection belongs to at most one channel at a time.
type Channels struct {
	mu      sync.RWMutex
	conns   map[string]*Connection            // connection id -> connection
	members map[string]map[string]*Connection // channel -> connection id -> connection
	joined  map[string]string                 // connection id -> channel
}

// NewChannels creates an empty channel registry.
func NewChannels() *Channels {
	return &Channels{
		conns:   make(map[string]*Connection),
		members: make(map[string]map[string]*Connection),
		joined:  make(map[string]string),
	}
}

// Add tracks a newly accepted connection.
func (ch *Channels) Add(conn *Connection) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.conns[conn.id] = conn
}

// Remove drops a connection and detaches it from its channel. Idempotent.
func (ch *Channels) Remove(conn *Connection) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	delete(ch.conns, conn.id)
	ch.detachLocked(conn.id)
}

// Join attaches conn to the named channel, detaching it from any previous
// one. Unknown connections are ignored.
func (ch *Channels) Join(conn interfaces.Connection, channel string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	c, ok := ch.conns[conn.ID()]
	if !ok {
		return
	}

	ch.detachLocked(c.id)

	if ch.members[channel] == nil {
		ch.members[channel] = make(map[string]*Connection)
	}
	ch.members[channel][c.id] = c
	ch.joined[c.id] = channel
}

// EmitToChannel delivers an event to every connection attached to the
// channel and returns how many received it.
func (ch *Channels) EmitToChannel(channel, event string, payload any) int {
	ch.mu.RLock()
	conns := make([]*Connection, 0, len(ch.members[channel]))
	for _, c := range ch.members[channel] {
		conns = append(conns, c)
	}
	ch.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if err := c.Emit(event, payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// EmitToConn delivers an event to one connection by handle.
func (ch *Channels) EmitToConn(connID, event string, payload any) bool {
	ch.mu.RLock()
	c, ok := ch.conns[connID]
	ch.mu.RUnlock()

	if !ok {
		return false
	}
	return c.Emit(event, payload) == nil
}

// Broadcast delivers an event to every live connection.
func (ch *Channels) Broadcast(event string, payload any) {
	ch.BroadcastExcept("", event, payload)
}

// BroadcastExcept delivers an event to every live connection except the
// named one.
func (ch *Channels) BroadcastExcept(connID, event string, payload any) {
	ch.mu.RLock()
	conns := make([]*Connection, 0, len(ch.conns))
	for id, c := range ch.conns {
		if id == connID {
			continue
		}
		conns = append(conns, c)
	}
	ch.mu.RUnlock()

	for _, c := range conns {
		_ = c.Emit(event, payload)
	}
}

// Count returns the number of live connections.
func (ch *Channels) Count() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	return len(ch.conns)
}

// detachLocked removes a connection from its channel and cleans up empty
// channel maps so departed identities do not leak entries.
func (ch *Channels) detachLocked(connID string) {
	channel, ok := ch.joined[connID]
	if !ok {
		return
	}
	delete(ch.joined, connID)

	if members, ok := ch.members[channel]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(ch.members, channel)
		}
	}
}
