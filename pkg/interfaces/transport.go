package interfaces

// Transport is the named-channel delivery capability the relay core
// consumes. The core needs exactly these operations; connection
// establishment, framing and heartbeats live behind it.
type Transport interface {
	// Join attaches conn to the named channel. A connection belongs to at
	// most one channel at a time; joining a new one detaches the old.
	Join(conn Connection, channel string)

	// EmitToChannel delivers an event to every connection attached to the
	// channel and returns how many received it. A zero return doubles as an
	// occupancy probe for channel-first routing.
	EmitToChannel(channel, event string, payload any) int

	// EmitToConn delivers an event to one connection by handle.
	EmitToConn(connID, event string, payload any) bool

	// Broadcast delivers an event to every live connection.
	Broadcast(event string, payload any)

	// BroadcastExcept delivers an event to every live connection except the
	// named one.
	BroadcastExcept(connID, event string, payload any)
}
