package interfaces

// Connection is the transport-side handle for one attached client.
// Connection ids are opaque and replaced on every reconnect; routing never
// depends on them surviving a reconnect.
type Connection interface {
	// ID returns the connection handle.
	ID() string

	// Emit sends one named event frame to this client.
	Emit(event string, payload any) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}
