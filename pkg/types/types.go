package types

import (
	"encoding/json"
	"time"
)

// User is one currently-connected logical identity. The connection id is an
// opaque transport handle that changes on every reconnect; the id is stable
// and chosen by the client at registration.
type User struct {
	ID           string    `json:"id"`
	PublicKey    string    `json:"publicKey"`
	ConnectionID string    `json:"-"`
	LastSeen     time.Time `json:"lastSeen"`
}

// PresenceEntry is one row of a registry snapshot. PublicKey is omitted
// under privacy mode.
type PresenceEntry struct {
	ID        string    `json:"id"`
	PublicKey string    `json:"publicKey,omitempty"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Envelope is the encrypted message payload. The server reads only the
// routing fields (From, To, MessageID, GroupID); Cipher, KriKey, Harmony and
// Nonce are opaque and forwarded verbatim.
type Envelope struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Cipher    string          `json:"cipher"`
	KriKey    string          `json:"kriKey"`
	Harmony   json.RawMessage `json:"harmony,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Nonce     string          `json:"nonce"`
	MessageID string          `json:"messageId,omitempty"`
	GroupID   string          `json:"groupId,omitempty"`
}

// Ack is the normalized delivery acknowledgement. The wire accepts two
// historical field-naming conventions; relay.NormalizeAck folds both into
// this shape at the boundary.
type Ack struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Frame is one inbound websocket message: a named event and its payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
