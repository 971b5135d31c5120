package presence

import (
	"sync"
	"time"

	"relayd/pkg/types"
)

// Registry is the authoritative mapping from logical identity to current
// connection handle and liveness timestamp. At most one live entry exists
// per identity; re-registration is last-writer-wins.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*types.User
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]*types.User),
	}
}

// Register upserts the entry for id. A second registration under the same id
// overwrites the connection handle, treating registration as an idempotent
// re-announcement. Returns a copy of the stored entry.
func (r *Registry) Register(id, publicKey, connID string) types.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	user := &types.User{
		ID:           id,
		PublicKey:    publicKey,
		ConnectionID: connID,
		LastSeen:     time.Now(),
	}
	r.users[id] = user
	return *user
}

// Lookup returns a copy of the entry for id.
func (r *Registry) Lookup(id string) (types.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return types.User{}, false
	}
	return *user, true
}

// LookupByConnection resolves which identity owns a connection handle.
// Handles are not an index; this is a linear scan, acceptable because
// registry size is the live-connection count, not historical.
func (r *Registry) LookupByConnection(connID string) (types.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.ConnectionID == connID {
			return *user, true
		}
	}
	return types.User{}, false
}

// Touch refreshes the liveness timestamp for id, if present.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.users[id]; ok {
		user.LastSeen = time.Now()
	}
}

// Remove deletes the entry for id. Idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.users, id)
}

// RemoveByConnection deletes the entry owned by connID and returns it.
// Lookup and delete happen under one lock, so a disconnect racing a
// re-registration under the same identity can never remove the newer
// connection's entry.
func (r *Registry) RemoveByConnection(connID string) (types.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, user := range r.users {
		if user.ConnectionID == connID {
			removed := *user
			delete(r.users, id)
			return removed, true
		}
	}
	return types.User{}, false
}

// Snapshot lists the current entries, excluding excludeID when non-empty and
// omitting public keys when redactKeys is set.
func (r *Registry) Snapshot(excludeID string, redactKeys bool) []types.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]types.PresenceEntry, 0, len(r.users))
	for _, user := range r.users {
		if excludeID != "" && user.ID == excludeID {
			continue
		}
		entry := types.PresenceEntry{
			ID:       user.ID,
			LastSeen: user.LastSeen,
		}
		if !redactKeys {
			entry.PublicKey = user.PublicKey
		}
		entries = append(entries, entry)
	}
	return entries
}

// FindByPublicKey returns the entry whose routing key matches. Linear scan,
// used only by the HTTP lookup surface.
func (r *Registry) FindByPublicKey(publicKey string) (types.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.PublicKey == publicKey {
			return *user, true
		}
	}
	return types.User{}, false
}

// Count returns the number of live entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users)
}
