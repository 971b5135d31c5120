package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	user := r.Register("alice", "pk-alice", "conn-1")
	assert.Equal(t, "alice", user.ID)
	assert.Equal(t, "pk-alice", user.PublicKey)
	assert.Equal(t, "conn-1", user.ConnectionID)
	assert.False(t, user.LastSeen.IsZero())

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, user, got)
}

func TestRegisterLastWriterWins(t *testing.T) {
	r := NewRegistry()

	r.Register("alice", "pk-old", "conn-1")
	r.Register("alice", "pk-new", "conn-2")

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-2", got.ConnectionID)
	assert.Equal(t, "pk-new", got.PublicKey)
	assert.Equal(t, 1, r.Count())
}

func TestLookupByConnection(t *testing.T) {
	r := NewRegistry()

	r.Register("alice", "pk-alice", "conn-1")
	r.Register("bob", "pk-bob", "conn-2")

	got, ok := r.LookupByConnection("conn-2")
	require.True(t, ok)
	assert.Equal(t, "bob", got.ID)

	_, ok = r.LookupByConnection("conn-unknown")
	assert.False(t, ok)
}

func TestRemoveByConnection(t *testing.T) {
	r := NewRegistry()

	r.Register("alice", "pk-alice", "conn-1")

	removed, ok := r.RemoveByConnection("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice", removed.ID)
	assert.Equal(t, 0, r.Count())
}

func TestRemoveByStaleConnectionIsNoOp(t *testing.T) {
	r := NewRegistry()

	r.Register("alice", "pk-alice", "conn-1")
	r.Register("alice", "pk-alice", "conn-2")

	// The old handle's disconnect fires after the reconnect took over.
	_, ok := r.RemoveByConnection("conn-1")
	assert.False(t, ok)

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-2", got.ConnectionID)
}

func TestTouchRefreshesLastSeen(t *testing.T) {
	r := NewRegistry()

	r.Register("alice", "pk-alice", "conn-1")

	r.mu.Lock()
	r.users["alice"].LastSeen = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	r.Touch("alice")

	got, _ := r.Lookup("alice")
	assert.WithinDuration(t, time.Now(), got.LastSeen, time.Second)
}

func TestSnapshotExcludesRequester(t *testing.T) {
	r := NewRegistry()

	r.Register("alice", "pk-alice", "conn-1")
	r.Register("bob", "pk-bob", "conn-2")

	entries := r.Snapshot("alice", false)
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].ID)
	assert.Equal(t, "pk-bob", entries[0].PublicKey)
}

func TestSnapshotRedactsKeys(t *testing.T) {
	r := NewRegistry()

	r.Register("alice", "pk-alice", "conn-1")

	entries := r.Snapshot("", true)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].PublicKey)
	assert.Equal(t, "alice", entries[0].ID)
}

func TestFindByPublicKey(t *testing.T) {
	r := NewRegistry()

	r.Register("alice", "pk-alice", "conn-1")
	r.Register("bob", "pk-bob", "conn-2")

	got, ok := r.FindByPublicKey("pk-bob")
	require.True(t, ok)
	assert.Equal(t, "bob", got.ID)

	_, ok = r.FindByPublicKey("pk-unknown")
	assert.False(t, ok)
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()

	r.Register("alice", "pk-alice", "conn-1")
	r.Remove("alice")
	r.Remove("alice")

	assert.Equal(t, 0, r.Count())
}
