package routecache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRememberAndResolve(t *testing.T) {
	c := NewCache(DefaultTTL, DefaultMaxEntries)

	c.Remember("m1", "alice", "conn-a", "bob")

	handle, ok := c.ResolveSenderHandle("m1")
	require.True(t, ok)
	assert.Equal(t, "conn-a", handle)
}

func TestResolveUnknownMessage(t *testing.T) {
	c := NewCache(DefaultTTL, DefaultMaxEntries)

	_, ok := c.ResolveSenderHandle("missing")
	assert.False(t, ok)
}

func TestRememberOverwritesRoute(t *testing.T) {
	c := NewCache(DefaultTTL, DefaultMaxEntries)

	c.Remember("m1", "alice", "conn-a", "bob")
	c.Remember("m1", "alice", "conn-a2", "bob")

	handle, ok := c.ResolveSenderHandle("m1")
	require.True(t, ok)
	assert.Equal(t, "conn-a2", handle)
	assert.Equal(t, 1, c.Len())
}

func TestResolveExpiresStaleEntries(t *testing.T) {
	c := NewCache(DefaultTTL, DefaultMaxEntries)

	c.Remember("m1", "alice", "conn-a", "bob")

	c.mu.Lock()
	route := c.routes["m1"]
	route.CreatedAt = time.Now().Add(-DefaultTTL)
	c.routes["m1"] = route
	c.mu.Unlock()

	_, ok := c.ResolveSenderHandle("m1")
	assert.False(t, ok, "entries at or past the TTL are never returned")
	assert.Equal(t, 0, c.Len(), "lazy expiry deletes the entry")
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	c := NewCache(DefaultTTL, DefaultMaxEntries)

	c.Remember("old", "alice", "conn-a", "bob")
	c.Remember("fresh", "bob", "conn-b", "alice")

	c.mu.Lock()
	route := c.routes["old"]
	route.CreatedAt = time.Now().Add(-DefaultTTL - time.Second)
	c.routes["old"] = route
	c.mu.Unlock()

	c.Sweep()

	assert.Equal(t, 1, c.Len())
	_, ok := c.ResolveSenderHandle("fresh")
	assert.True(t, ok)
}

func TestRememberEvictsExpiredPastCapacity(t *testing.T) {
	c := NewCache(DefaultTTL, 3)

	for i := 0; i < 3; i++ {
		c.Remember(fmt.Sprintf("old-%d", i), "alice", "conn-a", "bob")
	}

	c.mu.Lock()
	for id, route := range c.routes {
		route.CreatedAt = time.Now().Add(-DefaultTTL - time.Second)
		c.routes[id] = route
	}
	c.mu.Unlock()

	c.Remember("m-new", "bob", "conn-b", "alice")

	assert.Equal(t, 1, c.Len(), "expired entries evicted when capacity exceeded")
	handle, ok := c.ResolveSenderHandle("m-new")
	require.True(t, ok)
	assert.Equal(t, "conn-b", handle)
}
