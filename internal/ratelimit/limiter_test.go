package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowEnforcesPerKindLimits(t *testing.T) {
	tests := []struct {
		kind string
		max  int
	}{
		{"register", 5},
		{"message:send", 100},
		{"message:ack", 300},
		{"peer:discover", 20},
		{"key:exchange", 10},
		{"typing", 50},
		{"group:create", 5},
		{"file:send", 20},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			l := NewLimiter()

			for i := 0; i < tt.max; i++ {
				require.True(t, l.Allow(tt.kind, "alice"), "event %d should be allowed", i+1)
			}
			assert.False(t, l.Allow(tt.kind, "alice"), "event %d should be rejected", tt.max+1)
		})
	}
}

func TestAllowUnknownKindUsesDefaultRule(t *testing.T) {
	l := NewLimiter()

	for i := 0; i < DefaultRule.Max; i++ {
		require.True(t, l.Allow("sync:request", "alice"))
	}
	assert.False(t, l.Allow("sync:request", "alice"))
}

func TestAllowIsolatesActors(t *testing.T) {
	l := NewLimiter()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("register", "alice"))
	}
	require.False(t, l.Allow("register", "alice"))

	assert.True(t, l.Allow("register", "bob"), "bob has his own window")
}

func TestAllowIsolatesKinds(t *testing.T) {
	l := NewLimiter()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("register", "alice"))
	}
	require.False(t, l.Allow("register", "alice"))

	assert.True(t, l.Allow("message:send", "alice"), "other kinds are unaffected")
}

func TestAllowRejectionDoesNotAdvanceCounter(t *testing.T) {
	l := NewLimiter()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("register", "alice"))
	}
	for i := 0; i < 10; i++ {
		require.False(t, l.Allow("register", "alice"))
	}

	l.mu.Lock()
	w := l.windows[key{kind: "register", actor: "alice"}]
	l.mu.Unlock()

	require.NotNil(t, w)
	assert.Equal(t, 5, w.count, "rejected events must not count")
}

func TestAllowExpiredWindowResets(t *testing.T) {
	l := NewLimiter()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("register", "alice"))
	}
	require.False(t, l.Allow("register", "alice"))

	l.mu.Lock()
	l.windows[key{kind: "register", actor: "alice"}].resetAt = time.Now().Add(-time.Second)
	l.mu.Unlock()

	require.True(t, l.Allow("register", "alice"), "expired window starts fresh")

	l.mu.Lock()
	w := l.windows[key{kind: "register", actor: "alice"}]
	l.mu.Unlock()
	assert.Equal(t, 1, w.count, "triggering event is the first of the new window")
}

func TestCleanupDropsExpiredWindowsOnly(t *testing.T) {
	l := NewLimiter()

	require.True(t, l.Allow("register", "alice"))
	require.True(t, l.Allow("register", "bob"))

	l.mu.Lock()
	l.windows[key{kind: "register", actor: "alice"}].resetAt = time.Now().Add(-time.Second)
	l.mu.Unlock()

	l.Cleanup()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.windows, key{kind: "register", actor: "alice"})
	assert.Contains(t, l.windows, key{kind: "register", actor: "bob"})
}
