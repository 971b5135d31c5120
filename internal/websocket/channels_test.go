package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConn builds a connection without a socket or writer goroutine. Emitted
// frames queue in writeCh for inspection.
func testConn(id string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:           id,
		writeCh:      make(chan []byte, 16),
		writeTimeout: time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func queuedEvents(t *testing.T, c *Connection) []string {
	t.Helper()
	var events []string
	for {
		select {
		case data := <-c.writeCh:
			var frame outFrame
			require.NoError(t, json.Unmarshal(data, &frame))
			events = append(events, frame.Event)
		default:
			return events
		}
	}
}

func TestAddRemoveAndCount(t *testing.T) {
	ch := NewChannels()
	c1 := testConn("c1")
	c2 := testConn("c2")

	ch.Add(c1)
	ch.Add(c2)
	assert.Equal(t, 2, ch.Count())

	ch.Remove(c1)
	ch.Remove(c1)
	assert.Equal(t, 1, ch.Count())
}

func TestJoinMovesBetweenChannels(t *testing.T) {
	ch := NewChannels()
	c1 := testConn("c1")
	ch.Add(c1)

	ch.Join(c1, "alice")
	ch.Join(c1, "alice-renamed")

	assert.Equal(t, 0, ch.EmitToChannel("alice", "ping", nil), "previous channel is vacated")
	assert.Equal(t, 1, ch.EmitToChannel("alice-renamed", "ping", nil))
}

func TestJoinUnknownConnectionIgnored(t *testing.T) {
	ch := NewChannels()
	c1 := testConn("c1")

	ch.Join(c1, "alice")

	assert.Equal(t, 0, ch.EmitToChannel("alice", "ping", nil))
}

func TestEmitToChannelReachesAllMembers(t *testing.T) {
	ch := NewChannels()
	c1 := testConn("c1")
	c2 := testConn("c2")
	ch.Add(c1)
	ch.Add(c2)
	ch.Join(c1, "alice")
	ch.Join(c2, "alice")

	delivered := ch.EmitToChannel("alice", "message:receive", map[string]string{"from": "bob"})

	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{"message:receive"}, queuedEvents(t, c1))
	assert.Equal(t, []string{"message:receive"}, queuedEvents(t, c2))
}

func TestEmitToConn(t *testing.T) {
	ch := NewChannels()
	c1 := testConn("c1")
	ch.Add(c1)

	assert.True(t, ch.EmitToConn("c1", "ping", nil))
	assert.False(t, ch.EmitToConn("missing", "ping", nil))
	assert.Equal(t, []string{"ping"}, queuedEvents(t, c1))
}

func TestBroadcastExceptSkipsNamedConnection(t *testing.T) {
	ch := NewChannels()
	c1 := testConn("c1")
	c2 := testConn("c2")
	c3 := testConn("c3")
	ch.Add(c1)
	ch.Add(c2)
	ch.Add(c3)

	ch.BroadcastExcept("c2", "user:offline", nil)

	assert.Len(t, queuedEvents(t, c1), 1)
	assert.Empty(t, queuedEvents(t, c2))
	assert.Len(t, queuedEvents(t, c3), 1)
}

func TestRemoveDetachesFromChannel(t *testing.T) {
	ch := NewChannels()
	c1 := testConn("c1")
	ch.Add(c1)
	ch.Join(c1, "alice")

	ch.Remove(c1)

	assert.Equal(t, 0, ch.EmitToChannel("alice", "ping", nil))

	ch.mu.RLock()
	defer ch.mu.RUnlock()
	assert.NotContains(t, ch.members, "alice", "empty channel maps are cleaned up")
	assert.NotContains(t, ch.joined, "c1")
}
