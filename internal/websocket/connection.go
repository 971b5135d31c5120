package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"relayd/pkg/interfaces"
)

var _ interfaces.Connection = (*Connection)(nil)

// Connection wraps one client socket. Writes are serialized through a single
// writer goroutine so concurrent handlers never interleave frames. The id is
// fresh per accepted socket and never reused across reconnects.
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// outFrame is one outbound websocket message.
type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// NewConnection creates a connection wrapper and starts its writer
// goroutine.
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// ID returns the opaque connection handle.
func (c *Connection) ID() string {
	return c.id
}

// Emit sends one named event frame to the client.
func (c *Connection) Emit(event string, payload any) error {
	return c.writeJSON(outFrame{Event: event, Data: payload})
}

func (c *Connection) writeJSON(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// writeLoop serializes frames onto the socket. Exit on any write error
// cancels the connection context so later emits fail with
// ErrConnectionClosed. writeCh is never closed; concurrent emitters racing
// the cancellation would otherwise send on a closed channel and panic.
func (c *Connection) writeLoop() {
	defer c.cancel()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
