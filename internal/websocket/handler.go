package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relayd/internal/config"
	"relayd/pkg/interfaces"
	"relayd/pkg/types"
)

// Dispatcher consumes inbound frames and connection teardown. Implemented by
// the relay router.
type Dispatcher interface {
	Dispatch(conn interfaces.Connection, event string, data json.RawMessage)
	HandleDisconnect(conn interfaces.Connection)
}

// Public relay: all origins accepted. Identities are claimed at the register
// event, not at the handshake.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler accepts websocket connections and pumps their frames into the
// dispatcher.
type Handler struct {
	channels   *Channels
	dispatcher Dispatcher
	cfg        *config.WebSocketConfig
	logger     zerolog.Logger
}

// NewHandler creates a websocket handler.
func NewHandler(channels *Channels, dispatcher Dispatcher, cfg *config.WebSocketConfig, logger zerolog.Logger) *Handler {
	return &Handler{
		channels:   channels,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With().Str("component", "websocket").Logger(),
	}
}

// HandleWebSocket upgrades the request and hands the connection its own
// lifecycle goroutine.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn, h.cfg.BufferSize, h.cfg.WriteTimeout)
	h.channels.Add(wsConn)
	h.logger.Info().Str("conn", wsConn.ID()).Msg("client connected")

	go h.handleConnection(wsConn)
}

// handleConnection runs the read loop with heartbeat monitoring. Loop exit,
// clean or not, removes the connection's presence entry and channel
// membership.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.dispatcher.HandleDisconnect(conn)
		h.channels.Remove(conn)
		_ = conn.Close()
		h.logger.Info().Str("conn", conn.ID()).Msg("client disconnected")
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		h.logger.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			h.logger.Warn().Str("conn", conn.ID()).Msg("malformed frame dropped")
			continue
		}

		h.dispatcher.Dispatch(conn, frame.Event, frame.Data)
	}
}
