package relay

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relayd/internal/presence"
	"relayd/internal/ratelimit"
	"relayd/internal/routecache"
	"relayd/pkg/interfaces"
	"relayd/pkg/types"
)

// Router is the central dispatch: one operation per inbound event kind.
// Every operation is fire-and-forget relative to the caller; the only
// replies are the explicit events the protocol defines. A malformed or
// hostile event is dropped inside its own handler and never affects other
// connections.
type Router struct {
	registry  *presence.Registry
	limiter   *ratelimit.Limiter
	routes    *routecache.Cache
	transport interfaces.Transport
	privacy   bool
	logger    zerolog.Logger
}

// NewRouter creates a router over the shared registries and the transport.
func NewRouter(registry *presence.Registry, limiter *ratelimit.Limiter, routes *routecache.Cache, transport interfaces.Transport, privacy bool, logger zerolog.Logger) *Router {
	return &Router{
		registry:  registry,
		limiter:   limiter,
		routes:    routes,
		transport: transport,
		privacy:   privacy,
		logger:    logger.With().Str("component", "router").Logger(),
	}
}

// Dispatch routes one inbound frame to its handler. Unknown events are
// dropped.
func (r *Router) Dispatch(conn interfaces.Connection, event string, data json.RawMessage) {
	switch event {
	case EventRegister:
		r.handleRegister(conn, data)
	case EventMessageSend:
		r.handleMessageSend(conn, data)
	case EventMessageAck:
		r.handleAck(conn, data)
	case EventTypingStart:
		r.handleTyping(conn, data, true)
	case EventTypingStop:
		r.handleTyping(conn, data, false)
	case EventPresenceQuery:
		r.handlePresenceQuery(conn)
	case EventPeerDiscover:
		r.handlePeerDiscover(conn, data)
	case EventKeyExchange:
		r.handleKeyExchange(conn, data)
	case EventWebRTCOffer, EventWebRTCAnswer, EventWebRTCIce, EventWebRTCHangup:
		r.handleSignal(conn, event, data)
	case EventGroupCreate:
		r.handleGroupCreate(conn, data)
	case EventGroupAddMember:
		r.handleGroupAddMember(conn, data)
	case EventGroupMessage:
		r.relayBroadcast(conn, EventGroupMessage, EventGroupMessageReceived, data)
	case EventGroupLeave:
		r.relayBroadcast(conn, EventGroupLeave, EventGroupMemberLeft, data)
	case EventFileSend:
		r.relayToRecipient(conn, EventFileSend, EventFileReceive, data)
	case EventFileComplete:
		r.relayToRecipient(conn, EventFileComplete, EventFileTransferComplete, data)
	case EventVoiceSend:
		r.relayToRecipient(conn, EventVoiceSend, EventVoiceReceive, data)
	case EventSelfDestruct:
		r.handleSelfDestruct(conn, data)
	case EventSyncRequest:
		r.handleSyncRequest(conn)
	default:
		r.logger.Warn().Str("event", event).Msg("unknown event dropped")
	}
}

// HandleDisconnect removes the identity owned by the closing handle and
// announces it offline. A stale handle, already replaced by a reconnect,
// removes nothing.
func (r *Router) HandleDisconnect(conn interfaces.Connection) {
	user, ok := r.registry.RemoveByConnection(conn.ID())
	if !ok {
		return
	}
	r.transport.BroadcastExcept(conn.ID(), EventUserOffline, userPresence{UserID: user.ID})
	r.logger.Info().Str("user", user.ID).Msg("user disconnected")
}

func (r *Router) handleRegister(conn interfaces.Connection, data json.RawMessage) {
	var req struct {
		UserID    string `json:"userId"`
		PublicKey string `json:"publicKey"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	id := strings.TrimSpace(req.UserID)
	if !types.IsValidIdentity(id) {
		return
	}

	now := time.Now().UnixMilli()
	if !r.limiter.Allow(EventRegister, id) {
		_ = conn.Emit(EventRegistered, registeredReply{Success: false, UserID: id, Error: errRateLimited, Timestamp: now})
		return
	}

	r.registry.Register(id, req.PublicKey, conn.ID())
	r.transport.Join(conn, id)

	_ = conn.Emit(EventRegistered, registeredReply{Success: true, UserID: id, Timestamp: now})
	r.transport.Broadcast(EventUserOnline, userPresence{UserID: id, PublicKey: req.PublicKey})
	r.logger.Info().Str("user", id).Msg("user registered")
}

func (r *Router) handleMessageSend(conn interfaces.Connection, data json.RawMessage) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	env.From = strings.TrimSpace(env.From)
	env.To = strings.TrimSpace(env.To)
	if env.From == "" {
		if sender, ok := r.registry.LookupByConnection(conn.ID()); ok {
			env.From = sender.ID
		}
	}
	if env.From == "" || env.To == "" {
		return
	}

	if !r.limiter.Allow(EventMessageSend, env.From) {
		_ = conn.Emit(EventMessageError, messageError{Error: errRateLimited, To: env.To})
		return
	}
	r.registry.Touch(env.From)

	recipient, ok := r.registry.Lookup(env.To)
	if !ok {
		_ = conn.Emit(EventMessageError, messageError{Error: errRecipientNotFound, To: env.To})
		return
	}

	// The envelope timestamp doubles as the idempotency key when the client
	// sent no message id.
	messageID := env.MessageID
	if messageID == "" {
		messageID = strconv.FormatInt(env.Timestamp, 10)
	}
	r.routes.Remember(messageID, env.From, conn.ID(), env.To)

	out := messageReceive{
		From:      env.From,
		Cipher:    env.Cipher,
		KriKey:    env.KriKey,
		Harmony:   env.Harmony,
		Timestamp: env.Timestamp,
		Nonce:     env.Nonce,
		MessageID: messageID,
		GroupID:   env.GroupID,
	}
	if n := r.transport.EmitToChannel(env.To, EventMessageReceive, out); n == 0 {
		if !r.transport.EmitToConn(recipient.ConnectionID, EventMessageReceive, out) {
			r.logger.Warn().Str("from", env.From).Str("to", env.To).Msg("envelope undeliverable on both paths")
		}
	}

	_ = conn.Emit(EventMessageDelivered, messageDelivered{MessageID: messageID, To: env.To, Timestamp: time.Now().UnixMilli()})
	r.logger.Info().Str("from", env.From).Str("to", env.To).Msg("message relayed")
}

func (r *Router) handleAck(conn interfaces.Connection, data json.RawMessage) {
	ack, ok := NormalizeAck(data)
	if !ok {
		return
	}

	// Silent on rejection: throttling acks must not become an observable
	// side channel.
	if !r.limiter.Allow(EventMessageAck, ack.From) {
		return
	}
	r.registry.Touch(ack.From)

	if r.emitToIdentity(ack.To, EventMessageAck, ack) {
		return
	}
	if handle, ok := r.routes.ResolveSenderHandle(ack.MessageID); ok {
		if r.transport.EmitToConn(handle, EventMessageAck, ack) {
			return
		}
	}
	r.logger.Debug().Str("messageId", ack.MessageID).Str("to", ack.To).Msg("ack dropped, no route to sender")
}

func (r *Router) handleTyping(conn interfaces.Connection, data json.RawMessage, isTyping bool) {
	var req struct {
		To          string `json:"to"`
		RecipientID string `json:"recipientId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	to := firstNonEmpty(req.To, req.RecipientID)
	if to == "" {
		return
	}

	sender, ok := r.registry.LookupByConnection(conn.ID())
	if !ok {
		return
	}
	if !r.limiter.Allow("typing", sender.ID) {
		return
	}
	r.registry.Touch(sender.ID)

	r.emitToIdentity(to, EventTypingIndicator, typingIndicator{From: sender.ID, IsTyping: isTyping})
}

func (r *Router) handlePresenceQuery(conn interfaces.Connection) {
	requester := ""
	actor := conn.ID()
	if sender, ok := r.registry.LookupByConnection(conn.ID()); ok {
		requester = sender.ID
		actor = sender.ID
		r.registry.Touch(sender.ID)
	}
	if !r.limiter.Allow(EventPresenceQuery, actor) {
		return
	}

	_ = conn.Emit(EventPresenceSnapshot, presenceSnapshot{Users: r.registry.Snapshot(requester, r.privacy)})
}

func (r *Router) handlePeerDiscover(conn interfaces.Connection, data json.RawMessage) {
	var req struct {
		UserID    string `json:"userId"`
		PublicKey string `json:"publicKey"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		return
	}

	if !r.limiter.Allow(EventPeerDiscover, req.UserID) {
		_ = conn.Emit(EventRateLimited, rateLimited{Event: EventPeerDiscover})
		return
	}
	r.registry.Touch(req.UserID)

	r.transport.BroadcastExcept(conn.ID(), EventPeerFound, peerFound{
		UserID:    req.UserID,
		PublicKey: req.PublicKey,
		Timestamp: req.Timestamp,
	})
}

func (r *Router) handleKeyExchange(conn interfaces.Connection, data json.RawMessage) {
	var req struct {
		To        string `json:"to"`
		PublicKey string `json:"publicKey"`
		QRData    string `json:"qrData"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	to := strings.TrimSpace(req.To)
	if to == "" {
		return
	}

	actor := r.actorID(conn)
	if !r.limiter.Allow(EventKeyExchange, actor) {
		_ = conn.Emit(EventRateLimited, rateLimited{Event: EventKeyExchange})
		return
	}

	r.emitToIdentity(to, EventKeyReceived, keyReceived{
		From:      actor,
		PublicKey: req.PublicKey,
		QRData:    req.QRData,
		Timestamp: time.Now().UnixMilli(),
	})
	r.logger.Info().Str("to", to).Msg("key exchange relayed")
}

// handleSignal forwards call-signaling blobs verbatim, stamping the sender's
// identity over any client-supplied from field.
func (r *Router) handleSignal(conn interfaces.Connection, event string, data json.RawMessage) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	to, _ := payload["to"].(string)
	if to == "" {
		return
	}

	sender, ok := r.registry.LookupByConnection(conn.ID())
	if !ok {
		return
	}
	if !r.limiter.Allow(event, sender.ID) {
		return
	}
	r.registry.Touch(sender.ID)

	delete(payload, "to")
	payload["from"] = sender.ID
	r.emitToIdentity(to, event, payload)
}

// handleGroupCreate notifies the named members individually. The server
// keeps no group roster; membership lives only on clients.
func (r *Router) handleGroupCreate(conn interfaces.Connection, data json.RawMessage) {
	var req struct {
		Members   []string `json:"members"`
		CreatedBy string   `json:"createdBy"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	actor := firstNonEmpty(req.CreatedBy, r.actorID(conn))
	if !r.limiter.Allow(EventGroupCreate, actor) {
		_ = conn.Emit(EventRateLimited, rateLimited{Event: EventGroupCreate})
		return
	}

	for _, member := range req.Members {
		r.emitToIdentity(member, EventGroupCreated, data)
	}
}

func (r *Router) handleGroupAddMember(conn interfaces.Connection, data json.RawMessage) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		return
	}
	if !r.limiter.Allow(EventGroupAddMember, r.actorID(conn)) {
		return
	}

	r.emitToIdentity(req.UserID, EventGroupInvitation, data)
}

// relayBroadcast fans an opaque payload out to every connection except the
// sender; recipients filter by group membership locally.
func (r *Router) relayBroadcast(conn interfaces.Connection, kind, outEvent string, data json.RawMessage) {
	if !r.limiter.Allow(kind, r.actorID(conn)) {
		return
	}
	r.transport.BroadcastExcept(conn.ID(), outEvent, data)
}

// relayToRecipient forwards an opaque payload verbatim to the identity named
// in its to field.
func (r *Router) relayToRecipient(conn interfaces.Connection, kind, outEvent string, data json.RawMessage) {
	var req struct {
		To string `json:"to"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	to := strings.TrimSpace(req.To)
	if to == "" {
		return
	}
	if !r.limiter.Allow(kind, r.actorID(conn)) {
		return
	}

	if !r.emitToIdentity(to, outEvent, data) {
		r.logger.Debug().Str("event", kind).Str("to", to).Msg("relay dropped, recipient unreachable")
	}
}

// handleSelfDestruct forwards a delete instruction to the named contact and
// always confirms locally: destruction is authoritative on the requester's
// own device, cross-device sync is best-effort.
func (r *Router) handleSelfDestruct(conn interfaces.Connection, data json.RawMessage) {
	var req struct {
		MessageID string `json:"messageId"`
		UserID    string `json:"userId"`
		ContactID string `json:"contactId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if strings.TrimSpace(req.MessageID) == "" {
		return
	}
	if !r.limiter.Allow(EventSelfDestruct, r.actorID(conn)) {
		return
	}

	if strings.TrimSpace(req.ContactID) != "" {
		r.emitToIdentity(req.ContactID, EventMessageDelete, messageDelete{MessageID: req.MessageID, From: req.UserID})
	}
	_ = conn.Emit(EventMessageDeleted, messageDeleted{MessageID: req.MessageID})
}

// handleSyncRequest acknowledges the legacy sync event; messages are stored
// locally only, so there is nothing to replay.
func (r *Router) handleSyncRequest(conn interfaces.Connection) {
	if !r.limiter.Allow(EventSyncRequest, r.actorID(conn)) {
		return
	}
	_ = conn.Emit(EventSyncResponse, syncResponse{
		Timestamp: time.Now().UnixMilli(),
		Message:   "sync complete, messages stored locally only",
	})
}

// emitToIdentity delivers one event to a logical identity: the channel named
// after the identity when it has at least one attached connection, otherwise
// the identity's last-known direct handle. Never both, so multi-device
// channels and reconnect gaps cannot cause double delivery.
func (r *Router) emitToIdentity(id, event string, payload any) bool {
	if n := r.transport.EmitToChannel(id, event, payload); n > 0 {
		return true
	}
	if user, ok := r.registry.Lookup(id); ok {
		return r.transport.EmitToConn(user.ConnectionID, event, payload)
	}
	return false
}

// actorID resolves the sender's identity for rate limiting, falling back to
// the connection handle so unregistered callers are still throttled. A
// resolved identity also counts as activity.
func (r *Router) actorID(conn interfaces.Connection) string {
	if user, ok := r.registry.LookupByConnection(conn.ID()); ok {
		r.registry.Touch(user.ID)
		return user.ID
	}
	return conn.ID()
}
