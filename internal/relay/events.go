package relay

import (
	"encoding/json"
	"strings"

	"relayd/pkg/types"
)

// Inbound event names.
const (
	EventRegister       = "register"
	EventMessageSend    = "message:send"
	EventMessageAck     = "message:ack"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventPresenceQuery  = "presence:query"
	EventPeerDiscover   = "peer:discover"
	EventKeyExchange    = "key:exchange"
	EventWebRTCOffer    = "webrtc:offer"
	EventWebRTCAnswer   = "webrtc:answer"
	EventWebRTCIce      = "webrtc:ice"
	EventWebRTCHangup   = "webrtc:hangup"
	EventGroupCreate    = "group:create"
	EventGroupAddMember = "group:add_member"
	EventGroupMessage   = "group:message"
	EventGroupLeave     = "group:leave"
	EventFileSend       = "file:send"
	EventFileComplete   = "file:complete"
	EventVoiceSend      = "voice:send"
	EventSelfDestruct   = "message:self_destruct"
	EventSyncRequest    = "sync:request"
)

// Outbound event names.
const (
	EventRegistered           = "registered"
	EventUserOnline           = "user:online"
	EventUserOffline          = "user:offline"
	EventMessageReceive       = "message:receive"
	EventMessageDelivered     = "message:delivered"
	EventMessageError         = "message:error"
	EventTypingIndicator      = "typing:indicator"
	EventPresenceSnapshot     = "presence:snapshot"
	EventPeerFound            = "peer:found"
	EventKeyReceived          = "key:received"
	EventGroupCreated         = "group:created"
	EventGroupInvitation      = "group:invitation"
	EventGroupMessageReceived = "group:message_received"
	EventGroupMemberLeft      = "group:member_left"
	EventFileReceive          = "file:receive"
	EventFileTransferComplete = "file:transfer_complete"
	EventVoiceReceive         = "voice:receive"
	EventMessageDelete        = "message:delete"
	EventMessageDeleted       = "message:deleted"
	EventSyncResponse         = "sync:response"
	EventRateLimited          = "rate:limited"
)

// Error strings surfaced in message:error events.
const (
	errRecipientNotFound = "recipient not found"
	errRateLimited       = "rate limit exceeded"
)

// Reply payloads. Timestamps are epoch milliseconds throughout the wire
// protocol.

type registeredReply struct {
	Success   bool   `json:"success"`
	UserID    string `json:"userId"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type userPresence struct {
	UserID    string `json:"userId"`
	PublicKey string `json:"publicKey,omitempty"`
}

type messageReceive struct {
	From      string          `json:"from"`
	Cipher    string          `json:"cipher"`
	KriKey    string          `json:"kriKey"`
	Harmony   json.RawMessage `json:"harmony,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Nonce     string          `json:"nonce"`
	MessageID string          `json:"messageId"`
	GroupID   string          `json:"groupId,omitempty"`
}

type messageDelivered struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
	Timestamp int64  `json:"timestamp"`
}

type messageError struct {
	Error string `json:"error"`
	To    string `json:"to"`
}

type typingIndicator struct {
	From     string `json:"from"`
	IsTyping bool   `json:"isTyping"`
}

type presenceSnapshot struct {
	Users []types.PresenceEntry `json:"users"`
}

type peerFound struct {
	UserID    string `json:"userId"`
	PublicKey string `json:"publicKey"`
	Timestamp int64  `json:"timestamp"`
}

type keyReceived struct {
	From      string `json:"from"`
	PublicKey string `json:"publicKey"`
	QRData    string `json:"qrData"`
	Timestamp int64  `json:"timestamp"`
}

type messageDelete struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
}

type messageDeleted struct {
	MessageID string `json:"messageId"`
}

type syncResponse struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

type rateLimited struct {
	Event string `json:"event"`
}

// wireAck accepts both historical field-naming conventions for
// acknowledgements side by side.
type wireAck struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
	From      string `json:"from"`
	FromID    string `json:"fromId"`
	To        string `json:"to"`
	ToID      string `json:"toId"`
	Timestamp int64  `json:"timestamp"`
}

// NormalizeAck folds the two ack shapes into one, preferring the modern
// field names. Reports false when the payload is not an ack or any routing
// field is empty after normalization.
func NormalizeAck(data []byte) (types.Ack, bool) {
	var w wireAck
	if err := json.Unmarshal(data, &w); err != nil {
		return types.Ack{}, false
	}

	ack := types.Ack{
		MessageID: firstNonEmpty(w.MessageID, w.ID),
		From:      firstNonEmpty(w.From, w.FromID),
		To:        firstNonEmpty(w.To, w.ToID),
		Timestamp: w.Timestamp,
	}
	if ack.MessageID == "" || ack.From == "" || ack.To == "" {
		return types.Ack{}, false
	}
	return ack, true
}

func firstNonEmpty(a, b string) string {
	if s := strings.TrimSpace(a); s != "" {
		return s
	}
	return strings.TrimSpace(b)
}
