package realtime

import (
	"encoding/json"
	"fmt"
)

// EventKind enumerates the closed set of inbound event types. The server
// never sends anything outside this taxonomy; unknown kinds are dropped.
type EventKind string

const (
	EventConnected        EventKind = "connected"
	EventRoomJoined       EventKind = "room_joined"
	EventRoomLeft         EventKind = "room_left"
	EventUserOnline       EventKind = "user_online"
	EventUserOffline      EventKind = "user_offline"
	EventNewMessage       EventKind = "new_message"
	EventMessageDelivered EventKind = "message_delivered"
	EventMessageRead      EventKind = "message_read"
	EventTypingStart      EventKind = "typing_start"
	EventTypingStop       EventKind = "typing_stop"
	EventError            EventKind = "error"
)

// Envelope is the wire format for all inbound events.
type Envelope struct {
	Type    EventKind       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event is a decoded inbound event. Payload holds the typed payload
// struct for the kind, or nil for kinds that carry none.
type Event struct {
	Kind    EventKind
	Payload any
}

// ConnectedPayload acknowledges a successful connection handshake.
type ConnectedPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// RoomPayload scopes room join/leave acknowledgements.
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// PresencePayload carries global online/offline updates.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// MessagePayload is the authoritative message record pushed by the server.
// TempID echoes the client-generated id on messages this client sent, so
// the store can reconcile its optimistic entry.
type MessagePayload struct {
	ID             string   `json:"id"`
	TempID         string   `json:"tempId,omitempty"`
	ConversationID string   `json:"conversationId"`
	SenderID       string   `json:"senderId"`
	Content        string   `json:"content"`
	Images         []string `json:"images,omitempty"`
	SentAtUnixMs   int64    `json:"sentAt"`
}

// ReceiptPayload carries delivery and read acknowledgements.
type ReceiptPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
}

// TypingPayload carries typing start/stop indicators.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ErrorPayload carries server-side errors surfaced on the event channel.
type ErrorPayload struct {
	Message string `json:"message"`
}

// decodeEvent turns a wire envelope into a typed Event. Unknown kinds
// return an error so the read loop can log and skip them.
func decodeEvent(env Envelope) (Event, error) {
	evt := Event{Kind: env.Type}

	var payload any
	switch env.Type {
	case EventConnected:
		payload = &ConnectedPayload{}
	case EventRoomJoined, EventRoomLeft:
		payload = &RoomPayload{}
	case EventUserOnline, EventUserOffline:
		payload = &PresencePayload{}
	case EventNewMessage:
		payload = &MessagePayload{}
	case EventMessageDelivered, EventMessageRead:
		payload = &ReceiptPayload{}
	case EventTypingStart, EventTypingStop:
		payload = &TypingPayload{}
	case EventError:
		payload = &ErrorPayload{}
	default:
		return evt, fmt.Errorf("unknown event kind %q", env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return evt, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	evt.Payload = payload
	return evt, nil
}
