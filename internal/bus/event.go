package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds used across the daemon. Subscribers filter by namespace
// prefix, so "chat." receives every chat store event and "" receives
// everything.
const (
	// session.* — daemon and connection lifecycle.
	KindStatusChanged = "session.status_changed"

	// chat.* — published by the chat store after reducer dispatches.
	KindMessageUpserted   = "chat.message_upserted"
	KindMessageStatus     = "chat.message_status"
	KindMessageFailed     = "chat.message_failed"
	KindConversationSet   = "chat.conversation_set"
	KindHistoryLoaded     = "chat.history_loaded"
	KindTypingChanged     = "chat.typing_changed"
	KindPresenceChanged   = "chat.presence_changed"

	// outbox.* — durable send queue progress.
	KindOutboxSent   = "outbox.sent"
	KindOutboxFailed = "outbox.failed"
)

// MessageRef identifies one message inside one conversation. It is the
// payload for message-level chat events.
type MessageRef struct {
	ConversationID string
	MessageID      string
	TempID         string
	Status         string
}
