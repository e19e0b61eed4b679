package store

// Conversation represents a cached chat thread.
type Conversation struct {
	ID                   string
	ParticipantID        string
	ParticipantName      string
	ParticipantAvatarURL string
	CreatedAt            int64
	UnreadCount          int
	LastMessageAt        int64
	LastMessagePreview   string
}

// Message represents a cached message. MsgID is empty until the server
// confirms the message; TempID is empty for messages from other users.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	TempID         string
	SenderID       string
	Content        string
	Images         string // JSON array of media paths
	FromMe         bool
	Status         string
	SentAt         int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	TempID         string
	ConversationID string
	Content        string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
