package chat

import "time"

// MessageStatus is the delivery state of a message. Statuses are ordered:
// sending < sent < delivered < read. Failed branches off sending when the
// transport rejects the send.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// advance returns the later of two statuses. A status never moves
// backward: a delivered ack arriving after read leaves the message read.
// Failed only replaces sending; once acknowledged, a message cannot fail.
func advance(current, next MessageStatus) MessageStatus {
	if next == StatusFailed {
		if current == StatusSending {
			return StatusFailed
		}
		return current
	}
	if current == StatusFailed {
		return current
	}
	if statusRank[next] > statusRank[current] {
		return next
	}
	return current
}

// Message is one chat message, optimistic or confirmed. A message is
// uniquely identified by ID once confirmed, and by TempID before that;
// reconciliation matches on either.
type Message struct {
	ID             string
	TempID         string
	ConversationID string
	SenderID       string
	Content        string
	Images         []string
	SentAt         time.Time
	Status         MessageStatus
	Optimistic     bool
}

// Participant is the other party of a conversation.
type Participant struct {
	ID        string
	Name      string
	AvatarURL string
}

// Conversation describes a chat thread. LastMessage is populated on list
// entries for the helpers; the active conversation inside the store does
// not maintain it.
type Conversation struct {
	ID          string
	Participant Participant
	CreatedAt   time.Time
	LastMessage *Message
}

// LoadingFlags is the fixed record of operation-owned booleans. Each flag
// is set and cleared explicitly by the operation that owns it, never
// inferred from message state.
type LoadingFlags struct {
	SendingMessage  bool
	JoiningChat     bool
	LeavingChat     bool
	LoadingMessages bool
	LoadingChats    bool
}

// State is the chat store's single state object. It is mutated only by
// the reducer, one action at a time.
type State struct {
	Current     *Conversation
	Messages    []Message
	TypingUsers map[string]struct{}
	OnlineUsers map[string]struct{}
	HasMore     bool
	Draft       string
	Loading     LoadingFlags
}

func newState() State {
	return State{
		TypingUsers: make(map[string]struct{}),
		OnlineUsers: make(map[string]struct{}),
	}
}

// clone returns a deep enough copy for callers to read without racing the
// reducer. Message slices are copied; Message values are value types.
func (s *State) clone() State {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	out.TypingUsers = make(map[string]struct{}, len(s.TypingUsers))
	for k := range s.TypingUsers {
		out.TypingUsers[k] = struct{}{}
	}
	out.OnlineUsers = make(map[string]struct{}, len(s.OnlineUsers))
	for k := range s.OnlineUsers {
		out.OnlineUsers[k] = struct{}{}
	}
	if s.Current != nil {
		cur := *s.Current
		out.Current = &cur
	}
	return out
}
