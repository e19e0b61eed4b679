package realtime

// CommandKind enumerates the outbound command types.
type CommandKind string

const (
	CmdJoinRoom      CommandKind = "join_room"
	CmdLeaveRoom     CommandKind = "leave_room"
	CmdSendMessage   CommandKind = "send_message"
	CmdMarkDelivered CommandKind = "mark_delivered"
	CmdMarkRead      CommandKind = "mark_read"
	CmdTypingStart   CommandKind = "typing_start"
	CmdTypingStop    CommandKind = "typing_stop"
)

// Command is the wire format for client-to-server commands. Authentication
// is never part of a command payload; it is attached once at dial time.
type Command struct {
	Type    CommandKind `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

type roomCommand struct {
	ConversationID string `json:"conversationId"`
}

type sendCommand struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	TempID         string `json:"tempId"`
}

type receiptCommand struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// JoinRoom subscribes this connection to a conversation's events.
func JoinRoom(conversationID string) Command {
	return Command{Type: CmdJoinRoom, Payload: roomCommand{ConversationID: conversationID}}
}

// LeaveRoom unsubscribes from a conversation.
func LeaveRoom(conversationID string) Command {
	return Command{Type: CmdLeaveRoom, Payload: roomCommand{ConversationID: conversationID}}
}

// SendMessage sends a text message. tempID is echoed back on the matching
// new_message event for optimistic reconciliation.
func SendMessage(conversationID, content, tempID string) Command {
	return Command{Type: CmdSendMessage, Payload: sendCommand{
		ConversationID: conversationID,
		Content:        content,
		TempID:         tempID,
	}}
}

// MarkDelivered acknowledges delivery of a message.
func MarkDelivered(conversationID, messageID string) Command {
	return Command{Type: CmdMarkDelivered, Payload: receiptCommand{ConversationID: conversationID, MessageID: messageID}}
}

// MarkRead acknowledges reading of a message.
func MarkRead(conversationID, messageID string) Command {
	return Command{Type: CmdMarkRead, Payload: receiptCommand{ConversationID: conversationID, MessageID: messageID}}
}

// TypingStart signals the local user started typing in a conversation.
func TypingStart(conversationID string) Command {
	return Command{Type: CmdTypingStart, Payload: roomCommand{ConversationID: conversationID}}
}

// TypingStop signals the local user stopped typing.
func TypingStop(conversationID string) Command {
	return Command{Type: CmdTypingStop, Payload: roomCommand{ConversationID: conversationID}}
}
