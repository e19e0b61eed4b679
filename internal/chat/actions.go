package chat

// Action is the sealed union of state mutations. Every state change goes
// through exactly one dispatch of one of these; the reducer's type switch
// is the complete list.
type Action interface {
	isAction()
}

// setCurrentChat replaces the active conversation. nil clears it (leave
// semantics). Always wipes messages and typing state.
type setCurrentChat struct {
	conv *Conversation
}

// optimisticMessageAdded inserts a locally created message with status
// sending, before the send command goes out.
type optimisticMessageAdded struct {
	msg Message
}

// messageReceived is an authoritative message from the server: either the
// echo of this client's optimistic send (matched by temp id) or a message
// from the other participant.
type messageReceived struct {
	msg Message
}

// messageDelivered and messageRead are receipt acks for a confirmed message.
type messageDelivered struct {
	conversationID string
	messageID      string
}

type messageRead struct {
	conversationID string
	messageID      string
}

// sendFailed marks an optimistic message failed. The message stays in the
// list so the user can see it and retry or delete.
type sendFailed struct {
	tempID string
}

// historyLoaded applies one page of history. Page 1 replaces the list;
// later pages prepend. Stale pages (conversation switched while the fetch
// was in flight) are discarded by the reducer.
type historyLoaded struct {
	conversationID string
	page           int
	messages       []Message
	fullPage       bool
}

type typingStarted struct {
	conversationID string
	userID         string
}

type typingStopped struct {
	conversationID string
	userID         string
}

type userOnline struct {
	userID string
}

type userOffline struct {
	userID string
}

type draftChanged struct {
	text string
}

// loadingFlagSet toggles one flag of the fixed loading record.
type loadingFlagSet struct {
	flag LoadingFlag
	on   bool
}

// LoadingFlag names one boolean of LoadingFlags.
type LoadingFlag int

const (
	FlagSendingMessage LoadingFlag = iota
	FlagJoiningChat
	FlagLeavingChat
	FlagLoadingMessages
	FlagLoadingChats
)

func (setCurrentChat) isAction()          {}
func (optimisticMessageAdded) isAction()  {}
func (messageReceived) isAction()         {}
func (messageDelivered) isAction()        {}
func (messageRead) isAction()             {}
func (sendFailed) isAction()              {}
func (historyLoaded) isAction()           {}
func (typingStarted) isAction()           {}
func (typingStopped) isAction()           {}
func (userOnline) isAction()              {}
func (userOffline) isAction()             {}
func (draftChanged) isAction()            {}
func (loadingFlagSet) isAction()          {}
