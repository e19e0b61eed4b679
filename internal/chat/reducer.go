package chat

import "sort"

// reduce applies one action to the state. localUserID is needed for the
// typing echo guard. It returns the messages whose records changed, for
// event publication by the store.
func reduce(s *State, localUserID string, action Action) []Message {
	switch a := action.(type) {

	case setCurrentChat:
		s.Current = a.conv
		s.Messages = nil
		s.TypingUsers = make(map[string]struct{})
		s.HasMore = false
		s.Draft = ""
		return nil

	case optimisticMessageAdded:
		insertSorted(s, a.msg)
		return []Message{a.msg}

	case messageReceived:
		if s.Current == nil || a.msg.ConversationID != s.Current.ID {
			return nil
		}
		merged := reconcile(s, a.msg)
		return []Message{merged}

	case messageDelivered:
		return applyReceipt(s, a.conversationID, a.messageID, StatusDelivered)

	case messageRead:
		return applyReceipt(s, a.conversationID, a.messageID, StatusRead)

	case sendFailed:
		for i := range s.Messages {
			if s.Messages[i].TempID == a.tempID {
				s.Messages[i].Status = advance(s.Messages[i].Status, StatusFailed)
				return []Message{s.Messages[i]}
			}
		}
		return nil

	case historyLoaded:
		// Discard pages that raced a conversation switch.
		if s.Current == nil || a.conversationID != s.Current.ID {
			return nil
		}
		page := make([]Message, len(a.messages))
		copy(page, a.messages)
		for i := range page {
			// History is by definition already delivered.
			if page[i].Status == "" {
				page[i].Status = StatusDelivered
			}
		}
		sortMessages(page)
		if a.page <= 1 {
			s.Messages = page
		} else {
			s.Messages = append(page, s.Messages...)
		}
		s.HasMore = a.fullPage
		return page

	case typingStarted:
		// Echo and cross-conversation guards: never our own id, never a
		// different conversation's typist.
		if s.Current == nil || a.conversationID != s.Current.ID || a.userID == localUserID {
			return nil
		}
		s.TypingUsers[a.userID] = struct{}{}
		return nil

	case typingStopped:
		delete(s.TypingUsers, a.userID)
		return nil

	case userOnline:
		s.OnlineUsers[a.userID] = struct{}{}
		return nil

	case userOffline:
		delete(s.OnlineUsers, a.userID)
		return nil

	case draftChanged:
		s.Draft = a.text
		return nil

	case loadingFlagSet:
		switch a.flag {
		case FlagSendingMessage:
			s.Loading.SendingMessage = a.on
		case FlagJoiningChat:
			s.Loading.JoiningChat = a.on
		case FlagLeavingChat:
			s.Loading.LeavingChat = a.on
		case FlagLoadingMessages:
			s.Loading.LoadingMessages = a.on
		case FlagLoadingChats:
			s.Loading.LoadingChats = a.on
		}
		return nil
	}
	return nil
}

// reconcile merges an authoritative message into the list: server id
// match first, then temp id. A match promotes the optimistic entry in
// place (acquiring the server id); no match appends. Exactly one record
// per logical message, always.
func reconcile(s *State, msg Message) Message {
	idx := -1
	if msg.ID != "" {
		for i := range s.Messages {
			if s.Messages[i].ID == msg.ID {
				idx = i
				break
			}
		}
	}
	if idx < 0 && msg.TempID != "" {
		for i := range s.Messages {
			if s.Messages[i].TempID == msg.TempID {
				idx = i
				break
			}
		}
	}

	status := msg.Status
	if status == "" {
		status = StatusSent
	}

	if idx < 0 {
		msg.Status = status
		msg.Optimistic = false
		insertSorted(s, msg)
		return msg
	}

	existing := &s.Messages[idx]
	existing.ID = msg.ID
	existing.Content = msg.Content
	existing.Images = msg.Images
	if !msg.SentAt.IsZero() {
		existing.SentAt = msg.SentAt
	}
	existing.Status = advance(existing.Status, status)
	existing.Optimistic = false
	sortMessages(s.Messages)
	return *existing
}

func applyReceipt(s *State, conversationID, messageID string, to MessageStatus) []Message {
	if s.Current == nil || conversationID != s.Current.ID {
		return nil
	}
	for i := range s.Messages {
		if s.Messages[i].ID == messageID {
			next := advance(s.Messages[i].Status, to)
			if next == s.Messages[i].Status {
				return nil
			}
			s.Messages[i].Status = next
			return []Message{s.Messages[i]}
		}
	}
	return nil
}

func insertSorted(s *State, msg Message) {
	s.Messages = append(s.Messages, msg)
	sortMessages(s.Messages)
}

// sortMessages keeps the conversation ordered ascending by sent time.
// The sort is stable so equal timestamps keep arrival order.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
}
