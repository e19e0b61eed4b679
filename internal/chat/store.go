package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gfreires/feira/internal/bus"
	"github.com/gfreires/feira/internal/realtime"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoActiveConversation is returned by operations that require a
// conversation to be selected first.
var ErrNoActiveConversation = errors.New("no active conversation")

// Commander is the outbound command surface of the connection manager.
type Commander interface {
	Emit(ctx context.Context, cmd realtime.Command) error
}

// HistoryLoader fetches one page of message history over REST.
type HistoryLoader interface {
	Messages(ctx context.Context, conversationID string, page, limit int) ([]Message, error)
}

// ImageSender performs the multipart upload path. The server generates
// the final media references, so there is no optimistic echo: the
// returned message is already confirmed.
type ImageSender interface {
	SendWithImages(ctx context.Context, conversationID, content string, imagePaths []string) (Message, error)
}

// Store is the single source of truth for the active conversation. All
// mutations go through the reducer under one mutex, so concurrent event
// handlers and API calls always observe whole state transitions, never a
// half-applied one. The optimistic insert always happens under the lock
// before the asynchronous command emit, so the inbound echo can never
// arrive before its optimistic entry exists.
type Store struct {
	mu    sync.Mutex
	state State

	localUserID string
	pageSize    int

	conn    Commander
	history HistoryLoader
	images  ImageSender
	bus     *bus.Bus
	logger  *zap.Logger
}

// Config holds Store construction parameters.
type Config struct {
	LocalUserID string
	PageSize    int
}

// NewStore creates a chat store. bus may be nil when nothing downstream
// needs change events (tests).
func NewStore(cfg Config, conn Commander, history HistoryLoader, images ImageSender, b *bus.Bus, logger *zap.Logger) *Store {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	return &Store{
		state:       newState(),
		localUserID: cfg.LocalUserID,
		pageSize:    cfg.PageSize,
		conn:        conn,
		history:     history,
		images:      images,
		bus:         b,
		logger:      logger,
	}
}

// Bind subscribes the store to the connection manager's inbound events.
// Handlers run on the read loop, so event order is preserved.
func (st *Store) Bind(m *realtime.Manager) {
	m.On(realtime.EventNewMessage, func(evt realtime.Event) {
		p := evt.Payload.(*realtime.MessagePayload)
		st.dispatch(messageReceived{msg: payloadToMessage(p)})
	})
	m.On(realtime.EventMessageDelivered, func(evt realtime.Event) {
		p := evt.Payload.(*realtime.ReceiptPayload)
		st.dispatch(messageDelivered{conversationID: p.ConversationID, messageID: p.MessageID})
	})
	m.On(realtime.EventMessageRead, func(evt realtime.Event) {
		p := evt.Payload.(*realtime.ReceiptPayload)
		st.dispatch(messageRead{conversationID: p.ConversationID, messageID: p.MessageID})
	})
	m.On(realtime.EventTypingStart, func(evt realtime.Event) {
		p := evt.Payload.(*realtime.TypingPayload)
		st.dispatch(typingStarted{conversationID: p.ConversationID, userID: p.UserID})
	})
	m.On(realtime.EventTypingStop, func(evt realtime.Event) {
		p := evt.Payload.(*realtime.TypingPayload)
		st.dispatch(typingStopped{conversationID: p.ConversationID, userID: p.UserID})
	})
	m.On(realtime.EventUserOnline, func(evt realtime.Event) {
		p := evt.Payload.(*realtime.PresencePayload)
		st.dispatch(userOnline{userID: p.UserID})
	})
	m.On(realtime.EventUserOffline, func(evt realtime.Event) {
		p := evt.Payload.(*realtime.PresencePayload)
		st.dispatch(userOffline{userID: p.UserID})
	})
	m.On(realtime.EventRoomJoined, func(realtime.Event) {
		st.dispatch(loadingFlagSet{flag: FlagJoiningChat, on: false})
	})
	m.On(realtime.EventRoomLeft, func(realtime.Event) {
		st.dispatch(loadingFlagSet{flag: FlagLeavingChat, on: false})
	})
	m.On(realtime.EventError, func(evt realtime.Event) {
		p := evt.Payload.(*realtime.ErrorPayload)
		st.logger.Warn("realtime server error", zap.String("message", p.Message))
	})
}

// Snapshot returns a copy of the current state, safe to read.
func (st *Store) Snapshot() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.clone()
}

// SetCurrentChat replaces the active conversation, clearing messages and
// typing state unconditionally, then joins the new room. Passing nil
// leaves the current room and clears the context.
func (st *Store) SetCurrentChat(ctx context.Context, conv *Conversation) {
	st.mu.Lock()
	previous := st.state.Current
	reduce(&st.state, st.localUserID, setCurrentChat{conv: conv})
	st.mu.Unlock()

	if st.bus != nil {
		id := ""
		if conv != nil {
			id = conv.ID
		}
		st.bus.Emit(bus.KindConversationSet, id)
	}

	if previous != nil && (conv == nil || conv.ID != previous.ID) {
		st.dispatch(loadingFlagSet{flag: FlagLeavingChat, on: true})
		if err := st.conn.Emit(ctx, realtime.LeaveRoom(previous.ID)); err != nil {
			st.logger.Warn("leave room failed", zap.String("conversation_id", previous.ID), zap.Error(err))
			st.dispatch(loadingFlagSet{flag: FlagLeavingChat, on: false})
		}
	}
	if conv != nil {
		st.dispatch(loadingFlagSet{flag: FlagJoiningChat, on: true})
		if err := st.conn.Emit(ctx, realtime.JoinRoom(conv.ID)); err != nil {
			st.logger.Warn("join room failed", zap.String("conversation_id", conv.ID), zap.Error(err))
			st.dispatch(loadingFlagSet{flag: FlagJoiningChat, on: false})
		}
	}
}

// SendMessage sends content with optional image attachments. Text-only
// sends insert an optimistic message synchronously and then emit the
// send command; a transport failure marks that message failed but never
// removes it. Image sends go through the REST multipart path and only
// appear locally once the server confirms.
func (st *Store) SendMessage(ctx context.Context, content string, imagePaths []string) error {
	st.mu.Lock()
	current := st.state.Current
	st.mu.Unlock()
	if current == nil {
		return ErrNoActiveConversation
	}

	if len(imagePaths) > 0 {
		return st.sendWithImages(ctx, current.ID, content, imagePaths)
	}

	msg := Message{
		TempID:         uuid.NewString(),
		ConversationID: current.ID,
		SenderID:       st.localUserID,
		Content:        content,
		SentAt:         time.Now(),
		Status:         StatusSending,
		Optimistic:     true,
	}
	// Insert before the emit: the echo must always find its optimistic entry.
	st.dispatch(optimisticMessageAdded{msg: msg})
	st.dispatch(draftChanged{text: ""})

	if err := st.conn.Emit(ctx, realtime.SendMessage(current.ID, content, msg.TempID)); err != nil {
		st.logger.Warn("send failed", zap.String("temp_id", msg.TempID), zap.Error(err))
		st.dispatch(sendFailed{tempID: msg.TempID})
	}
	return nil
}

func (st *Store) sendWithImages(ctx context.Context, conversationID, content string, imagePaths []string) error {
	st.dispatch(loadingFlagSet{flag: FlagSendingMessage, on: true})
	defer st.dispatch(loadingFlagSet{flag: FlagSendingMessage, on: false})

	confirmed, err := st.images.SendWithImages(ctx, conversationID, content, imagePaths)
	if err != nil {
		return err
	}
	st.dispatch(messageReceived{msg: confirmed})
	st.dispatch(draftChanged{text: ""})
	return nil
}

// LoadMessages fetches one history page. Page 1 replaces the list, later
// pages prepend. A fetch failure leaves existing state untouched. Pages
// for a conversation that is no longer active are discarded.
func (st *Store) LoadMessages(ctx context.Context, conversationID string, page int) error {
	st.dispatch(loadingFlagSet{flag: FlagLoadingMessages, on: true})
	defer st.dispatch(loadingFlagSet{flag: FlagLoadingMessages, on: false})

	msgs, err := st.history.Messages(ctx, conversationID, page, st.pageSize)
	if err != nil {
		st.logger.Error("history load failed",
			zap.String("conversation_id", conversationID),
			zap.Int("page", page),
			zap.Error(err))
		return err
	}
	st.dispatch(historyLoaded{
		conversationID: conversationID,
		page:           page,
		messages:       msgs,
		fullPage:       len(msgs) >= st.pageSize,
	})
	return nil
}

// StartTyping emits a typing indicator for the active conversation. The
// caller owns debouncing.
func (st *Store) StartTyping(ctx context.Context) {
	if id, ok := st.currentID(); ok {
		_ = st.conn.Emit(ctx, realtime.TypingStart(id))
	}
}

// StopTyping emits the matching stop indicator.
func (st *Store) StopTyping(ctx context.Context) {
	if id, ok := st.currentID(); ok {
		_ = st.conn.Emit(ctx, realtime.TypingStop(id))
	}
}

// MarkMessageAsRead acknowledges a message. Local status is not touched;
// the authoritative read event mutates it, same as for remote readers.
func (st *Store) MarkMessageAsRead(ctx context.Context, messageID string) {
	if id, ok := st.currentID(); ok {
		_ = st.conn.Emit(ctx, realtime.MarkRead(id, messageID))
	}
}

// MarkMessageAsDelivered acknowledges delivery of a displayed message.
func (st *Store) MarkMessageAsDelivered(ctx context.Context, messageID string) {
	if id, ok := st.currentID(); ok {
		_ = st.conn.Emit(ctx, realtime.MarkDelivered(id, messageID))
	}
}

// SetDraft stores the input buffer for the active conversation.
func (st *Store) SetDraft(text string) {
	st.dispatch(draftChanged{text: text})
}

func (st *Store) currentID() (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.state.Current == nil {
		return "", false
	}
	return st.state.Current.ID, true
}

// dispatch applies one action under the lock and publishes change events
// for any affected messages. Inbound messages and receipts publish their
// cache events for every conversation, not just the open one: the
// reducer's active-conversation guard scopes the in-memory state only,
// while the sync engine persists all traffic.
func (st *Store) dispatch(action Action) {
	st.mu.Lock()
	changed := reduce(&st.state, st.localUserID, action)
	st.mu.Unlock()

	if st.bus == nil {
		return
	}
	switch a := action.(type) {
	case messageReceived:
		if len(changed) > 0 {
			st.bus.Emit(bus.KindMessageUpserted, changed[0])
			return
		}
		m := a.msg
		if m.Status == "" {
			m.Status = StatusSent
		}
		m.Optimistic = false
		st.bus.Emit(bus.KindMessageUpserted, m)
	case messageDelivered:
		st.bus.Emit(bus.KindMessageStatus, bus.MessageRef{
			ConversationID: a.conversationID,
			MessageID:      a.messageID,
			Status:         string(StatusDelivered),
		})
	case messageRead:
		st.bus.Emit(bus.KindMessageStatus, bus.MessageRef{
			ConversationID: a.conversationID,
			MessageID:      a.messageID,
			Status:         string(StatusRead),
		})
	case historyLoaded:
		if len(changed) > 0 {
			st.bus.Emit(bus.KindHistoryLoaded, changed)
		}
	case sendFailed:
		for _, m := range changed {
			st.bus.Emit(bus.KindMessageFailed, m)
		}
	case typingStarted, typingStopped:
		st.bus.Emit(bus.KindTypingChanged, nil)
	case userOnline, userOffline:
		st.bus.Emit(bus.KindPresenceChanged, nil)
	default:
		for _, m := range changed {
			st.bus.Emit(bus.KindMessageUpserted, m)
		}
	}
}

func payloadToMessage(p *realtime.MessagePayload) Message {
	return Message{
		ID:             p.ID,
		TempID:         p.TempID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		Content:        p.Content,
		Images:         p.Images,
		SentAt:         time.UnixMilli(p.SentAtUnixMs),
		Status:         StatusSent,
	}
}
