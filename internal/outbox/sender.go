package outbox

import (
	"context"
	"time"

	"github.com/gfreires/feira/internal/bus"
	"github.com/gfreires/feira/internal/store"
	"go.uber.org/zap"
)

// MessageSender hands a queued message to the realtime connection. The
// server id is not known at send time; the broadcast echo carries it and
// the cache promotes the row by temp id when it lands.
type MessageSender interface {
	Send(ctx context.Context, conversationID, content, tempID string) error
}

// Sender drains the outbox. Messages queued while the daemon was
// offline go out on the next tick after the connection comes back.
type Sender struct {
	db     *store.DB
	sender MessageSender
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, sender MessageSender, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		sender: sender,
		bus:    b,
		logger: logger,
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.TempID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("temp_id", entry.TempID))
			continue
		}

		// Optimistic row: the message is visible in local reads immediately.
		now := time.Now().UnixMilli()
		_ = s.db.UpsertMessage(&store.Message{
			ConversationID: entry.ConversationID,
			TempID:         entry.TempID,
			Content:        entry.Content,
			Images:         "[]",
			FromMe:         true,
			Status:         "sending",
			SentAt:         now,
		})

		if err := s.sender.Send(ctx, entry.ConversationID, entry.Content, entry.TempID); err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("temp_id", entry.TempID))
			_ = s.db.MarkOutboxFailed(entry.TempID, err.Error())
			_ = s.db.UpsertMessage(&store.Message{
				ConversationID: entry.ConversationID,
				TempID:         entry.TempID,
				Content:        entry.Content,
				Images:         "[]",
				FromMe:         true,
				Status:         "failed",
				SentAt:         now,
			})
			s.bus.Emit(bus.KindOutboxFailed, bus.MessageRef{
				ConversationID: entry.ConversationID,
				TempID:         entry.TempID,
				Status:         "failed",
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.TempID, ""); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("temp_id", entry.TempID))
		}

		s.logger.Info("queued message sent", zap.String("temp_id", entry.TempID), zap.String("conversation_id", entry.ConversationID))
		s.bus.Emit(bus.KindOutboxSent, bus.MessageRef{
			ConversationID: entry.ConversationID,
			TempID:         entry.TempID,
			Status:         "sent",
		})
	}
}
