package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gfreires/feira/internal/bus"
	"github.com/gfreires/feira/internal/chat"
	"github.com/gfreires/feira/internal/store"
	"go.uber.org/zap"
)

// Engine mirrors chat state changes into the local cache. It subscribes
// to "chat." events on the bus and persists them idempotently, so the
// cache converges no matter how often an event is replayed. The chat
// store publishes message and receipt events for every conversation, so
// the cache fills regardless of which conversation is open.
type Engine struct {
	db          *store.DB
	bus         *bus.Bus
	recon       *Reconciler
	localUserID string
	logger      *zap.Logger
	cancel      context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, localUserID string, logger *zap.Logger) *Engine {
	return &Engine{
		db:          db,
		bus:         b,
		recon:       NewReconciler(db, logger),
		localUserID: localUserID,
		logger:      logger,
	}
}

// Start subscribes to chat state events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("chat.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageUpserted, bus.KindMessageFailed:
		msg, ok := evt.Payload.(chat.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID), zap.String("temp_id", msg.TempID))
		}
	case bus.KindMessageStatus:
		ref, ok := evt.Payload.(bus.MessageRef)
		if !ok {
			return
		}
		if err := e.ApplyReceipt(ref); err != nil {
			e.logger.Error("failed to apply receipt", zap.Error(err), zap.String("msg_id", ref.MessageID))
		}
	case bus.KindHistoryLoaded:
		msgs, ok := evt.Payload.([]chat.Message)
		if !ok {
			return
		}
		if err := e.IngestHistoryPage(msgs); err != nil {
			e.logger.Error("failed to ingest history page", zap.Error(err), zap.Int("count", len(msgs)))
		} else {
			e.logger.Info("history page ingested", zap.Int("messages", len(msgs)))
		}
	}
}

// ApplyReceipt advances a cached message's delivery status. Receipts
// arrive for every conversation, not just the open one.
func (e *Engine) ApplyReceipt(ref bus.MessageRef) error {
	return e.db.AdvanceMessageStatus(ref.ConversationID, ref.MessageID, ref.Status)
}

// IngestMessage persists a single message and bumps its conversation
// (idempotent).
func (e *Engine) IngestMessage(msg chat.Message) error {
	if err := e.db.TouchConversation(msg.ConversationID, msg.SentAt.UnixMilli(), truncate(msg.Content, 100)); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := e.db.UpsertMessage(toStoreMessage(msg, e.localUserID)); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// IngestHistoryPage persists a page of messages in one transaction.
func (e *Engine) IngestHistoryPage(msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	records := make([]store.Message, 0, len(msgs))
	latest, oldest := msgs[0], msgs[0]
	for _, m := range msgs {
		records = append(records, *toStoreMessage(m, e.localUserID))
		if m.SentAt.After(latest.SentAt) {
			latest = m
		}
		if m.SentAt.Before(oldest.SentAt) {
			oldest = m
		}
	}

	if err := e.db.TouchConversation(latest.ConversationID, latest.SentAt.UnixMilli(), truncate(latest.Content, 100)); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := e.db.BulkUpsertMessages(records); err != nil {
		return fmt.Errorf("bulk upsert: %w", err)
	}
	if err := e.recon.RecordHistoryFloor(oldest.ConversationID, oldest.SentAt.UnixMilli()); err != nil {
		e.logger.Warn("failed to record history floor", zap.Error(err), zap.String("conversation_id", oldest.ConversationID))
	}

	e.bus.Publish(bus.Event{
		Kind:      "sync.history_page",
		Timestamp: time.Now(),
		Payload:   map[string]int{"messages_count": len(records)},
	})
	return nil
}

// SnapshotConversations replaces cached conversation metadata with a
// fresh listing from the server.
func (e *Engine) SnapshotConversations(convs []chat.Conversation) error {
	for _, c := range convs {
		rec := &store.Conversation{
			ID:                   c.ID,
			ParticipantID:        c.Participant.ID,
			ParticipantName:      c.Participant.Name,
			ParticipantAvatarURL: c.Participant.AvatarURL,
			CreatedAt:            c.CreatedAt.UnixMilli(),
		}
		if c.LastMessage != nil {
			rec.LastMessageAt = c.LastMessage.SentAt.UnixMilli()
			rec.LastMessagePreview = truncate(c.LastMessage.Content, 100)
		}
		if err := e.db.UpsertConversation(rec); err != nil {
			return fmt.Errorf("upsert conversation %q: %w", c.ID, err)
		}
	}
	return nil
}

func toStoreMessage(m chat.Message, localUserID string) *store.Message {
	images := "[]"
	if len(m.Images) > 0 {
		if b, err := json.Marshal(m.Images); err == nil {
			images = string(b)
		}
	}
	return &store.Message{
		ConversationID: m.ConversationID,
		MsgID:          m.ID,
		TempID:         m.TempID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Images:         images,
		FromMe:         m.SenderID == localUserID,
		Status:         string(m.Status),
		SentAt:         m.SentAt.UnixMilli(),
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
