package api

import (
	"encoding/json"
	"net/http"

	"github.com/gfreires/feira/internal/store"
)

// Conversation is the wire shape for a cached conversation.
type Conversation struct {
	ID                 string `json:"id"`
	ParticipantID      string `json:"participantId"`
	ParticipantName    string `json:"participantName"`
	LastMessageAt      int64  `json:"lastMessageAt"`
	LastMessagePreview string `json:"lastMessagePreview"`
	UnreadCount        int    `json:"unreadCount"`
}

// Message is the wire shape for a cached message.
type Message struct {
	ID             string          `json:"id,omitempty"`
	TempID         string          `json:"tempId,omitempty"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Content        string          `json:"content"`
	Images         json.RawMessage `json:"images,omitempty"`
	FromMe         bool            `json:"fromMe"`
	Status         string          `json:"status"`
	SentAt         int64           `json:"sentAt"`
}

func conversationFromStore(c *store.Conversation) Conversation {
	return Conversation{
		ID:                 c.ID,
		ParticipantID:      c.ParticipantID,
		ParticipantName:    c.ParticipantName,
		LastMessageAt:      c.LastMessageAt,
		LastMessagePreview: c.LastMessagePreview,
		UnreadCount:        c.UnreadCount,
	}
}

func messageFromStore(m *store.Message) Message {
	images := json.RawMessage(m.Images)
	if m.Images == "" {
		images = json.RawMessage("[]")
	}
	return Message{
		ID:             m.MsgID,
		TempID:         m.TempID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Images:         images,
		FromMe:         m.FromMe,
		Status:         m.Status,
		SentAt:         m.SentAt,
	}
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
