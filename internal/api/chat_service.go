package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gfreires/feira/internal/chat"
	"github.com/gfreires/feira/internal/store"
	"github.com/go-chi/chi/v5"
)

// HistoryMarks reports how far back a conversation's cached history
// reaches.
type HistoryMarks interface {
	HistoryFloor(conversationID string) (int64, error)
}

// ChatService serves the cached conversation list and drives the live
// chat store: opening a conversation joins its room, loads the first
// history page, and makes it the target of typing and read operations.
type ChatService struct {
	db    *store.DB
	chats *chat.Store
	marks HistoryMarks
}

// NewChatService creates a new chat service backed by the cache.
func NewChatService(db *store.DB, chats *chat.Store, marks HistoryMarks) *ChatService {
	return &ChatService{db: db, chats: chats, marks: marks}
}

// RegisterRoutes mounts the conversation endpoints.
func (s *ChatService) RegisterRoutes(r chi.Router) {
	r.Get("/v1/chats", s.listChats)
	r.Get("/v1/chats/{id}", s.getChat)
	r.Post("/v1/chats/{id}/open", s.openChat)
	r.Post("/v1/chats/close", s.closeChat)
}

func (s *ChatService) listChats(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	convs, err := s.db.ListConversations(limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]Conversation, 0, len(convs))
	for i := range convs {
		out = append(out, conversationFromStore(&convs[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversations": out,
		"hasMore":       len(convs) == limit,
	})
}

func (s *ChatService) getChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.db.GetConversation(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	resp := map[string]any{"conversation": conversationFromStore(c)}
	if s.marks != nil {
		if floor, err := s.marks.HistoryFloor(id); err == nil && floor > 0 {
			resp["cachedBackTo"] = floor
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// openChat makes the conversation current in the chat store, which joins
// its room and loads the first history page. The loaded page flows onto
// the bus and into the cache.
func (s *ChatService) openChat(w http.ResponseWriter, r *http.Request) {
	if s.chats == nil {
		respondError(w, http.StatusServiceUnavailable, "chat store unavailable")
		return
	}
	id := chi.URLParam(r, "id")

	conv := &chat.Conversation{ID: id}
	if cached, err := s.db.GetConversation(id); err == nil && cached != nil {
		conv.Participant = chat.Participant{
			ID:        cached.ParticipantID,
			Name:      cached.ParticipantName,
			AvatarURL: cached.ParticipantAvatarURL,
		}
		conv.CreatedAt = time.UnixMilli(cached.CreatedAt)
	}

	s.chats.SetCurrentChat(r.Context(), conv)
	if err := s.chats.LoadMessages(r.Context(), id, 1); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	snap := s.chats.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation": id,
		"messages":     len(snap.Messages),
		"hasMore":      snap.HasMore,
	})
}

func (s *ChatService) closeChat(w http.ResponseWriter, r *http.Request) {
	if s.chats == nil {
		respondError(w, http.StatusServiceUnavailable, "chat store unavailable")
		return
	}
	s.chats.SetCurrentChat(r.Context(), nil)
	respondJSON(w, http.StatusOK, map[string]any{"closed": true})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
