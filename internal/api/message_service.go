package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gfreires/feira/internal/chat"
	"github.com/gfreires/feira/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// MessageService serves cached messages and accepts sends into the
// outbox. Sends are accepted even while disconnected; the outbox drains
// them when the connection returns. Read acknowledgements and typing
// indicators go through the chat store and require the conversation to
// be open.
type MessageService struct {
	db    *store.DB
	chats *chat.Store
}

// NewMessageService creates a new message service backed by the cache.
func NewMessageService(db *store.DB, chats *chat.Store) *MessageService {
	return &MessageService{db: db, chats: chats}
}

// RegisterRoutes mounts the message endpoints.
func (s *MessageService) RegisterRoutes(r chi.Router) {
	r.Get("/v1/chats/{id}/messages", s.listMessages)
	r.Post("/v1/chats/{id}/messages", s.sendMessage)
	r.Post("/v1/chats/{id}/read", s.markRead)
	r.Post("/v1/chats/{id}/typing", s.setTyping)
	r.Get("/v1/search", s.searchMessages)
}

// requireOpen checks that the conversation is the chat store's current
// one. Store operations scoped to the active conversation silently
// no-op otherwise, which would read as success over the API.
func (s *MessageService) requireOpen(w http.ResponseWriter, id string) bool {
	if s.chats == nil {
		respondError(w, http.StatusServiceUnavailable, "chat store unavailable")
		return false
	}
	snap := s.chats.Snapshot()
	if snap.Current == nil || snap.Current.ID != id {
		respondError(w, http.StatusConflict, "conversation not open")
		return false
	}
	return true
}

func (s *MessageService) markRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.requireOpen(w, id) {
		return
	}
	var req struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" {
		respondError(w, http.StatusBadRequest, "messageId is required")
		return
	}
	s.chats.MarkMessageAsRead(r.Context(), req.MessageID)
	respondJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (s *MessageService) setTyping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.requireOpen(w, id) {
		return
	}
	var req struct {
		Typing bool `json:"typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Typing {
		s.chats.StartTyping(r.Context())
	} else {
		s.chats.StopTyping(r.Context())
	}
	respondJSON(w, http.StatusOK, map[string]any{"typing": req.Typing})
}

func (s *MessageService) listMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 50)

	var beforeTs int64
	if v := r.URL.Query().Get("before"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid before timestamp")
			return
		}
		beforeTs = ts
	}

	msgs, err := s.db.ListMessages(conversationID, beforeTs, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, messageFromStore(&msgs[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"messages": out,
		"hasMore":  len(msgs) == limit,
	})
}

type sendRequest struct {
	Content string `json:"content"`
}

func (s *MessageService) sendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		respondError(w, http.StatusBadRequest, "content is required")
		return
	}

	tempID := uuid.NewString()
	if err := s.db.QueueOutbox(tempID, conversationID, req.Content); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"tempId":   tempID,
	})
}

func (s *MessageService) searchMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	conversationID := r.URL.Query().Get("chat")
	limit := queryInt(r, "limit", 50)

	results, err := s.db.SearchMessages(query, conversationID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type searchHit struct {
		Message Message `json:"message"`
		Snippet string  `json:"snippet"`
	}
	out := make([]searchHit, 0, len(results))
	for i := range results {
		out = append(out, searchHit{
			Message: messageFromStore(&results[i].Message),
			Snippet: results[i].Snippet,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": out})
}
