package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gfreires/feira/internal/status"
	"github.com/gfreires/feira/internal/store"
	"github.com/go-chi/chi/v5"
)

// Conn is the connection control surface exposed over the control API.
type Conn interface {
	State() status.State
	SessionID() string
	Connect(ctx context.Context) error
	Disconnect()
	Reconnect(ctx context.Context) error
}

// SessionService serves daemon status and connection control.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	conn        Conn
	db          *store.DB
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName string, conn Conn, db *store.DB) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		conn:        conn,
		db:          db,
	}
}

// RegisterRoutes mounts the session endpoints.
func (s *SessionService) RegisterRoutes(r chi.Router) {
	r.Get("/v1/status", s.getStatus)
	r.Post("/v1/connect", s.connect)
	r.Post("/v1/disconnect", s.disconnect)
	r.Post("/v1/reconnect", s.reconnect)
}

type statusResponse struct {
	Session           string `json:"session"`
	State             string `json:"state"`
	SessionID         string `json:"sessionId,omitempty"`
	UptimeMs          int64  `json:"uptimeMs"`
	ConversationCount int64  `json:"conversationCount"`
	MessageCount      int64  `json:"messageCount"`
}

func (s *SessionService) getStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Session:  s.sessionName,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if s.conn != nil {
		resp.State = string(s.conn.State())
		resp.SessionID = s.conn.SessionID()
	}
	if s.db != nil {
		if n, err := s.db.ConversationCount(); err == nil {
			resp.ConversationCount = n
		}
		if n, err := s.db.MessageCount(); err == nil {
			resp.MessageCount = n
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *SessionService) connect(w http.ResponseWriter, r *http.Request) {
	if err := s.conn.Connect(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": string(s.conn.State())})
}

func (s *SessionService) disconnect(w http.ResponseWriter, _ *http.Request) {
	s.conn.Disconnect()
	respondJSON(w, http.StatusOK, map[string]string{"state": string(s.conn.State())})
}

func (s *SessionService) reconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.conn.Reconnect(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": string(s.conn.State())})
}
