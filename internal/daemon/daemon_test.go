package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gfreires/feira/internal/api"
	"github.com/gfreires/feira/internal/bus"
	"github.com/gfreires/feira/internal/chat"
	"github.com/gfreires/feira/internal/lock"
	"github.com/gfreires/feira/internal/realtime"
	"github.com/gfreires/feira/internal/status"
	"github.com/gfreires/feira/internal/store"
	intsync "github.com/gfreires/feira/internal/sync"
	"go.uber.org/zap"
)

// fakeConn is a connection control surface for tests that never dials.
type fakeConn struct {
	state     status.State
	sessionID string
}

func (f *fakeConn) State() status.State { return f.state }
func (f *fakeConn) SessionID() string   { return f.sessionID }
func (f *fakeConn) Connect(context.Context) error {
	f.state = status.Connected
	return nil
}
func (f *fakeConn) Disconnect() { f.state = status.Disconnected }
func (f *fakeConn) Reconnect(context.Context) error {
	f.state = status.Connected
	return nil
}

// udsClient returns an HTTP client that dials the given unix socket
// regardless of the request host.
func udsClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "feira-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	sessionName := "test"
	sessionDir := filepath.Join(tmpDir, sessionName)
	socketPath := filepath.Join(sessionDir, "d.sock")

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		t.Fatal(err)
	}

	// Acquire lock.
	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	// Open store.
	db, err := store.Open(filepath.Join(sessionDir, "feira.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	// Setup components.
	logger, _ := zap.NewDevelopment()
	conn := &fakeConn{state: status.Disconnected, sessionID: "s-1"}
	sessionSvc := api.NewSessionService(sessionName, conn, db)
	chatSvc := api.NewChatService(db, nil, nil)
	messageSvc := api.NewMessageService(db, nil)
	listingSvc := api.NewListingService(nil)

	p := Params{SessionName: sessionName, SocketPath: socketPath}
	srv, err := NewServer(p, logger, sessionSvc, chatSvc, messageSvc, listingSvc)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	client := udsClient(socketPath)
	base := "http://feira"

	// Status.
	resp, err := client.Get(base + "/v1/status")
	if err != nil {
		t.Fatalf("GET /v1/status error = %v", err)
	}
	var st struct {
		Session string `json:"session"`
		State   string `json:"state"`
	}
	decodeBody(t, resp, &st)
	if st.Session != sessionName {
		t.Errorf("session = %q, want %q", st.Session, sessionName)
	}
	if st.State != string(status.Disconnected) {
		t.Errorf("state = %q, want DISCONNECTED", st.State)
	}

	// List chats (empty).
	resp, err = client.Get(base + "/v1/chats")
	if err != nil {
		t.Fatalf("GET /v1/chats error = %v", err)
	}
	var chats struct {
		Conversations []json.RawMessage `json:"conversations"`
	}
	decodeBody(t, resp, &chats)
	if len(chats.Conversations) != 0 {
		t.Errorf("expected 0 conversations, got %d", len(chats.Conversations))
	}

	// Insert a conversation and message, then query.
	if err := db.UpsertConversation(&store.Conversation{
		ID: "c-1", ParticipantName: "Ana", LastMessageAt: 1000, LastMessagePreview: "hello",
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&store.Message{
		ConversationID: "c-1", MsgID: "m1", SenderID: "u-2", Content: "hello world", Status: "delivered", SentAt: 1000,
	}); err != nil {
		t.Fatal(err)
	}

	resp, err = client.Get(base + "/v1/chats")
	if err != nil {
		t.Fatalf("GET /v1/chats error = %v", err)
	}
	decodeBody(t, resp, &chats)
	if len(chats.Conversations) != 1 {
		t.Errorf("expected 1 conversation, got %d", len(chats.Conversations))
	}

	// List messages.
	resp, err = client.Get(base + "/v1/chats/c-1/messages")
	if err != nil {
		t.Fatalf("GET messages error = %v", err)
	}
	var msgs struct {
		Messages []json.RawMessage `json:"messages"`
	}
	decodeBody(t, resp, &msgs)
	if len(msgs.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(msgs.Messages))
	}

	// Search.
	resp, err = client.Get(base + "/v1/search?q=hello")
	if err != nil {
		t.Fatalf("GET /v1/search error = %v", err)
	}
	var search struct {
		Results []json.RawMessage `json:"results"`
	}
	decodeBody(t, resp, &search)
	if len(search.Results) != 1 {
		t.Errorf("expected 1 search result, got %d", len(search.Results))
	}

	// Send queues into the outbox.
	body := bytes.NewBufferString(`{"content":"oi, ainda disponível?"}`)
	resp, err = client.Post(base+"/v1/chats/c-1/messages", "application/json", body)
	if err != nil {
		t.Fatalf("POST send error = %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send status = %d, want 202", resp.StatusCode)
	}
	var send struct {
		Accepted bool   `json:"accepted"`
		TempID   string `json:"tempId"`
	}
	decodeBody(t, resp, &send)
	if !send.Accepted || send.TempID == "" {
		t.Errorf("send response = %+v, want accepted with a tempId", send)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].TempID != send.TempID {
		t.Errorf("outbox = %+v, want one entry for %s", pending, send.TempID)
	}

	logger.Info("integration test passed")
}

// TestConnectionControl verifies connect/disconnect round-trips over the
// control socket and that status reflects the new state.
func TestConnectionControl(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "feira-conn-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	conn := &fakeConn{state: status.Disconnected}
	sessionSvc := api.NewSessionService("test", conn, nil)

	p := Params{SessionName: "test", SocketPath: socketPath}
	srv, err := NewServer(p, zap.NewNop(), sessionSvc, api.NewChatService(nil, nil, nil), api.NewMessageService(nil, nil), api.NewListingService(nil))
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())
	time.Sleep(50 * time.Millisecond)

	client := udsClient(socketPath)

	resp, err := client.Post("http://feira/v1/connect", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]string
	decodeBody(t, resp, &out)
	if out["state"] != string(status.Connected) {
		t.Errorf("state after connect = %q, want CONNECTED", out["state"])
	}

	resp, err = client.Post("http://feira/v1/disconnect", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	decodeBody(t, resp, &out)
	if out["state"] != string(status.Disconnected) {
		t.Errorf("state after disconnect = %q, want DISCONNECTED", out["state"])
	}
}

// TestServerReplacesStaleSocket verifies a leftover socket file from a
// crashed daemon does not block startup.
func TestServerReplacesStaleSocket(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "feira-stale-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")

	// Leave a dead socket behind.
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Close()
	if _, err := os.Stat(socketPath); err != nil {
		// Close removed it on this platform; recreate a plain file to
		// simulate the leftover.
		if writeErr := os.WriteFile(socketPath, nil, 0600); writeErr != nil {
			t.Fatal(writeErr)
		}
	}

	p := Params{SessionName: "stale", SocketPath: socketPath}
	srv, err := NewServer(p, zap.NewNop(), api.NewSessionService("stale", &fakeConn{}, nil), api.NewChatService(nil, nil, nil), api.NewMessageService(nil, nil), api.NewListingService(nil))
	if err != nil {
		t.Fatalf("NewServer with stale socket failed: %v", err)
	}
	srv.Stop(context.Background())
}

type recordCommander struct{}

func (recordCommander) Emit(context.Context, realtime.Command) error { return nil }

type cannedHistory struct {
	page []chat.Message
}

func (h cannedHistory) Messages(context.Context, string, int, int) ([]chat.Message, error) {
	return h.page, nil
}

// TestOpenConversationFillsCache drives the full open path: POST open
// makes the conversation current, loads the first history page, and the
// sync engine persists it so later list calls read it from sqlite.
func TestOpenConversationFillsCache(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "feira-open-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	db, err := store.Open(filepath.Join(tmpDir, "feira.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	b := bus.New()
	engine := intsync.NewEngine(db, b, "u-1", zap.NewNop())
	engine.Start(context.Background())
	defer engine.Stop()

	history := cannedHistory{page: []chat.Message{
		{ID: "m-1", ConversationID: "c-1", SenderID: "u-2", Content: "oi", SentAt: time.UnixMilli(1000)},
		{ID: "m-2", ConversationID: "c-1", SenderID: "u-1", Content: "olá", SentAt: time.UnixMilli(2000)},
	}}
	chats := chat.NewStore(chat.Config{LocalUserID: "u-1", PageSize: 2}, recordCommander{}, history, nil, b, zap.NewNop())

	socketPath := filepath.Join(tmpDir, "d.sock")
	p := Params{SessionName: "open", SocketPath: socketPath}
	srv, err := NewServer(p, zap.NewNop(),
		api.NewSessionService("open", &fakeConn{}, db),
		api.NewChatService(db, chats, intsync.NewReconciler(db, zap.NewNop())),
		api.NewMessageService(db, chats),
		api.NewListingService(nil))
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())
	time.Sleep(50 * time.Millisecond)

	client := udsClient(socketPath)

	resp, err := client.Post("http://feira/v1/chats/c-1/open", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var opened struct {
		Conversation string `json:"conversation"`
		Messages     int    `json:"messages"`
		HasMore      bool   `json:"hasMore"`
	}
	decodeBody(t, resp, &opened)
	if opened.Conversation != "c-1" || opened.Messages != 2 || !opened.HasMore {
		t.Errorf("open response = %+v, want c-1 with 2 messages and hasMore", opened)
	}

	// The loaded page flows bus → engine → sqlite.
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, err := db.ListMessages("c-1", 0, 10)
		if err == nil && len(msgs) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history page never reached the cache, have %d rows", len(msgs))
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The chat detail reports how far back the cache reaches: the
	// oldest message of the ingested page.
	resp, err = client.Get("http://feira/v1/chats/c-1")
	if err != nil {
		t.Fatal(err)
	}
	var detail struct {
		CachedBackTo int64 `json:"cachedBackTo"`
	}
	decodeBody(t, resp, &detail)
	if detail.CachedBackTo != 1000 {
		t.Errorf("cachedBackTo = %d, want 1000", detail.CachedBackTo)
	}

	// Read ack goes through now that the conversation is open.
	resp, err = client.Post("http://feira/v1/chats/c-1/read", "application/json",
		bytes.NewBufferString(`{"messageId":"m-1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read ack status = %d, want 200", resp.StatusCode)
	}
	_ = resp.Body.Close()

	// For a chat that is not open it is refused.
	resp, err = client.Post("http://feira/v1/chats/c-2/read", "application/json",
		bytes.NewBufferString(`{"messageId":"m-9"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("read ack for closed chat status = %d, want 409", resp.StatusCode)
	}
	_ = resp.Body.Close()

	// Close clears the current conversation.
	resp, err = client.Post("http://feira/v1/chats/close", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if snap := chats.Snapshot(); snap.Current != nil {
		t.Error("conversation still open after close")
	}
}

// TestSendWhileDisconnectedIsAccepted covers the offline send path: the
// control API accepts the message and the outbox holds it for later.
func TestSendWhileDisconnectedIsAccepted(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "feira-off-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	db, err := store.Open(filepath.Join(tmpDir, "feira.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	p := Params{SessionName: "off", SocketPath: socketPath}
	srv, err := NewServer(p, zap.NewNop(), api.NewSessionService("off", &fakeConn{state: status.Disconnected}, db), api.NewChatService(db, nil, nil), api.NewMessageService(db, nil), api.NewListingService(nil))
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())
	time.Sleep(50 * time.Millisecond)

	client := udsClient(socketPath)
	for i := 0; i < 3; i++ {
		body := bytes.NewBufferString(fmt.Sprintf(`{"content":"queued %d"}`, i))
		resp, err := client.Post("http://feira/v1/chats/c-9/messages", "application/json", body)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("send %d status = %d, want 202", i, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Errorf("outbox holds %d entries, want 3", len(pending))
	}
}
