package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gfreires/feira/internal/status"
	"go.uber.org/zap"
)

// fakeWire is an in-memory Wire fed by tests.
type fakeWire struct {
	inbound chan []byte

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newFakeWire() *fakeWire {
	return &fakeWire{inbound: make(chan []byte, 16)}
}

func (w *fakeWire) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-w.inbound:
		if !ok {
			return nil, errors.New("wire closed")
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *fakeWire) Write(_ context.Context, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("write on closed wire")
	}
	w.written = append(w.written, data)
	return nil
}

func (w *fakeWire) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.inbound)
	}
	return nil
}

func (w *fakeWire) push(t *testing.T, kind EventKind, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := json.Marshal(Envelope{Type: kind, Payload: data})
	if err != nil {
		t.Fatal(err)
	}
	w.inbound <- frame
}

func (w *fakeWire) sent() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]byte, len(w.written))
	copy(out, w.written)
	return out
}

// fakeDialer hands out fakeWires with the handshake frame pre-queued.
type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failNext int // number of upcoming dials that should fail
	gate     chan struct{}
	lastCred string
	wires    []*fakeWire
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, credential string) (Wire, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.lastCred = credential
	if d.failNext > 0 {
		d.failNext--
		return nil, errors.New("dial refused")
	}
	w := newFakeWire()
	handshake, _ := json.Marshal(ConnectedPayload{SessionID: fmt.Sprintf("sess-%d", d.dials), UserID: "me"})
	frame, _ := json.Marshal(Envelope{Type: EventConnected, Payload: handshake})
	w.inbound <- frame
	d.wires = append(d.wires, w)
	return w, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) wire(i int) *fakeWire {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wires[i]
}

func newTestManager(d Dialer) *Manager {
	return NewManager(Options{
		URL:         "wss://rt.test/ws",
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 3,
	}, d, status.NewMachine(nil), zap.NewNop())
}

func waitForState(t *testing.T, m *Manager, want status.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.State(), want)
}

func TestConnectHandshake(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)

	if err := m.Connect(context.Background(), "tok-1"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if m.State() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", m.State())
	}
	if m.SessionID() != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", m.SessionID())
	}
	if d.lastCred != "tok-1" {
		t.Errorf("credential = %q, want tok-1 (attached at dial time)", d.lastCred)
	}
}

func TestConnectIdempotent(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1 (already connected resolves immediately)", d.dialCount())
	}
}

func TestConnectSingleFlight(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m := newTestManager(d)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.Connect(context.Background(), "tok")
		}()
	}
	// All three are now either dialing or waiting on the shared attempt.
	time.Sleep(20 * time.Millisecond)
	close(d.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Connect[%d] error = %v", i, err)
		}
	}
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1 (concurrent connects share one attempt)", d.dialCount())
	}
}

func TestConnectFailureClearsInFlight(t *testing.T) {
	d := &fakeDialer{failNext: 1}
	m := newTestManager(d)

	if err := m.Connect(context.Background(), "tok"); err == nil {
		t.Fatal("Connect() should fail when dial is refused")
	}
	if m.State() != status.Error {
		t.Errorf("state = %s, want ERROR", m.State())
	}

	// A retry must start a fresh attempt rather than joining the failed one.
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("retry Connect() error = %v", err)
	}
	if m.State() != status.Connected {
		t.Errorf("state = %s, want CONNECTED after retry", m.State())
	}
	if d.dialCount() != 2 {
		t.Errorf("dials = %d, want 2", d.dialCount())
	}
}

func TestEmitWhileDisconnectedIsNoOp(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)

	if err := m.Emit(context.Background(), TypingStart("conv-1")); err != nil {
		t.Errorf("Emit while disconnected must no-op, got error %v", err)
	}
}

func TestEmitWritesCommand(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	if err := m.Emit(context.Background(), SendMessage("conv-1", "hi", "tmp-1")); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	sent := d.wire(0).sent()
	if len(sent) != 1 {
		t.Fatalf("frames written = %d, want 1", len(sent))
	}
	var cmd struct {
		Type    CommandKind `json:"type"`
		Payload sendCommand `json:"payload"`
	}
	if err := json.Unmarshal(sent[0], &cmd); err != nil {
		t.Fatal(err)
	}
	if cmd.Type != CmdSendMessage || cmd.Payload.TempID != "tmp-1" || cmd.Payload.Content != "hi" {
		t.Errorf("unexpected command on wire: %+v", cmd)
	}
}

func TestTypedDispatch(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	got := make(chan *MessagePayload, 1)
	m.On(EventNewMessage, func(evt Event) {
		got <- evt.Payload.(*MessagePayload)
	})

	d.wire(0).push(t, EventNewMessage, MessagePayload{
		ID:             "m1",
		ConversationID: "conv-1",
		SenderID:       "bob",
		Content:        "oi",
		SentAtUnixMs:   1700000000000,
	})

	select {
	case msg := <-got:
		if msg.ID != "m1" || msg.Content != "oi" {
			t.Errorf("payload = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for new_message dispatch")
	}
}

func TestOffRemovesHandler(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	calls := make(chan EventKind, 4)
	id := m.On(EventTypingStart, func(evt Event) { calls <- evt.Kind })
	m.On(EventTypingStop, func(evt Event) { calls <- evt.Kind })
	m.Off(EventTypingStart, id)

	d.wire(0).push(t, EventTypingStart, TypingPayload{ConversationID: "c", UserID: "u"})
	d.wire(0).push(t, EventTypingStop, TypingPayload{ConversationID: "c", UserID: "u"})

	select {
	case kind := <-calls:
		if kind != EventTypingStop {
			t.Errorf("removed handler still fired: %s", kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestStateObservers(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)

	var mu sync.Mutex
	var seen []status.State
	m.OnStateChange(func(s status.State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	want := []status.State{status.Connecting, status.Connected, status.Disconnected}
	if len(seen) != len(want) {
		t.Fatalf("observed states %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("state[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestDisconnectRemovesEventHandlers(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{}, 1)
	m.On(EventNewMessage, func(Event) { fired <- struct{}{} })
	m.Disconnect()

	// Reconnect-style connect reuses the manager; the old handler must be gone.
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	d.wire(1).push(t, EventNewMessage, MessagePayload{ID: "m1", ConversationID: "c"})

	select {
	case <-fired:
		t.Error("handler fired after Disconnect removed all listeners")
	case <-time.After(100 * time.Millisecond):
		// Expected.
	}
}

func TestAutoReconnectAfterDrop(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	// Simulate a transport drop.
	_ = d.wire(0).Close()

	waitForState(t, m, status.Connected)
	if d.dialCount() != 2 {
		t.Errorf("dials = %d, want 2 (one drop, one automatic redial)", d.dialCount())
	}
}

// TestReconnectExhaustionSettlesError verifies the bounded retry budget:
// once attempts run out the state rests at ERROR until an explicit
// Reconnect.
func TestReconnectExhaustionSettlesError(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	d.mu.Lock()
	d.failNext = 1 << 30 // every future dial fails
	d.mu.Unlock()
	_ = d.wire(0).Close()

	waitForState(t, m, status.Error)

	// Explicit reconnect with a working dialer recovers.
	d.mu.Lock()
	d.failNext = 0
	d.mu.Unlock()
	if err := m.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if m.State() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", m.State())
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)

	m.Disconnect()
	m.Disconnect()
	if m.State() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
}
