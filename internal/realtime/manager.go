package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gfreires/feira/internal/status"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Handler receives decoded inbound events. Handlers run synchronously on
// the read loop, so event order is preserved end to end.
type Handler func(Event)

// CredentialFunc supplies a fresh connection credential. Automatic
// reconnects call it so a token that expired mid-session does not wedge
// the retry loop.
type CredentialFunc func(ctx context.Context) (string, error)

// Options configures a Manager.
type Options struct {
	URL         string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Credentials CredentialFunc // optional; last explicit credential is reused when nil
}

// Manager owns at most one live realtime connection. It exposes typed
// event subscription, an outbound command surface with a not-connected
// guard, and a connection-state observer list kept separate from the
// event system so UI chrome can watch the lifecycle without knowing chat
// event types.
type Manager struct {
	opts    Options
	dialer  Dialer
	machine *status.Machine
	logger  *zap.Logger

	mu         sync.Mutex
	wire       Wire
	sessionID  string
	credential string
	pending    *connectAttempt
	readCancel context.CancelFunc
	dialCancel context.CancelFunc
	closed     bool // explicit Disconnect; suppresses auto-reconnect

	handlersMu sync.RWMutex
	handlers   map[EventKind]map[int]Handler
	nextID     int

	stateMu   sync.RWMutex
	stateSubs map[int]func(status.State)
	nextState int

	recon *reconnector
}

// connectAttempt is the shared outcome of an in-flight connect, so
// concurrent Connect calls collapse into one dial.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// NewManager creates a manager. The dialer is injected so tests can run
// against a fake wire.
func NewManager(opts Options, dialer Dialer, machine *status.Machine, logger *zap.Logger) *Manager {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	return &Manager{
		opts:      opts,
		dialer:    dialer,
		machine:   machine,
		logger:    logger,
		handlers:  make(map[EventKind]map[int]Handler),
		stateSubs: make(map[int]func(status.State)),
		recon:     newReconnector(opts.BaseDelay, opts.MaxDelay, opts.MaxAttempts),
	}
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// SessionID returns the server-assigned session id, or "" when not connected.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Connect establishes the connection. Idempotent: already connected
// resolves immediately; a connect already in flight shares its outcome.
// The credential is attached at dial time only.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.machine.Current() == status.Connected {
		m.mu.Unlock()
		return nil
	}
	if p := m.pending; p != nil {
		m.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p := &connectAttempt{done: make(chan struct{})}
	m.pending = p
	m.credential = credential
	m.closed = false
	m.mu.Unlock()

	err := m.dial(ctx, credential)
	if err != nil {
		m.transition(status.Error)
	}

	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	p.err = err
	close(p.done)
	return err
}

// Disconnect tears down the transport and removes all event listeners.
// State observers stay registered. Safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.teardown(true)
	m.transition(status.Disconnected)
}

// Reconnect tears down the transport (keeping event listeners, unlike
// Disconnect) and dials again. Used after an error surfaced to the user.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.teardown(false)
	m.transition(status.Disconnected)

	m.mu.Lock()
	credential := m.credential
	m.mu.Unlock()
	if m.opts.Credentials != nil {
		fresh, err := m.opts.Credentials(ctx)
		if err == nil {
			credential = fresh
		}
	}
	m.recon.reset()
	return m.Connect(ctx, credential)
}

// Emit sends a command if connected. While disconnected it logs and drops
// the command — never errors, never queues; the optimistic entry the
// caller holds stays in its sending/failed state. A write failure on a
// live wire is returned so the caller can mark its message failed.
func (m *Manager) Emit(ctx context.Context, cmd Command) error {
	m.mu.Lock()
	w := m.wire
	st := m.machine.Current()
	m.mu.Unlock()

	if st != status.Connected || w == nil {
		m.logger.Warn("command dropped: not connected",
			zap.String("command", string(cmd.Type)),
			zap.String("state", string(st)))
		return nil
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Type, err)
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := w.Write(wctx, data); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Type, err)
	}
	return nil
}

// On registers a handler for an event kind and returns its id for Off.
func (m *Manager) On(kind EventKind, h Handler) int {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.nextID++
	id := m.nextID
	if m.handlers[kind] == nil {
		m.handlers[kind] = make(map[int]Handler)
	}
	m.handlers[kind][id] = h
	return id
}

// Off removes one handler by id.
func (m *Manager) Off(kind EventKind, id int) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	delete(m.handlers[kind], id)
}

// OffAll removes every handler for an event kind.
func (m *Manager) OffAll(kind EventKind) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	delete(m.handlers, kind)
}

// OnStateChange registers a connection-state observer, notified on every
// lifecycle transition. Returns an id for OffStateChange.
func (m *Manager) OnStateChange(fn func(status.State)) int {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.nextState++
	id := m.nextState
	m.stateSubs[id] = fn
	return id
}

// OffStateChange removes a state observer.
func (m *Manager) OffStateChange(id int) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	delete(m.stateSubs, id)
}

// dial performs one connection attempt: transport dial, handshake, then
// read loop startup. It does not decide the failure state; callers do.
func (m *Manager) dial(ctx context.Context, credential string) error {
	if err := m.transition(status.Connecting); err != nil {
		return err
	}

	dialCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.dialCancel = cancel
	m.mu.Unlock()
	defer cancel()

	w, err := m.dialer.Dial(dialCtx, m.opts.URL, credential)
	if err != nil {
		return err
	}

	// First frame must be the connected handshake.
	hctx, hcancel := context.WithTimeout(dialCtx, handshakeTimeout)
	defer hcancel()
	data, err := w.Read(hctx)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("read handshake: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != EventConnected {
		_ = w.Close()
		return errors.New("handshake: expected connected event")
	}
	evt, err := decodeEvent(env)
	if err != nil {
		_ = w.Close()
		return err
	}
	connected := evt.Payload.(*ConnectedPayload)

	readCtx, readCancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.wire = w
	m.sessionID = connected.SessionID
	m.readCancel = readCancel
	m.dialCancel = nil
	m.mu.Unlock()

	if err := m.transition(status.Connected); err != nil {
		// A concurrent Disconnect won the race; drop this wire.
		readCancel()
		_ = w.Close()
		return err
	}
	m.recon.markConnected()
	m.logger.Info("realtime connected", zap.String("session_id", connected.SessionID))

	m.dispatch(evt)
	go m.readLoop(readCtx, w)
	return nil
}

func (m *Manager) readLoop(ctx context.Context, w Wire) {
	for {
		data, err := w.Read(ctx)
		if err != nil {
			m.handleReadError(err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.logger.Warn("malformed frame dropped", zap.Error(err))
			continue
		}
		evt, err := decodeEvent(env)
		if err != nil {
			m.logger.Warn("event dropped", zap.Error(err))
			continue
		}
		m.dispatch(evt)
	}
}

func (m *Manager) handleReadError(err error) {
	m.mu.Lock()
	closed := m.closed
	m.wire = nil
	m.sessionID = ""
	m.mu.Unlock()
	if closed {
		return
	}

	m.logger.Warn("realtime connection lost", zap.Error(err))
	m.transition(status.Reconnecting)
	go m.autoReconnect()
}

// autoReconnect retries with backoff until it succeeds, the budget runs
// out (state settles to Error, requiring explicit Reconnect), or an
// explicit Disconnect happens.
func (m *Manager) autoReconnect() {
	for m.recon.shouldRetry() {
		time.Sleep(m.recon.nextDelay())

		m.mu.Lock()
		if m.closed || m.pending != nil {
			m.mu.Unlock()
			return
		}
		credential := m.credential
		m.mu.Unlock()

		ctx := context.Background()
		if m.opts.Credentials != nil {
			if fresh, err := m.opts.Credentials(ctx); err == nil {
				credential = fresh
			}
		}

		err := m.dial(ctx, credential)
		if err == nil {
			return
		}
		m.logger.Warn("reconnect attempt failed", zap.Error(err), zap.Int("attempt", m.recon.attempt))
		_ = m.transition(status.Reconnecting)
	}
	m.logger.Error("reconnect attempts exhausted")
	m.transition(status.Error)
}

// teardown closes the transport and cancels loops. removeHandlers also
// clears the typed event subscriptions (Disconnect semantics).
func (m *Manager) teardown(removeHandlers bool) {
	m.mu.Lock()
	m.closed = true
	if m.readCancel != nil {
		m.readCancel()
		m.readCancel = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	w := m.wire
	m.wire = nil
	m.sessionID = ""
	m.mu.Unlock()

	if w != nil {
		_ = w.Close()
	}
	if removeHandlers {
		m.handlersMu.Lock()
		m.handlers = make(map[EventKind]map[int]Handler)
		m.handlersMu.Unlock()
	}
}

func (m *Manager) transition(to status.State) error {
	if m.machine.Current() == to {
		return nil
	}
	if err := m.machine.Transition(to); err != nil {
		return err
	}
	m.stateMu.RLock()
	subs := make([]func(status.State), 0, len(m.stateSubs))
	for _, fn := range m.stateSubs {
		subs = append(subs, fn)
	}
	m.stateMu.RUnlock()
	for _, fn := range subs {
		fn(to)
	}
	return nil
}

func (m *Manager) dispatch(evt Event) {
	m.handlersMu.RLock()
	hs := make([]Handler, 0, len(m.handlers[evt.Kind]))
	for _, h := range m.handlers[evt.Kind] {
		hs = append(hs, h)
	}
	m.handlersMu.RUnlock()
	for _, h := range hs {
		h(evt)
	}
}
