package status

import (
	"testing"

	"github.com/gfreires/feira/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Connected},
		{Connecting, Error},
		{Connecting, Disconnected},
		{Connecting, Reconnecting},
		{Connected, Reconnecting},
		{Connected, Disconnected},
		{Reconnecting, Connecting},
		{Reconnecting, Connected},
		{Reconnecting, Error},
		{Error, Connecting},
		{Error, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(DISCONNECTED -> CONNECTED) should fail; must dial first")
	}
	if err := m.Transition(Reconnecting); err == nil {
		t.Error("Transition(DISCONNECTED -> RECONNECTING) should fail")
	}
}

func TestSelfTransitionIsNoOp(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Disconnected); err != nil {
		t.Fatalf("self-transition should be a no-op, got %v", err)
	}

	select {
	case evt := <-ch:
		t.Errorf("self-transition published event: %v", evt)
	default:
		// Expected: nothing published.
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}
}

// TestErrorRequiresExplicitRecovery verifies that once the connection
// settles in ERROR (retries exhausted), the only ways out are an explicit
// reconnect (CONNECTING) or a disconnect — never straight to CONNECTED.
func TestErrorRequiresExplicitRecovery(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Error)

	if err := m.Transition(Connected); err == nil {
		t.Fatal("Transition(ERROR -> CONNECTED) should fail")
	}
	if m.Current() != Error {
		t.Errorf("state = %s, want ERROR (should not have changed)", m.Current())
	}

	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("ERROR -> CONNECTING: %v", err)
	}
	if err := m.Transition(Connected); err != nil {
		t.Fatalf("CONNECTING -> CONNECTED: %v", err)
	}
}

// TestDropReconnectCycle simulates a transport drop followed by a
// successful automatic reconnect:
// CONNECTED → RECONNECTING → CONNECTING → CONNECTED
func TestDropReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	steps := []State{Reconnecting, Connecting, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Connected {
		t.Errorf("final state = %s, want CONNECTED", m.Current())
	}
}

// TestRetriesExhausted simulates the reconnector giving up:
// CONNECTED → RECONNECTING → ERROR
func TestRetriesExhausted(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	steps := []State{Reconnecting, Error}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Error {
		t.Errorf("final state = %s, want ERROR", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected: {},
		Connecting:   {Connecting},
		Connected:    {Connecting, Connected},
		Reconnecting: {Connecting, Connected, Reconnecting},
		Error:        {Connecting, Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
