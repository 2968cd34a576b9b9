package status

import (
	"testing"

	"github.com/matheus3301/gigline/internal/bus"
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
		{Connecting, ClosedWithError},
		{Connected, ClosedWithError},
		{ClosedWithError, Connecting},
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

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connected},
		{Disconnected, ClosedWithError},
		{Connected, Connecting},
		{ClosedWithError, Connected},
		{Connecting, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want unchanged %s", m.Current(), tt.from)
			}
		})
	}
}

// TestNoImplicitReconnect verifies a dropped channel cannot jump back to
// CONNECTED; the only way forward is an explicit open through CONNECTING.
func TestNoImplicitReconnect(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, ClosedWithError)

	if err := m.Transition(Connected); err == nil {
		t.Fatal("CLOSED_WITH_ERROR -> CONNECTED should fail")
	}
	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("CLOSED_WITH_ERROR -> CONNECTING: %v", err)
	}
	if err := m.Transition(Connected); err != nil {
		t.Fatalf("CONNECTING -> CONNECTED: %v", err)
	}
}

func TestResetFromAnyState(t *testing.T) {
	for _, s := range []State{Connecting, Connected, ClosedWithError} {
		t.Run(string(s), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, s)
			if !m.Reset() {
				t.Error("Reset() = false, want true")
			}
			if m.Current() != Disconnected {
				t.Errorf("state = %s, want DISCONNECTED", m.Current())
			}
		})
	}

	m := NewMachine(nil)
	if m.Reset() {
		t.Error("Reset() from DISCONNECTED = true, want false")
	}
}

func TestTransitionFrom(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	if m.TransitionFrom(Connecting, ClosedWithError) {
		t.Error("TransitionFrom(CONNECTING, ...) succeeded while CONNECTED")
	}
	if !m.TransitionFrom(Connected, ClosedWithError) {
		t.Error("TransitionFrom(CONNECTED, CLOSED_WITH_ERROR) failed")
	}
	if m.Current() != ClosedWithError {
		t.Errorf("state = %s, want CLOSED_WITH_ERROR", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("channel.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	m.Reset()

	evt := <-ch
	if evt.Kind != bus.ChannelStateChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.ChannelStateChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}

	evt = <-ch
	change = evt.Payload.(StatusChange)
	if change.From != Connecting || change.To != Disconnected {
		t.Errorf("change = %v -> %v, want CONNECTING -> DISCONNECTED", change.From, change.To)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected:    {},
		Connecting:      {Connecting},
		Connected:       {Connecting, Connected},
		ClosedWithError: {Connecting, ClosedWithError},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
