package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/gigline/internal/bus"
)

// State is the lifecycle state of the persistent messaging channel.
type State string

const (
	Disconnected    State = "DISCONNECTED"
	Connecting      State = "CONNECTING"
	Connected       State = "CONNECTED"
	ClosedWithError State = "CLOSED_WITH_ERROR"
)

// validTransitions defines allowed state transitions. Nothing leads back to
// Connecting except an explicit open; an explicit close reaches Disconnected
// from anywhere and is handled separately in Reset.
var validTransitions = map[State][]State{
	Disconnected:    {Connecting},
	Connecting:      {Connected, ClosedWithError},
	Connected:       {ClosedWithError},
	ClosedWithError: {Connecting},
}

// Machine tracks and enforces channel state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.set(to)
	return nil
}

// TransitionFrom moves to `to` only if the machine is currently in `from`.
// It reports whether the transition happened. Used where a concurrent Close
// may already have moved the machine on.
func (m *Machine) TransitionFrom(from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != from || !slices.Contains(validTransitions[from], to) {
		return false
	}
	m.set(to)
	return true
}

// Reset moves to Disconnected from any state. It reports whether the state changed.
func (m *Machine) Reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == Disconnected {
		return false
	}
	m.set(Disconnected)
	return true
}

// set must be called with mu held.
func (m *Machine) set(to State) {
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.ChannelStateChanged, StatusChange{From: from, To: to})
	}
}

// StatusChange is the payload for channel state change events.
type StatusChange struct {
	From State
	To   State
}
