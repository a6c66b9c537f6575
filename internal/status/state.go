package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lfcamargo/wadash/internal/bus"
)

// State represents a connection lifecycle state.
type State string

const (
	// Uninitialized is the resting state: no adapter, no session.
	Uninitialized State = "UNINITIALIZED"
	// Connecting covers session bring-up, including waiting for pairing.
	Connecting State = "CONNECTING"
	// Paired means an authenticated session is open.
	Paired State = "PAIRED"
	// Closing is a transient teardown state entered by force reset.
	Closing State = "CLOSING"
)

// validTransitions defines the allowed lifecycle transitions.
var validTransitions = map[State][]State{
	Uninitialized: {Connecting, Closing},
	Connecting:    {Paired, Uninitialized, Closing},
	Paired:        {Uninitialized, Closing},
	Closing:       {Connecting, Uninitialized},
}

// Public is the tri-state surfaced to dashboard clients.
type Public string

const (
	PublicConnecting   Public = "connecting"
	PublicConnected    Public = "connected"
	PublicDisconnected Public = "disconnected"
)

// ToPublic collapses an internal state into the UI-facing tri-state. The UI
// never sees Closing or raw fault detail, only the resulting tri-state.
func (s State) ToPublic() Public {
	switch s {
	case Connecting:
		return PublicConnecting
	case Paired:
		return PublicConnected
	default:
		return PublicDisconnected
	}
}

// Machine tracks and enforces lifecycle state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Uninitialized.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Uninitialized,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not in the table; state is unchanged on error.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.status_changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
