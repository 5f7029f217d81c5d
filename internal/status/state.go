package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/creativecareer/ccai/internal/bus"
)

// State is the lifecycle state of the live connection.
type State string

const (
	Idle       State = "IDLE"
	Connecting State = "CONNECTING"
	Online     State = "ONLINE"
	Offline    State = "OFFLINE"
	Closed     State = "CLOSED"
)

// KindStatusChanged is published on the bus for every transition.
const KindStatusChanged = "conn.status_changed"

var validTransitions = map[State][]State{
	Idle:       {Connecting, Closed},
	Connecting: {Online, Offline, Closed},
	Online:     {Connecting, Offline, Closed},
	Offline:    {Connecting, Closed},
	Closed:     {Connecting},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in the Idle state. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state or returns an error if the move is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      KindStatusChanged,
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}

// StatusChange is the payload of KindStatusChanged.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
