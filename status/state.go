// Package status tracks the lifecycle of the realtime connection.
package status

import (
	"fmt"
	"slices"
	"sync"
)

// State is a connection lifecycle state.
type State string

const (
	// Disconnected means no live connection exists.
	Disconnected State = "DISCONNECTED"
	// Connecting means a handshake is in flight.
	Connecting State = "CONNECTING"
	// Connected means the live channel is up and usable.
	Connected State = "CONNECTED"
	// Suspended means the attempt budget is exhausted; only a manual
	// reconnect restarts the cycle.
	Suspended State = "SUSPENDED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Suspended},
	Connecting:   {Connected, Disconnected, Suspended},
	Connected:    {Disconnected},
	Suspended:    {Connecting},
}

// ChangeFunc is invoked after every successful transition. It runs while the
// machine lock is held; keep it short and non-reentrant.
type ChangeFunc func(from, to State)

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu       sync.RWMutex
	current  State
	onChange ChangeFunc
}

// NewMachine creates a machine starting in Disconnected state. onChange may
// be nil.
func NewMachine(onChange ChangeFunc) *Machine {
	return &Machine{
		current:  Disconnected,
		onChange: onChange,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in the given state.
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid; transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}
