package fsm

import (
	"fmt"
	"sync"
)

// State describes where an overlay session is in its lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StateConnecting      State = "connecting"
	StateAwaitingReady   State = "awaiting_ready"
	StateAuthorizing     State = "authorizing"
	StateExchangingToken State = "exchanging_token"
	StateAuthenticating  State = "authenticating"
	StateReady           State = "ready"
	StateClosed          State = "closed"
)

var transitions = map[State][]State{
	StateIdle:            {StateConnecting},
	StateConnecting:      {StateAwaitingReady},
	StateAwaitingReady:   {StateAuthorizing},
	StateAuthorizing:     {StateExchangingToken},
	StateExchangingToken: {StateAuthenticating},
	StateAuthenticating:  {StateReady},
}

// Machine is a small deterministic session state machine. Every state may
// move to StateClosed; StateClosed is terminal.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// New creates a machine in StateIdle.
func New() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnDial marks the socket dial as started.
func (m *Machine) OnDial() error {
	return m.advance(StateConnecting)
}

// OnConnected marks the socket open and waiting for the ready frame.
func (m *Machine) OnConnected() error {
	return m.advance(StateAwaitingReady)
}

// OnReadyFrame marks the ready frame received; authorization begins.
func (m *Machine) OnReadyFrame() error {
	return m.advance(StateAuthorizing)
}

// OnAuthorized marks the authorization code received.
func (m *Machine) OnAuthorized() error {
	return m.advance(StateExchangingToken)
}

// OnToken marks the access token obtained.
func (m *Machine) OnToken() error {
	return m.advance(StateAuthenticating)
}

// OnAuthenticated marks the session usable.
func (m *Machine) OnAuthenticated() error {
	return m.advance(StateReady)
}

// Close moves to StateClosed and reports whether this call did so.
func (m *Machine) Close() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return false
	}
	m.state = StateClosed
	return true
}

func (m *Machine) advance(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid transition: %s -> %s", m.state, next)
}
