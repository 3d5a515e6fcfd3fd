package orchestrator

import (
	"errors"
	"fmt"
	"sync"
)

// State is a client-side handshake state.
type State string

const (
	StateCreated            State = "created"
	StateAwaitingApproval   State = "awaitingApproval"
	StateApproved           State = "approved"
	StateAwaitingCompletion State = "awaitingCompletion"
	StateCompleted          State = "completed"
	StateCancelled          State = "cancelled"
	StateFailed             State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

var ErrInvalidTransition = errors.New("invalid payment state transition")

// transitions lists the forward edges. Cancel and Fail are allowed from every
// non-terminal state and are handled separately.
var transitions = map[State]State{
	StateCreated:            StateAwaitingApproval,
	StateAwaitingApproval:   StateApproved,
	StateApproved:           StateAwaitingCompletion,
	StateAwaitingCompletion: StateCompleted,
}

// Machine tracks one payment handshake. It is safe for concurrent use since
// the gateway may deliver a cancellation while a phase is still running.
type Machine struct {
	mu        sync.Mutex
	state     State
	paymentID string
}

func NewMachine() *Machine {
	return &Machine{state: StateCreated}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) PaymentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paymentID
}

// RequestApproval binds the machine to the gateway-assigned payment id.
func (m *Machine) RequestApproval(paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.advance(StateCreated); err != nil {
		return err
	}
	m.paymentID = paymentID
	return nil
}

func (m *Machine) Approve() error { return m.step(StateAwaitingApproval) }

// RequestCompletion refuses a payment id other than the one being approved.
func (m *Machine) RequestCompletion(paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paymentID != paymentID {
		return fmt.Errorf("%w: completion for %q while handling %q", ErrInvalidTransition, paymentID, m.paymentID)
	}
	return m.advance(StateApproved)
}

func (m *Machine) Complete() error { return m.step(StateAwaitingCompletion) }

func (m *Machine) Cancel() error { return m.end(StateCancelled) }

func (m *Machine) Fail() error { return m.end(StateFailed) }

func (m *Machine) step(from State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advance(from)
}

// advance must be called with mu held.
func (m *Machine) advance(from State) error {
	if m.state != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, transitions[from])
	}
	m.state = transitions[from]
	return nil
}

func (m *Machine) end(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	return nil
}
