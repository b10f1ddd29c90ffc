// Package connstate implements the per-connection handshake state
// machine (spec.md §4.D): AwaitingInit -> Acknowledging -> Acknowledged,
// with Closed terminal from any state.
package connstate

import "sync"

type State int

const (
	AwaitingInit State = iota
	Acknowledging
	Acknowledged
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingInit:
		return "awaiting_init"
	case Acknowledging:
		return "acknowledging"
	case Acknowledged:
		return "acknowledged"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Machine guards the handshake transitions with a mutex; it holds no
// socket or timer references of its own — those are owned by the
// orchestrator and keep-alive driver.
type Machine struct {
	mu    sync.Mutex
	state State
}

func New() *Machine {
	return &Machine{state: AwaitingInit}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BeginInit attempts the AwaitingInit -> Acknowledging transition. It
// returns false if a connection_init has already been accepted for
// processing (pending or acknowledged) — the caller must then close
// with 4429 Too Many Initialisation Requests — or if the connection is
// already closed.
func (m *Machine) BeginInit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != AwaitingInit {
		return false
	}
	m.state = Acknowledging
	return true
}

// Acknowledge completes the handshake: Acknowledging -> Acknowledged.
func (m *Machine) Acknowledge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Acknowledging {
		m.state = Acknowledged
	}
}

// ExpireInit transitions AwaitingInit -> Closed and reports whether it
// did so. Used by the init-wait timer: if the handshake has already
// progressed past AwaitingInit by the time the timer fires, the timer
// is a no-op.
func (m *Machine) ExpireInit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == AwaitingInit {
		m.state = Closed
		return true
	}
	return false
}

// Close transitions unconditionally to Closed. Idempotent.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Closed
}

// Acknowledged reports whether connection_ack has been sent.
func (m *Machine) Acknowledged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Acknowledged
}

// IsClosed reports whether the connection has been torn down.
func (m *Machine) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Closed
}
