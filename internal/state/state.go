// Package state implements the Connection State Machine: an enumerated
// connection state with a single setter that broadcasts to anyone waiting
// on a transition, generalizing the teacher's pattern of deriving status
// from context cancellation plus explicit fields into a full state enum
// with its own wait-set.
package state

import "sync"

// ConnState is one state in the connection's lifecycle.
type ConnState int

const (
	// Standalone: no peer configured, or peer has been permanently detached.
	Standalone ConnState = iota
	// Unconnected: a peer is configured but no connection attempt is active.
	Unconnected
	// WFConnection: waiting for a TCP connection (dialing or listening).
	WFConnection
	// WFReportParams: connected, waiting for the peer's parameter packet.
	WFReportParams
	// Connected: handshake complete, both sides in sync.
	Connected
	// SyncingAll: resync in progress, full-volume scan.
	SyncingAll
	// SyncingQuick: resync in progress, bitmap-driven partial scan.
	SyncingQuick
	// SyncSource: this side is the resync source.
	SyncSource
	// SyncTarget: this side is the resync target.
	SyncTarget
	// Timeout: an outstanding ack was not answered in time.
	Timeout
	// BrokenPipe: the socket was closed or reset.
	BrokenPipe
	// NetworkFailure: a lower-level network error tore down the connection.
	NetworkFailure
)

func (s ConnState) String() string {
	switch s {
	case Standalone:
		return "Standalone"
	case Unconnected:
		return "Unconnected"
	case WFConnection:
		return "WFConnection"
	case WFReportParams:
		return "WFReportParams"
	case Connected:
		return "Connected"
	case SyncingAll:
		return "SyncingAll"
	case SyncingQuick:
		return "SyncingQuick"
	case SyncSource:
		return "SyncSource"
	case SyncTarget:
		return "SyncTarget"
	case Timeout:
		return "Timeout"
	case BrokenPipe:
		return "BrokenPipe"
	case NetworkFailure:
		return "NetworkFailure"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is one of the teardown-triggering states
// that force a return to Unconnected.
func (s ConnState) IsTerminal() bool {
	return s == Timeout || s == BrokenPipe || s == NetworkFailure
}

// Machine holds the current connection state behind a mutex, and lets
// callers wait for a transition via a broadcast channel that is replaced
// on every Set.
type Machine struct {
	mu      sync.Mutex
	current ConnState
	waitCh  chan struct{}
}

// New creates a Machine starting in Standalone.
func New() *Machine {
	return &Machine{current: Standalone, waitCh: make(chan struct{})}
}

// Current returns the current state.
func (m *Machine) Current() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set transitions to next and broadcasts the change to every waiter.
func (m *Machine) Set(next ConnState) {
	m.mu.Lock()
	m.current = next
	ch := m.waitCh
	m.waitCh = make(chan struct{})
	m.mu.Unlock()

	close(ch)
}

// Wait blocks until the state differs from the state observed at call
// time, then returns the new state.
func (m *Machine) Wait() ConnState {
	m.mu.Lock()
	prev := m.current
	ch := m.waitCh
	m.mu.Unlock()

	for {
		<-ch
		m.mu.Lock()
		cur := m.current
		newCh := m.waitCh
		m.mu.Unlock()

		if cur != prev {
			return cur
		}
		ch = newCh
	}
}

// WaitFor blocks until the state equals target, returning immediately if
// it already does.
func (m *Machine) WaitFor(target ConnState) {
	for {
		m.mu.Lock()
		cur := m.current
		ch := m.waitCh
		m.mu.Unlock()

		if cur == target {
			return
		}
		<-ch
	}
}
