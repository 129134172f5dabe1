// Package worker implements the three long-running workers that drive a
// connection: Receiver (reads framed packets off the data socket),
// DiskSender (drains completed I/O and emits frames/resync traffic), and
// AckSender (heartbeats and short control frames over the meta socket).
// Each follows the teacher's runner shape: a Config struct, NewX(ctx,
// Config), Start/Stop/Close, and cooperative cancellation via
// context.Context.
package worker

import "sync"

// RunState tracks a worker's lifecycle, mirroring the teacher's per-tag
// state machine generalized to a whole worker instead of one I/O tag.
type RunState int

const (
	// Running: the worker's I/O loop is active.
	Running RunState = iota
	// Exiting: Stop has been called; the loop is unwinding.
	Exiting
	// Restarting: the loop exited on an error and is being recreated
	// against a fresh connection.
	Restarting
)

func (s RunState) String() string {
	switch s {
	case Running:
		return "running"
	case Exiting:
		return "exiting"
	case Restarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// runStateBox is embedded by each worker to provide a mutex-guarded
// RunState without repeating the boilerplate three times.
type runStateBox struct {
	mu    sync.Mutex
	state RunState
}

func (b *runStateBox) set(s RunState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *runStateBox) get() RunState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
