// Package busy implements the Busy-Block Table, used exclusively to
// serialize resync reads against in-flight application writes on the same
// sector: a resync read that would race a write instead waits for the
// write to finish.
package busy

import "sync"

type entry struct {
	sector int64
	done   chan struct{}
}

// Table is a short list of sectors currently being written by the
// application, each with a channel closed when the write completes.
type Table struct {
	mu      sync.Mutex
	entries []entry
}

// New creates an empty busy-block table.
func New() *Table {
	return &Table{}
}

// Insert records that sector is busy; Done(sector) later marks it done.
// The caller must hold no other lock that Done's callers might
// acquire, since Insert briefly takes the table's own lock.
func (t *Table) Insert(sector int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry{sector: sector, done: make(chan struct{})})
}

// Wait blocks until sector is no longer busy, or returns immediately if it
// never was. The lock is released before blocking.
func (t *Table) Wait(sector int64) {
	t.mu.Lock()
	var ch chan struct{}
	for i := range t.entries {
		if t.entries[i].sector == sector {
			ch = t.entries[i].done
			break
		}
	}
	t.mu.Unlock()

	if ch != nil {
		<-ch
	}
}

// IsBusy reports whether sector currently has an in-flight entry, without
// blocking.
func (t *Table) IsBusy(sector int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].sector == sector {
			return true
		}
	}
	return false
}

// Done signals and removes the first entry matching sector.
func (t *Table) Done(sector int64) {
	t.mu.Lock()
	var ch chan struct{}
	for i := range t.entries {
		if t.entries[i].sector == sector {
			ch = t.entries[i].done
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	if ch != nil {
		close(ch)
	}
}

// Len returns the current number of busy entries, for diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
