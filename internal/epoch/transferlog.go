package epoch

import (
	"errors"
	"sync"
)

// ErrEpochMismatch reports a barrier-ack whose set_size does not match the
// named epoch's recorded count: a wire-level consistency violation, fatal
// to the connection.
var ErrEpochMismatch = errors.New("epoch: barrier-ack set_size does not match epoch count")

// ErrNotOldestEpoch reports a Release naming an epoch other than the
// oldest in the chain.
var ErrNotOldestEpoch = errors.New("epoch: released epoch is not the oldest")

// request is one TL-tracked write, identified by sector and blockID; the
// epoch it belongs to is the one whose requests slice holds it.
type request struct {
	sector  int64
	size    int64
	blockID uint64
}

// epochNode is one link in the transfer log's epoch chain.
type epochNode struct {
	barrierNr uint32
	requests  []request
	closed    bool // true once a barrier has been issued for this epoch
	next      *epochNode
	prev      *epochNode
}

// TransferLog is the doubly-linked chain of epochs from oldest to newest,
// used to place write-ordering barriers and to answer resync
// anti-collision queries (CheckSector).
type TransferLog struct {
	mu        sync.Mutex
	oldest    *epochNode
	newest    *epochNode
	nextBarrier uint32

	// barrierPending is true from the moment a barrier is opened until its
	// ack is released, so at most one barrier is ever outstanding.
	barrierPending bool
}

// NewTransferLog creates an empty transfer log with one open epoch.
func NewTransferLog() *TransferLog {
	tl := &TransferLog{}
	tl.oldest = &epochNode{barrierNr: 0}
	tl.newest = tl.oldest
	tl.nextBarrier = 1
	return tl
}

// Append attaches a write to the newest epoch; Dependence later removes it
// by sector and blockID. Append never opens an epoch: OpenBarrier does.
func (tl *TransferLog) Append(sector, size int64, blockID uint64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.newest.requests = append(tl.newest.requests, request{sector: sector, size: size, blockID: blockID})
}

// NeedsBarrier reports whether an application write arriving now should
// raise an implicit barrier: the newest epoch is non-empty, not already
// closed, and the previous barrier (if any) has been acked. That last
// condition keeps at most one barrier outstanding at a time: writes that
// arrive while a barrier is still awaiting its ack keep coalescing into
// the current epoch instead of forcing a new one open underneath it.
func (tl *TransferLog) NeedsBarrier() bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.newest.requests) > 0 && !tl.newest.closed && !tl.barrierPending
}

// OpenBarrier closes the newest epoch (marking it awaiting ack) and opens
// a fresh one, returning the barrier number assigned to the closed epoch.
func (tl *TransferLog) OpenBarrier() uint32 {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	barrierNr := tl.nextBarrier
	tl.nextBarrier++

	tl.newest.barrierNr = barrierNr
	tl.newest.closed = true
	tl.barrierPending = true

	next := &epochNode{prev: tl.newest}
	tl.newest.next = next
	tl.newest = next

	return barrierNr
}

// CheckSector scans every epoch for an in-flight request overlapping
// [sector, sector+size), used by the resync engine to defer a read that
// would race an in-flight application write.
func (tl *TransferLog) CheckSector(sector, size int64) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	for e := tl.oldest; e != nil; e = e.next {
		for _, r := range e.requests {
			if overlaps(r.sector, r.size, sector, size) {
				return true
			}
		}
	}
	return false
}

func overlaps(aSector, aSize, bSector, bSize int64) bool {
	aEnd := aSector + aSize
	bEnd := bSector + bSize
	return aSector < bEnd && bSector < aEnd
}

// Dependence removes a single in-flight write (matched by sector/blockID)
// from its epoch. If that epoch is closed and now empty, it is unlinked
// from the chain.
func (tl *TransferLog) Dependence(sector int64, blockID uint64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	for e := tl.oldest; e != nil; e = e.next {
		for i, r := range e.requests {
			if r.sector == sector && r.blockID == blockID {
				e.requests = append(e.requests[:i], e.requests[i+1:]...)
				if e.closed && len(e.requests) == 0 && e != tl.newest {
					tl.unlinkLocked(e)
				}
				return
			}
		}
	}
}

func (tl *TransferLog) unlinkLocked(e *epochNode) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		tl.oldest = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
}

// Release is invoked on receipt of a remote barrier-ack for barrierNr. It
// verifies the named epoch is the oldest in the chain and that setSize
// matches its recorded request count, then frees it.
func (tl *TransferLog) Release(barrierNr uint32, setSize uint32) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.oldest.barrierNr != barrierNr {
		return ErrNotOldestEpoch
	}
	if uint32(len(tl.oldest.requests)) != setSize {
		return ErrEpochMismatch
	}

	if tl.oldest.next != nil {
		tl.oldest = tl.oldest.next
		tl.oldest.prev = nil
	}
	tl.barrierPending = false
	return nil
}

// Clear drops all pending requests on connection loss. Requests remain
// owned by the upper layer, which is responsible for retrying them once
// reconnected.
func (tl *TransferLog) Clear() {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.oldest = &epochNode{barrierNr: 0}
	tl.newest = tl.oldest
	tl.nextBarrier = 1
	tl.barrierPending = false
}

// PendingCount returns the total number of in-flight requests across every
// epoch, for diagnostics.
func (tl *TransferLog) PendingCount() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	total := 0
	for e := tl.oldest; e != nil; e = e.next {
		total += len(e.requests)
	}
	return total
}

// CheckInvariant verifies the chain is well-formed: newest is reachable
// from oldest through next links, and each next link's prev points back.
// It does not check the epochs' closed flags.
func (tl *TransferLog) CheckInvariant() bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	seen := tl.oldest
	for seen != nil && seen != tl.newest {
		if seen.next == nil {
			return false
		}
		if seen.next.prev != seen {
			return false
		}
		seen = seen.next
	}
	return seen == tl.newest
}
