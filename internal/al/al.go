// Package al implements the Activity Log: a fixed-capacity LRU of hot
// extents that bounds how much of the volume must be resynced after an
// unclean shutdown. Extents are held in an index-stable arena so both the
// LRU chain and the sector-to-extent hash chain can reference slots by
// index rather than pointer.
package al

import (
	"sync"

	"github.com/drbdgo/drbd/internal/constants"
)

const nilSlot = -1

// extent is one arena slot. next/prev form the LRU chain (mruSlot..lruSlot);
// hashNext chains slots that hash to the same bucket.
type extent struct {
	number   int64 // extent number, -1 if the slot is vacant
	pending  int32 // in-flight I/O count; an extent with pending>0 cannot be evicted
	next     int
	prev     int
	hashNext int
}

// Transaction describes one on-disk AL transaction entry, recording an
// admission and the extent it evicted (EvictedExtent is -1 when a free
// slot was used), so a crash can recover which extents were hot.
type Transaction struct {
	EvictedExtent int64
	NewExtent     int64
}

// TransactionWriter persists AL transactions. DiskTransactionWriter
// satisfies it by writing to a reserved region of the volume; Persist is called with the AL's lock held, so implementations
// must not block indefinitely.
type TransactionWriter interface {
	Persist(tx Transaction) error
}

// NoOpWriter discards transactions, used in tests and for volumes that
// accept unbounded resync on crash.
type NoOpWriter struct{}

// Persist implements TransactionWriter.
func (NoOpWriter) Persist(Transaction) error { return nil }

// Log is the activity log itself.
type Log struct {
	mu sync.Mutex

	extentSize int64
	capacity   int
	extents    []extent
	buckets    []int // sector-hash -> arena slot, or nilSlot

	mruSlot int
	lruSlot int
	free    []int // free slot indices

	writer TransactionWriter
}

// New creates an activity log with the given capacity (number of resident
// extents) and extent size in bytes. A nil writer discards transactions.
func New(capacity int, extentSize int64, writer TransactionWriter) *Log {
	if capacity <= 0 {
		capacity = constants.DefaultALExtents
	}
	if extentSize <= 0 {
		extentSize = constants.ALExtentSize
	}
	if writer == nil {
		writer = NoOpWriter{}
	}

	l := &Log{
		extentSize: extentSize,
		capacity:   capacity,
		extents:    make([]extent, capacity),
		buckets:    make([]int, capacity),
		mruSlot:    nilSlot,
		lruSlot:    nilSlot,
		free:       make([]int, capacity),
		writer:     writer,
	}
	for i := range l.extents {
		l.extents[i] = extent{number: -1, next: nilSlot, prev: nilSlot, hashNext: nilSlot}
		l.free[i] = capacity - 1 - i
	}
	for i := range l.buckets {
		l.buckets[i] = nilSlot
	}
	return l
}

func (l *Log) bucket(number int64) int {
	return int(uint64(number) % uint64(l.capacity))
}

func (l *Log) findLocked(number int64) int {
	slot := l.buckets[l.bucket(number)]
	for slot != nilSlot {
		if l.extents[slot].number == number {
			return slot
		}
		slot = l.extents[slot].hashNext
	}
	return nilSlot
}

func (l *Log) insertHashLocked(slot int) {
	b := l.bucket(l.extents[slot].number)
	l.extents[slot].hashNext = l.buckets[b]
	l.buckets[b] = slot
}

func (l *Log) removeHashLocked(slot int) {
	b := l.bucket(l.extents[slot].number)
	cur := l.buckets[b]
	if cur == slot {
		l.buckets[b] = l.extents[slot].hashNext
		return
	}
	for cur != nilSlot {
		next := l.extents[cur].hashNext
		if next == slot {
			l.extents[cur].hashNext = l.extents[slot].hashNext
			return
		}
		cur = next
	}
}

func (l *Log) unlinkLRULocked(slot int) {
	e := &l.extents[slot]
	if e.prev != nilSlot {
		l.extents[e.prev].next = e.next
	} else {
		l.mruSlot = e.next
	}
	if e.next != nilSlot {
		l.extents[e.next].prev = e.prev
	} else {
		l.lruSlot = e.prev
	}
	e.next, e.prev = nilSlot, nilSlot
}

func (l *Log) pushMRULocked(slot int) {
	e := &l.extents[slot]
	e.prev = nilSlot
	e.next = l.mruSlot
	if l.mruSlot != nilSlot {
		l.extents[l.mruSlot].prev = slot
	}
	l.mruSlot = slot
	if l.lruSlot == nilSlot {
		l.lruSlot = slot
	}
}

// BeginIO maps sector to its extent, promoting it to most-recently-used. If
// the extent was not already resident, it takes a free slot if one exists,
// otherwise the least-recently-used extent with a zero pending count is
// evicted; either way a transaction is persisted to the on-disk log before
// the new extent is admitted. Returns WouldBlock if no slot is free and
// every resident extent has pending I/O.
func (l *Log) BeginIO(sector int64) error {
	number := sector * constants.SectorSize / l.extentSize

	l.mu.Lock()
	defer l.mu.Unlock()

	if slot := l.findLocked(number); slot != nilSlot {
		l.extents[slot].pending++
		if slot != l.mruSlot {
			l.unlinkLRULocked(slot)
			l.pushMRULocked(slot)
		}
		return nil
	}

	slot, evicted, err := l.admitLocked(number)
	if err != nil {
		return err
	}
	_ = evicted
	l.extents[slot].pending++
	return nil
}

// admitLocked finds a slot for a new extent number, evicting the LRU
// extent if necessary, and returns the slot and the evicted extent number
// (-1 if none was evicted). Every admission - not just an eviction - is
// persisted first, so a replay of the transaction log can reconstruct the
// full resident set as of the last transaction, not just the evictions.
func (l *Log) admitLocked(number int64) (slot int, evicted int64, err error) {
	if len(l.free) > 0 {
		slot = l.free[len(l.free)-1]
		if err := l.writer.Persist(Transaction{EvictedExtent: -1, NewExtent: number}); err != nil {
			return 0, -1, err
		}
		l.free = l.free[:len(l.free)-1]
		l.extents[slot] = extent{number: number, next: nilSlot, prev: nilSlot, hashNext: nilSlot}
		l.insertHashLocked(slot)
		l.pushMRULocked(slot)
		return slot, -1, nil
	}

	cur := l.lruSlot
	for cur != nilSlot {
		if l.extents[cur].pending == 0 {
			break
		}
		cur = l.extents[cur].prev
	}
	if cur == nilSlot {
		return 0, -1, ErrWouldBlock
	}

	evicted = l.extents[cur].number
	if err := l.writer.Persist(Transaction{EvictedExtent: evicted, NewExtent: number}); err != nil {
		return 0, -1, err
	}

	l.removeHashLocked(cur)
	l.unlinkLRULocked(cur)
	l.extents[cur] = extent{number: number, next: nilSlot, prev: nilSlot, hashNext: nilSlot}
	l.insertHashLocked(cur)
	l.pushMRULocked(cur)
	return cur, evicted, nil
}

// CompleteIO decrements the pending counter for sector's extent.
func (l *Log) CompleteIO(sector int64) {
	number := sector * constants.SectorSize / l.extentSize

	l.mu.Lock()
	defer l.mu.Unlock()

	if slot := l.findLocked(number); slot != nilSlot && l.extents[slot].pending > 0 {
		l.extents[slot].pending--
	}
}

// IsResident reports whether sector's extent currently holds a slot.
func (l *Log) IsResident(sector int64) bool {
	number := sector * constants.SectorSize / l.extentSize

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.findLocked(number) != nilSlot
}

// Resident returns the number of extent slots currently occupied.
func (l *Log) Resident() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity - len(l.free)
}

// Capacity returns the fixed number of extent slots.
func (l *Log) Capacity() int {
	return l.capacity
}
