package al

import (
	"encoding/binary"
	"sort"
	"sync"
)

// txMagic tags a written ring slot so Replay can tell a real transaction
// from a slot that was never written (a zeroed backing device).
const txMagic uint32 = 0x41544c47 // "ATLG"

// txRecordSize is the fixed on-disk size of one transaction slot: magic(4)
// + seq(8) + evicted extent(8) + new extent(8).
const txRecordSize = 28

// Backend is the fixed-offset read/write surface a DiskTransactionWriter
// needs, decoupled from the root package to avoid an import cycle.
type Backend interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// TransactionLogSize returns the number of bytes a ring of slots
// transaction slots occupies on the backing device.
func TransactionLogSize(slots int) int64 {
	return int64(slots) * txRecordSize
}

// DiskTransactionWriter persists AL transactions to a fixed-size
// ring at the tail of the backing device, one slot per transaction,
// wrapping once the ring fills. Each slot carries a monotonically
// increasing sequence number so Replay can recover write order even though
// the ring overwrites old entries in place.
type DiskTransactionWriter struct {
	mu      sync.Mutex
	backend Backend
	offset  int64
	slots   int
	seq     uint64
	next    int
}

// NewDiskTransactionWriter creates a writer over a ring of slots
// txRecordSize-byte slots starting at offset.
func NewDiskTransactionWriter(backend Backend, offset int64, slots int) *DiskTransactionWriter {
	if slots <= 0 {
		slots = 1
	}
	return &DiskTransactionWriter{backend: backend, offset: offset, slots: slots}
}

// Persist implements TransactionWriter, writing tx into the next ring slot.
func (w *DiskTransactionWriter) Persist(tx Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	buf := make([]byte, txRecordSize)
	binary.BigEndian.PutUint32(buf[0:4], txMagic)
	binary.BigEndian.PutUint64(buf[4:12], w.seq)
	binary.BigEndian.PutUint64(buf[12:20], uint64(tx.EvictedExtent))
	binary.BigEndian.PutUint64(buf[20:28], uint64(tx.NewExtent))

	slotOffset := w.offset + int64(w.next)*txRecordSize
	if _, err := w.backend.WriteAt(buf, slotOffset); err != nil {
		return err
	}
	w.next = (w.next + 1) % w.slots
	return nil
}

// Replay reads every valid slot in the slots-slot ring at offset and
// returns the transactions recorded there in the order they were written
// (oldest first). Slots that fail their magic check (never written, or
// corrupt) are skipped. Used after an unclean shutdown to recover which
// extents were resident at the time of the crash.
func Replay(backend Backend, offset int64, slots int) ([]Transaction, error) {
	type seqTx struct {
		seq uint64
		tx  Transaction
	}
	found := make([]seqTx, 0, slots)

	buf := make([]byte, txRecordSize)
	for i := 0; i < slots; i++ {
		slotOffset := offset + int64(i)*txRecordSize
		if _, err := backend.ReadAt(buf, slotOffset); err != nil {
			return nil, err
		}
		if binary.BigEndian.Uint32(buf[0:4]) != txMagic {
			continue
		}
		seq := binary.BigEndian.Uint64(buf[4:12])
		evicted := int64(binary.BigEndian.Uint64(buf[12:20]))
		newExtent := int64(binary.BigEndian.Uint64(buf[20:28]))
		found = append(found, seqTx{seq: seq, tx: Transaction{EvictedExtent: evicted, NewExtent: newExtent}})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	out := make([]Transaction, len(found))
	for i, f := range found {
		out[i] = f.tx
	}
	return out, nil
}

// ResidentSet replays transactions in order and returns the set of extent
// numbers resident at the end of the sequence: each transaction adds
// NewExtent and, if EvictedExtent is not -1, removes it. This is the
// "superset of dirty extents" a crash recovery marks dirty, since any of
// these extents may have had writes in flight that never reached the peer.
func ResidentSet(txs []Transaction) map[int64]bool {
	resident := make(map[int64]bool, len(txs))
	for _, tx := range txs {
		if tx.EvictedExtent != -1 {
			delete(resident, tx.EvictedExtent)
		}
		resident[tx.NewExtent] = true
	}
	return resident
}
