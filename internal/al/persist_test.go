package al

import "testing"

// memBackend is an in-memory Backend for exercising the ring without a
// real block device.
type memBackend struct {
	data []byte
}

func newMemBackend(size int64) *memBackend {
	return &memBackend{data: make([]byte, size)}
}

func (b *memBackend) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, b.data[off:]), nil
}

func (b *memBackend) WriteAt(p []byte, off int64) (int, error) {
	return copy(b.data[off:], p), nil
}

func TestDiskTransactionWriterPersistAndReplay(t *testing.T) {
	backend := newMemBackend(TransactionLogSize(4))
	w := NewDiskTransactionWriter(backend, 0, 4)

	txs := []Transaction{
		{EvictedExtent: -1, NewExtent: 1},
		{EvictedExtent: -1, NewExtent: 2},
		{EvictedExtent: 1, NewExtent: 3},
	}
	for _, tx := range txs {
		if err := w.Persist(tx); err != nil {
			t.Fatalf("Persist(%+v): %v", tx, err)
		}
	}

	got, err := Replay(backend, 0, 4)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != len(txs) {
		t.Fatalf("Replay returned %d transactions, want %d", len(got), len(txs))
	}
	for i, tx := range txs {
		if got[i] != tx {
			t.Fatalf("Replay[%d] = %+v, want %+v", i, got[i], tx)
		}
	}
}

func TestReplaySkipsUnwrittenSlots(t *testing.T) {
	backend := newMemBackend(TransactionLogSize(4))
	w := NewDiskTransactionWriter(backend, 0, 4)

	if err := w.Persist(Transaction{EvictedExtent: -1, NewExtent: 1}); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	got, err := Replay(backend, 0, 4)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Replay returned %d transactions, want 1 (3 slots never written)", len(got))
	}
}

func TestDiskTransactionWriterWrapsRing(t *testing.T) {
	backend := newMemBackend(TransactionLogSize(3))
	w := NewDiskTransactionWriter(backend, 0, 3)

	// Write five transactions into a three-slot ring: slots 0 and 1 each
	// get overwritten once.
	all := []Transaction{
		{EvictedExtent: -1, NewExtent: 10},
		{EvictedExtent: -1, NewExtent: 11},
		{EvictedExtent: -1, NewExtent: 12},
		{EvictedExtent: 10, NewExtent: 13},
		{EvictedExtent: 11, NewExtent: 14},
	}
	for _, tx := range all {
		if err := w.Persist(tx); err != nil {
			t.Fatalf("Persist(%+v): %v", tx, err)
		}
	}

	got, err := Replay(backend, 0, 3)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	want := all[2:]
	if len(got) != len(want) {
		t.Fatalf("Replay returned %d transactions, want %d", len(got), len(want))
	}
	for i, tx := range want {
		if got[i] != tx {
			t.Fatalf("Replay[%d] = %+v, want %+v (ring wraparound order)", i, got[i], tx)
		}
	}
}

func TestResidentSetTracksEvictionsAndAdmissions(t *testing.T) {
	txs := []Transaction{
		{EvictedExtent: -1, NewExtent: 1},
		{EvictedExtent: -1, NewExtent: 2},
		{EvictedExtent: 1, NewExtent: 3},
	}

	resident := ResidentSet(txs)
	if len(resident) != 2 {
		t.Fatalf("ResidentSet has %d entries, want 2", len(resident))
	}
	if resident[1] {
		t.Error("extent 1 was evicted, should not be resident")
	}
	if !resident[2] || !resident[3] {
		t.Error("expected extents 2 and 3 to be resident")
	}
}

func TestResidentSetEmptyForNoTransactions(t *testing.T) {
	resident := ResidentSet(nil)
	if len(resident) != 0 {
		t.Fatalf("ResidentSet(nil) has %d entries, want 0", len(resident))
	}
}
