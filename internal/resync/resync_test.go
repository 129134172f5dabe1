package resync

import (
	"sync"
	"testing"

	"github.com/drbdgo/drbd/internal/bitmap"
	"github.com/drbdgo/drbd/internal/busy"
	"github.com/drbdgo/drbd/internal/constants"
	"github.com/drbdgo/drbd/internal/epoch"
	"github.com/drbdgo/drbd/internal/meta"
	"github.com/drbdgo/drbd/internal/proto"
	"github.com/drbdgo/drbd/internal/state"
)

type memBackend struct {
	mu   sync.Mutex
	data []byte
}

func newMemBackend(size int64) *memBackend { return &memBackend{data: make([]byte, size)} }

func (m *memBackend) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copy(p, m.data[off:off+int64(len(p))]), nil
}

func (m *memBackend) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copy(m.data[off:off+int64(len(p))], p), nil
}

func (m *memBackend) Size() int64  { return int64(len(m.data)) }
func (m *memBackend) Close() error { return nil }
func (m *memBackend) Flush() error { return nil }

type fakeMetaBackend struct{ data []byte }

func (f *fakeMetaBackend) ReadAt(p []byte, off int64) (int, error) {
	if int(off)+len(p) > len(f.data) {
		return 0, nil
	}
	return copy(p, f.data[off:]), nil
}

func (f *fakeMetaBackend) WriteAt(p []byte, off int64) (int, error) {
	if int(off)+len(p) > len(f.data) {
		grown := make([]byte, int(off)+len(p))
		copy(grown, f.data)
		f.data = grown
	}
	return copy(f.data[off:], p), nil
}

func newEngine(t *testing.T, volSize int64) (*Engine, *bitmap.Bitmap, *memBackend) {
	t.Helper()
	bm := bitmap.New(volSize)
	backend := newMemBackend(volSize)
	st, err := meta.Open(&fakeMetaBackend{data: make([]byte, meta.RecordSize)}, 0)
	if err != nil {
		t.Fatalf("meta.Open: %v", err)
	}
	e := New(Config{
		Bitmap:  bm,
		TL:      epoch.NewTransferLog(),
		Busy:    busy.New(),
		Backend: backend,
		Meta:    st,
		State:   state.New(),
	})
	return e, bm, backend
}

func TestSourcePushesDirtyChunks(t *testing.T) {
	e, bm, backend := newEngine(t, 16*constants.BitmapGranularity)
	bm.Set(0, constants.BitmapGranularity, false)
	backend.data[0] = 0xCD

	e.StartAsSource()
	outbound := make(chan proto.Frame, 1)
	e.SetOutbound(outbound)

	frame, ok := e.NextFrame()
	if !ok {
		t.Fatal("expected a frame from a dirty bitmap")
	}
	reply, ok := frame.(*proto.DataReplyFrame)
	if !ok {
		t.Fatalf("frame = %T, want *DataReplyFrame", frame)
	}
	if reply.Sector != 0 || reply.Payload[0] != 0xCD {
		t.Fatalf("reply = %+v, want sector 0 with pushed byte 0xCD", reply)
	}
}

func TestSourceYieldsBusySector(t *testing.T) {
	e, bm, _ := newEngine(t, 16*constants.BitmapGranularity)
	bm.Set(0, constants.BitmapGranularity, false)
	e.cfg.Busy.Insert(0)

	e.StartAsSource()
	if _, ok := e.NextFrame(); ok {
		t.Fatal("expected no frame while the sector is busy")
	}
}

func TestTargetApplyBlockClearsBitmapAndFinishes(t *testing.T) {
	e, bm, backend := newEngine(t, constants.BitmapGranularity)
	bm.Set(0, constants.BitmapGranularity, false)
	e.StartAsTarget()

	left, total := e.Progress()
	if left != constants.BitmapGranularity || total != constants.BitmapGranularity {
		t.Fatalf("left=%d total=%d, want %d", left, total, constants.BitmapGranularity)
	}

	payload := make([]byte, constants.BitmapGranularity)
	payload[0] = 0xAB
	if err := e.ApplyBlock(0, payload); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}

	if backend.data[0] != 0xAB {
		t.Fatalf("backend.data[0] = %x, want 0xAB", backend.data[0])
	}
	if bm.Get(0, constants.BitmapGranularity) {
		t.Fatal("bitmap still reports dirty after ApplyBlock")
	}
	left, _ = e.Progress()
	if left != 0 {
		t.Fatalf("rsLeft = %d, want 0", left)
	}
	if e.Active() {
		t.Fatal("engine should be inactive once resync completes")
	}
	if e.cfg.State.Current() != state.Connected {
		t.Fatalf("state = %v, want Connected", e.cfg.State.Current())
	}
}

func TestChecksumRequestMatchSendsBlockInSync(t *testing.T) {
	e, bm, backend := newEngine(t, constants.BitmapGranularity)
	bm.Set(0, constants.BitmapGranularity, false)
	backend.data[10] = 0x42

	outbound := make(chan proto.Frame, 1)
	e.SetOutbound(outbound)

	want := checksum(backend.data[:constants.BitmapGranularity])
	e.HandleChecksumRequest(&proto.RSDataRequestFrame{BlockID: want, Sector: 0, Size: constants.BitmapGranularity})

	frame := <-outbound
	if _, ok := frame.(*proto.BlockInSyncFrame); !ok {
		t.Fatalf("frame = %T, want *BlockInSyncFrame", frame)
	}
	if bm.Get(0, constants.BitmapGranularity) {
		t.Fatal("bitmap should be clear after a matching checksum")
	}
}

func TestChecksumRequestMismatchRequestsData(t *testing.T) {
	e, bm, _ := newEngine(t, constants.BitmapGranularity)
	bm.Set(0, constants.BitmapGranularity, false)

	outbound := make(chan proto.Frame, 1)
	e.SetOutbound(outbound)

	e.HandleChecksumRequest(&proto.RSDataRequestFrame{BlockID: 0xdeadbeef, Sector: 0, Size: constants.BitmapGranularity})

	frame := <-outbound
	if _, ok := frame.(*proto.DataRequestFrame); !ok {
		t.Fatalf("frame = %T, want *DataRequestFrame", frame)
	}
}

func TestPauseStopsSourceEmission(t *testing.T) {
	e, bm, _ := newEngine(t, constants.BitmapGranularity)
	bm.Set(0, constants.BitmapGranularity, false)
	e.StartAsSource()
	e.Pause()

	if _, ok := e.NextFrame(); ok {
		t.Fatal("expected no frame while paused")
	}

	e.Resume()
	if _, ok := e.NextFrame(); !ok {
		t.Fatal("expected a frame after resume")
	}
}
