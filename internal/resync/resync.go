// Package resync implements the bitmap-driven resync engine: a sync
// source walks the bitmap pushing (or checksum-probing) out-of-sync
// blocks to a peer, a sync target applies incoming blocks and clears its
// bitmap, and both sides track rs_left/rs_total progress.
package resync

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/drbdgo/drbd/internal/bitmap"
	"github.com/drbdgo/drbd/internal/busy"
	"github.com/drbdgo/drbd/internal/constants"
	"github.com/drbdgo/drbd/internal/epoch"
	"github.com/drbdgo/drbd/internal/interfaces"
	"github.com/drbdgo/drbd/internal/meta"
	"github.com/drbdgo/drbd/internal/proto"
	"github.com/drbdgo/drbd/internal/state"
)

// Config wires an Engine to the components its scan, anti-collision and
// completion bookkeeping touch.
type Config struct {
	Bitmap  *bitmap.Bitmap
	TL      *epoch.TransferLog
	Busy    *busy.Table
	Backend interfaces.BackingStore
	Meta    *meta.Store
	State   *state.Machine

	Observer interfaces.Observer
	Logger   interfaces.Logger
}

// Engine drives one side (source or target) of a resync. A single Engine
// instance is reused across a connection's lifetime; StartAsSource and
// StartAsTarget arm it, and it goes idle again once rs_left reaches zero.
type Engine struct {
	cfg Config

	mu          sync.Mutex
	active      bool
	asSource    bool
	paused      bool
	rsTotal     int64
	rsLeft      int64
	syncRate    int64 // bytes/sec, 0 = unlimited
	useChecksum bool
	tokens      int64
	lastRefill  time.Time
	lastMark    time.Time
	lastMarkLeft int64

	outbound chan<- proto.Frame

	nextReqID uint64
}

// New creates an idle Engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, syncRate: constants.DefaultSyncRate}
}

// SetOutbound attaches the frame queue the target side uses to answer
// checksum probes and request real data.
func (e *Engine) SetOutbound(outbound chan<- proto.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outbound = outbound
}

// StartAsSource arms the engine to scan the local bitmap and push blocks
// to the peer.
func (e *Engine) StartAsSource() {
	e.start(true)
}

// StartAsTarget arms the engine to receive and apply blocks from the
// peer, driving its own rs_left/rs_total off the local bitmap.
func (e *Engine) StartAsTarget() {
	e.start(false)
}

func (e *Engine) start(asSource bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := int64(e.cfg.Bitmap.OutOfSyncCount()) * constants.BitmapGranularity
	e.active = true
	e.asSource = asSource
	e.paused = false
	e.rsTotal = total
	e.rsLeft = total
	e.lastMark = time.Now()
	e.lastMarkLeft = total
	e.lastRefill = time.Now()
	e.tokens = 0
}

// SetRate updates the throttle and checksum mode, as driven by an
// incoming or locally-originated SetSyncParam.
func (e *Engine) SetRate(rateKiB uint32, useChecksum bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncRate = int64(rateKiB) * 1024
	e.useChecksum = useChecksum
}

// Pause suspends source-side emission (SyncStop).
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume lifts a Pause (SyncCont).
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

// Active reports whether a resync is currently running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Progress returns (rs_left, rs_total) in bytes.
func (e *Engine) Progress() (left, total int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rsLeft, e.rsTotal
}

// Rate returns the bytes/sec estimate observed since the last mark,
// refreshing the mark as a side effect. Intended to be polled
// periodically (e.g. once a second) by the owning node.
func (e *Engine) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	elapsed := time.Since(e.lastMark).Seconds()
	if elapsed <= 0 {
		return 0
	}
	rate := float64(e.lastMarkLeft-e.rsLeft) / elapsed
	e.lastMark = time.Now()
	e.lastMarkLeft = e.rsLeft
	return rate
}

// NextFrame implements worker.ResyncSource: polled by the DiskSender to
// pull the next resync frame to emit, when this side is the sync source.
func (e *Engine) NextFrame() (proto.Frame, bool) {
	e.mu.Lock()
	if !e.active || !e.asSource || e.paused {
		e.mu.Unlock()
		return nil, false
	}

	chunk, ok := e.nextChunkLocked()
	if !ok {
		e.mu.Unlock()
		return nil, false
	}
	useChecksum := e.useChecksum
	e.mu.Unlock()

	byteOffset := chunk.Offset
	size := chunk.Length
	sector := byteOffset / constants.SectorSize

	if e.cfg.TL.CheckSector(sector, size) || e.cfg.Busy.IsBusy(sector) {
		// An application write is in flight over this region; leave the
		// bit dirty and retry it on a later pass.
		return nil, false
	}

	buf := make([]byte, size)
	if _, err := e.cfg.Backend.ReadAt(buf, byteOffset); err != nil {
		if e.cfg.Logger != nil {
			e.cfg.Logger.Printf("resync: read at %d failed: %v", byteOffset, err)
		}
		return nil, false
	}

	if useChecksum {
		return &proto.RSDataRequestFrame{BlockID: checksum(buf), Sector: uint64(sector), Size: uint32(size)}, true
	}

	e.mu.Lock()
	id := e.nextReqID
	e.nextReqID++
	e.mu.Unlock()
	return &proto.DataReplyFrame{BlockID: id, Sector: uint64(sector), Size: uint32(size), Payload: buf}, true
}

// nextChunkLocked pulls the next dirty chunk within the current rate
// budget, refilling the token bucket first. Must be called with e.mu held.
func (e *Engine) nextChunkLocked() (bitmap.Chunk, bool) {
	if e.syncRate > 0 {
		now := time.Now()
		elapsed := now.Sub(e.lastRefill).Seconds()
		e.tokens += int64(elapsed * float64(e.syncRate))
		e.lastRefill = now
		if e.tokens <= 0 {
			return bitmap.Chunk{}, false
		}
	}

	chunk, ok := e.cfg.Bitmap.NextDirtyChunk(constants.ResyncChunkBits)
	if !ok {
		return bitmap.Chunk{}, false
	}
	if e.syncRate > 0 {
		e.tokens -= chunk.Length
	}
	return chunk, true
}

// ApplyBlock is called by the sync target when a resync block arrives
// unprompted (non-checksum mode). sector is a sector index, not a byte
// offset. It writes the block locally, clears the bitmap, advances
// progress, and reports completion back to the sync source so that side
// can clear its own bit in turn.
func (e *Engine) ApplyBlock(sector int64, payload []byte) error {
	if _, err := e.cfg.Backend.WriteAt(payload, sector*constants.SectorSize); err != nil {
		return err
	}
	e.markInSync(sector, int64(len(payload)))
	if e.cfg.Observer != nil {
		e.cfg.Observer.ObserveResyncBlock(uint64(len(payload)), true)
	}

	e.mu.Lock()
	outbound := e.outbound
	e.mu.Unlock()
	if outbound != nil {
		outbound <- &proto.BlockInSyncFrame{Sector: uint64(sector), Size: uint32(len(payload))}
	}
	return nil
}

// HandleChecksumRequest answers a checksum-mode probe from the sync
// source: if the target's local block matches, it replies BlockInSync;
// otherwise it asks for the real data via a DataRequest, driven by the
// Engine's outbound queue rather than the normal read path.
func (e *Engine) HandleChecksumRequest(req *proto.RSDataRequestFrame) {
	sector := int64(req.Sector)
	size := int64(req.Size)

	buf := make([]byte, size)
	matches := false
	if _, err := e.cfg.Backend.ReadAt(buf, sector*constants.SectorSize); err == nil {
		matches = checksum(buf) == req.BlockID
	}

	e.mu.Lock()
	outbound := e.outbound
	e.mu.Unlock()
	if outbound == nil {
		return
	}

	if matches {
		e.markInSync(sector, size)
		outbound <- &proto.BlockInSyncFrame{Sector: uint64(sector), Size: uint32(size)}
		return
	}
	outbound <- &proto.DataRequestFrame{BlockID: req.BlockID, Sector: req.Sector, Size: req.Size}
}

// HandleBlockInSync is called on the sync source when the target reports a
// block in sync, either because its checksum matched (checksum mode) or
// because it applied a pushed block (ApplyBlock): the source clears its own
// bitmap bit and advances progress.
func (e *Engine) HandleBlockInSync(f *proto.BlockInSyncFrame) {
	e.markInSync(int64(f.Sector), int64(f.Size))
}

func (e *Engine) markInSync(sector, size int64) {
	delta := e.cfg.Bitmap.Set(sector, size, true)

	e.mu.Lock()
	if delta < 0 {
		e.rsLeft += delta * constants.BitmapGranularity
		if e.rsLeft < 0 {
			e.rsLeft = 0
		}
	}
	finished := e.active && e.rsLeft == 0
	if finished {
		e.active = false
	}
	e.mu.Unlock()

	if finished {
		e.finish()
	}
}

func (e *Engine) finish() {
	if e.cfg.State != nil {
		e.cfg.State.Set(state.Connected)
	}
	if e.cfg.Meta != nil {
		e.cfg.Meta.Inc(meta.CounterConnectedCount)
		if err := e.cfg.Meta.Write(); err != nil && e.cfg.Logger != nil {
			e.cfg.Logger.Printf("resync: metadata write failed: %v", err)
		}
	}
}

func checksum(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}
