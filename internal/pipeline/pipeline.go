// Package pipeline implements the Request Pipeline: the seven-step write
// admission path a primary runs for every upper-layer write, and the read
// path that falls back to the network when the addressed region is known
// dirty or the node holds no local copy.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drbdgo/drbd/internal/al"
	"github.com/drbdgo/drbd/internal/bitmap"
	"github.com/drbdgo/drbd/internal/busy"
	"github.com/drbdgo/drbd/internal/constants"
	"github.com/drbdgo/drbd/internal/epoch"
	"github.com/drbdgo/drbd/internal/interfaces"
	"github.com/drbdgo/drbd/internal/proto"
)

// ErrNotConnected is returned by Write/Read when the pipeline has no
// outbound queue to send on (the connection is down) and the operation's
// protocol requires peer acknowledgement or the region requires a remote
// read.
var ErrNotConnected = errors.New("pipeline: not connected")

// Config wires a Pipeline to the components its seven-step path touches.
type Config struct {
	AL       *al.Log
	Busy     *busy.Table
	TL       *epoch.TransferLog
	Bitmap   *bitmap.Bitmap
	Backend  interfaces.BackingStore
	Protocol constants.Protocol
	Observer interfaces.Observer
	Logger   interfaces.Logger

	// AckTimeout bounds how long Write waits for a protocol-required ack
	// before failing the request.
	AckTimeout time.Duration
}

type pendingWrite struct {
	sector      int64
	blockID     uint64
	recvAcked   bool
	writeAcked  bool
	done        chan error
}

type pendingRead struct {
	done chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// Pipeline runs the write admission path and tracks in-flight requests
// awaiting protocol-required acknowledgement.
type Pipeline struct {
	cfg Config

	outbound chan<- proto.Frame

	nextBlockID atomic.Uint64
	pendingCnt  atomic.Int64
	unackedCnt  atomic.Int64

	mu     sync.Mutex
	writes map[uint64]*pendingWrite
	reads  map[uint64]*pendingRead
}

// New creates a Pipeline with no outbound queue; SetOutbound attaches the
// channel DiskSender drains once a connection is established, so a
// Pipeline can exist (and serve local reads) before any peer is connected.
func New(cfg Config) *Pipeline {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = constants.DefaultAckTimeout
	}
	return &Pipeline{
		cfg:    cfg,
		writes: make(map[uint64]*pendingWrite),
		reads:  make(map[uint64]*pendingRead),
	}
}

// SetOutbound attaches (or detaches, with nil) the frame queue used to
// replicate writes and issue remote reads.
func (p *Pipeline) SetOutbound(outbound chan<- proto.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outbound = outbound
}

// SetProtocol changes the consistency mode applied to subsequent writes.
func (p *Pipeline) SetProtocol(proto constants.Protocol) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Protocol = proto
}

// PendingCount returns the number of writes awaiting a protocol-required
// acknowledgement from the peer.
func (p *Pipeline) PendingCount() int64 { return p.pendingCnt.Load() }

// UnackedCount returns the number of writes sent to the peer but not yet
// acknowledged.
func (p *Pipeline) UnackedCount() int64 { return p.unackedCnt.Load() }

// Write runs the seven-step admission path for an upper-layer write of
// data at sector. It blocks until the configured protocol's completion
// condition is met (local I/O only for A, peer receipt for B, peer
// durability for C).
func (p *Pipeline) Write(ctx context.Context, sector int64, data []byte) error {
	size := int64(len(data))

	// Step 1: acquire the AL extent, suspending (retrying) while a
	// transaction must be written and no extent is evictable yet.
	for {
		err := p.cfg.AL.BeginIO(sector)
		if err == nil {
			break
		}
		if !errors.Is(err, al.ErrWouldBlock) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	defer p.cfg.AL.CompleteIO(sector)

	// Step 2: defer to any resync read in flight on this sector.
	if p.cfg.Busy.IsBusy(sector) {
		p.cfg.Busy.Wait(sector)
	}

	// Step 3: allocate a request record and append to the newest epoch.
	blockID := p.nextBlockID.Add(1)
	needsBarrier := p.cfg.TL.NeedsBarrier()
	p.cfg.TL.Append(sector, size, blockID)

	pw := &pendingWrite{sector: sector, blockID: blockID, done: make(chan error, 1)}
	if p.cfg.Protocol != constants.ProtocolA {
		p.mu.Lock()
		p.writes[blockID] = pw
		p.mu.Unlock()
		p.pendingCnt.Add(1)
		defer func() {
			p.mu.Lock()
			delete(p.writes, blockID)
			p.mu.Unlock()
		}()
	}

	// Step 4: submit to the local backing store.
	start := time.Now()
	_, err := p.cfg.Backend.WriteAt(data, sector*constants.SectorSize)
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObserveWrite(uint64(size), uint64(time.Since(start).Nanoseconds()), err == nil)
	}
	if err != nil {
		p.cfg.TL.Dependence(sector, blockID)
		return err
	}

	// Step 5/6: enqueue the replication frame (barrier first if owed).
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	if outbound != nil {
		if needsBarrier {
			barrierNr := p.cfg.TL.OpenBarrier()
			outbound <- &proto.BarrierFrame{BarrierNr: barrierNr}
		}
		outbound <- &proto.DataFrame{BlockID: blockID, Sector: uint64(sector), Size: uint32(size), Payload: data}
		p.unackedCnt.Add(1)
	} else if p.cfg.Protocol != constants.ProtocolA {
		p.cfg.TL.Dependence(sector, blockID)
		return ErrNotConnected
	}

	if p.cfg.Protocol == constants.ProtocolA {
		// Completion does not wait on the peer. The write is not registered
		// in p.writes, so OnRecvAck/OnWriteAck do not remove it from the
		// TL; it stays in its epoch until the BarrierAck for that epoch
		// releases the epoch.
		return nil
	}

	// Step 7: wait for the protocol-required acknowledgement.
	select {
	case err := <-pw.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.AckTimeout):
		return errors.New("pipeline: ack timeout")
	}
}

// OnRecvAck is called by the connection's frame handler when a RecvAck
// arrives, satisfying protocol B's completion condition.
func (p *Pipeline) OnRecvAck(blockID uint64) {
	p.unackedCnt.Add(-1)
	p.mu.Lock()
	pw, ok := p.writes[blockID]
	p.mu.Unlock()
	if !ok {
		return
	}

	pw.recvAcked = true
	if p.cfg.Protocol == constants.ProtocolB {
		p.completeWrite(pw)
	}
}

// OnWriteAck is called when a WriteAck arrives, satisfying protocol C's
// completion condition.
func (p *Pipeline) OnWriteAck(blockID uint64) {
	p.mu.Lock()
	pw, ok := p.writes[blockID]
	p.mu.Unlock()
	if !ok {
		return
	}

	pw.writeAcked = true
	if p.cfg.Protocol == constants.ProtocolC || p.cfg.Protocol == constants.ProtocolB {
		p.completeWrite(pw)
	}
}

func (p *Pipeline) completeWrite(pw *pendingWrite) {
	p.cfg.TL.Dependence(pw.sector, pw.blockID)
	p.pendingCnt.Add(-1)
	select {
	case pw.done <- nil:
	default:
	}
}

// Read serves sector locally if it is known in-sync; otherwise it issues
// a DataRequest to the peer and waits for the reply.
func (p *Pipeline) Read(ctx context.Context, sector int64, size int64) ([]byte, error) {
	if p.cfg.Bitmap == nil || !p.cfg.Bitmap.Get(sector, size) {
		buf := make([]byte, size)
		start := time.Now()
		n, err := p.cfg.Backend.ReadAt(buf, sector*constants.SectorSize)
		if p.cfg.Observer != nil {
			p.cfg.Observer.ObserveRead(uint64(size), uint64(time.Since(start).Nanoseconds()), err == nil)
		}
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}

	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()
	if outbound == nil {
		return nil, ErrNotConnected
	}

	blockID := p.nextBlockID.Add(1)
	pr := &pendingRead{done: make(chan readResult, 1)}
	p.mu.Lock()
	p.reads[blockID] = pr
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.reads, blockID)
		p.mu.Unlock()
	}()

	outbound <- &proto.DataRequestFrame{BlockID: blockID, Sector: uint64(sector), Size: uint32(size)}

	select {
	case res := <-pr.done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.cfg.AckTimeout):
		return nil, errors.New("pipeline: read timeout")
	}
}

// OnDataReply delivers a DataReply frame to the read waiting on its
// BlockID.
func (p *Pipeline) OnDataReply(f *proto.DataReplyFrame) {
	p.mu.Lock()
	pr, ok := p.reads[f.BlockID]
	p.mu.Unlock()
	if !ok {
		return
	}
	pr.done <- readResult{data: f.Payload}
}
