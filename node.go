package drbd

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/drbdgo/drbd/internal/al"
	"github.com/drbdgo/drbd/internal/bitmap"
	"github.com/drbdgo/drbd/internal/busy"
	"github.com/drbdgo/drbd/internal/constants"
	"github.com/drbdgo/drbd/internal/epoch"
	"github.com/drbdgo/drbd/internal/logging"
	"github.com/drbdgo/drbd/internal/meta"
	"github.com/drbdgo/drbd/internal/pipeline"
	"github.com/drbdgo/drbd/internal/proto"
	"github.com/drbdgo/drbd/internal/resync"
	"github.com/drbdgo/drbd/internal/state"
	"github.com/drbdgo/drbd/internal/worker"
)

// NodeParams configures a Node at construction time, analogous to the
// teacher's DeviceParams.
type NodeParams struct {
	// Backend provides the storage implementation. Its tail
	// MetadataOverhead(ALTransactionSlots) bytes are reserved for the AL
	// transaction ring and the persisted metadata record; the replicated
	// address space is Backend.Size() minus that overhead.
	Backend BackingStore

	Protocol     Protocol
	ALExtents    int
	ALExtentSize int64
	// ALTransactionSlots sizes the on-disk activity-log transaction ring
	// used to recover the resident extent set after an unclean shutdown.
	ALTransactionSlots int
	EpochEntries       int
	SyncRate           uint32
	UseChecksum        bool

	PingInterval time.Duration
	AckTimeout   time.Duration
}

// MetadataOverhead returns the number of trailing bytes NewNode reserves on
// a backend for the metadata record and the activity-log transaction ring
// sized for transactionSlots (DefaultALTransactionSlots if <= 0). Callers
// sizing a backend to hold a volume of a given size add this overhead.
func MetadataOverhead(transactionSlots int) int64 {
	if transactionSlots <= 0 {
		transactionSlots = DefaultALTransactionSlots
	}
	return int64(meta.RecordSize) + al.TransactionLogSize(transactionSlots)
}

// DefaultParams returns sensible default parameters for backend.
func DefaultParams(backend BackingStore) NodeParams {
	return NodeParams{
		Backend:            backend,
		Protocol:           DefaultProtocol,
		ALExtents:          DefaultALExtents,
		ALExtentSize:       ALExtentSize,
		ALTransactionSlots: DefaultALTransactionSlots,
		EpochEntries:       DefaultEpochEntries,
		SyncRate:           DefaultSyncRate,
		PingInterval:       constants.DefaultPingInterval,
		AckTimeout:         constants.DefaultAckTimeout,
	}
}

// Options carries cross-cutting collaborators that aren't part of the
// node's own configuration, mirroring the teacher's Options.
type Options struct {
	Context  context.Context
	Logger   Logger
	Observer Observer
}

type resyncRole int

const (
	roleNone resyncRole = iota
	roleSource
	roleTarget
)

// Node is one side of a replicated block device pair: the backing store,
// the replication bookkeeping (bitmap, activity log, transfer log, epoch
// pool, busy-block table, persisted metadata) and, once Connect is
// called, the three socket workers and the request pipeline.
type Node struct {
	backend  BackingStore
	dataSize int64

	bm        *bitmap.Bitmap
	al        *al.Log
	tl        *epoch.TransferLog
	pool      *epoch.Pool
	busyTable *busy.Table
	metaStore *meta.Store
	fsm       *state.Machine

	pl     *pipeline.Pipeline
	resync *resync.Engine

	metrics  *Metrics
	observer Observer
	logger   Logger

	pingInterval time.Duration
	ackTimeout   time.Duration

	mu             sync.Mutex
	primary        bool
	role           resyncRole
	recvEpochCount int

	ctx    context.Context
	cancel context.CancelFunc

	outbound   chan proto.Frame
	receiver   *worker.Receiver
	diskSender *worker.DiskSender
	ackSender  *worker.AckSender
}

// NewNode constructs a Node from params, building the bitmap, activity
// log, transfer log, epoch pool, busy table and metadata store, but does
// not dial or accept any connection — call Connect for that.
func NewNode(ctx context.Context, params NodeParams, options *Options) (*Node, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if params.Backend == nil {
		return nil, NewError("NEW_NODE", ErrCodeInvalidParameters, "backend is required")
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}

	if params.ALExtents <= 0 {
		params.ALExtents = DefaultALExtents
	}
	if params.ALExtentSize <= 0 {
		params.ALExtentSize = ALExtentSize
	}
	if params.EpochEntries <= 0 {
		params.EpochEntries = DefaultEpochEntries
	}
	if params.ALTransactionSlots <= 0 {
		params.ALTransactionSlots = DefaultALTransactionSlots
	}
	if params.PingInterval <= 0 {
		params.PingInterval = constants.DefaultPingInterval
	}
	if params.AckTimeout <= 0 {
		params.AckTimeout = constants.DefaultAckTimeout
	}

	// The tail of the backing device holds, in order: the replicated data,
	// the AL transaction ring, then the metadata record.
	alLogSize := al.TransactionLogSize(params.ALTransactionSlots)
	metaOffset := params.Backend.Size() - int64(meta.RecordSize)
	alLogOffset := metaOffset - alLogSize
	dataSize := alLogOffset
	if dataSize <= 0 {
		return nil, NewError("NEW_NODE", ErrCodeInvalidParameters, "backend too small to hold the metadata record and activity log")
	}

	metaStore, err := meta.Open(params.Backend, metaOffset)
	if err != nil {
		return nil, WrapError("NEW_NODE", err)
	}

	metrics := NewMetrics()
	observer := options.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	bm := bitmap.New(dataSize)

	// Recover the resident extent set from the on-disk transaction ring
	// before constructing the live Log, and mark every recovered extent
	// dirty: any of them may have had a write in flight that never reached
	// the peer before the crash.
	recoveredTxs, err := al.Replay(params.Backend, alLogOffset, params.ALTransactionSlots)
	if err != nil {
		return nil, WrapError("NEW_NODE", err)
	}
	for extentNum := range al.ResidentSet(recoveredTxs) {
		sector := extentNum * params.ALExtentSize / constants.SectorSize
		bm.Set(sector, params.ALExtentSize, false)
	}

	alWriter := al.NewDiskTransactionWriter(params.Backend, alLogOffset, params.ALTransactionSlots)
	alLog := al.New(params.ALExtents, params.ALExtentSize, alWriter)
	tl := epoch.NewTransferLog()
	pool := epoch.NewPool(params.EpochEntries)
	busyTable := busy.New()
	fsm := state.New()

	pl := pipeline.New(pipeline.Config{
		AL:         alLog,
		Busy:       busyTable,
		TL:         tl,
		Bitmap:     bm,
		Backend:    params.Backend,
		Protocol:   params.Protocol,
		Observer:   observer,
		Logger:     logger,
		AckTimeout: params.AckTimeout,
	})

	rs := resync.New(resync.Config{
		Bitmap:   bm,
		TL:       tl,
		Busy:     busyTable,
		Backend:  params.Backend,
		Meta:     metaStore,
		State:    fsm,
		Observer: observer,
		Logger:   logger,
	})
	rs.SetRate(params.SyncRate, params.UseChecksum)

	nodeCtx, cancel := context.WithCancel(ctx)

	n := &Node{
		backend:      params.Backend,
		dataSize:     dataSize,
		bm:           bm,
		al:           alLog,
		tl:           tl,
		pool:         pool,
		busyTable:    busyTable,
		metaStore:    metaStore,
		fsm:          fsm,
		pl:           pl,
		resync:       rs,
		metrics:      metrics,
		observer:     observer,
		logger:       logger,
		pingInterval: params.PingInterval,
		ackTimeout:   params.AckTimeout,
		ctx:          nodeCtx,
		cancel:       cancel,
	}
	return n, nil
}

// Dial opens the two TCP connections (data socket first, then meta
// socket) a Connect call needs to reach addr.
func Dial(ctx context.Context, addr string) (dataConn, metaConn net.Conn, err error) {
	d := net.Dialer{Timeout: constants.DialTimeout}
	dataConn, err = d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, WrapError("DIAL", err)
	}
	metaConn, err = d.DialContext(ctx, "tcp", addr)
	if err != nil {
		dataConn.Close()
		return nil, nil, WrapError("DIAL", err)
	}
	return dataConn, metaConn, nil
}

// Listen accepts exactly two incoming connections on addr: the first is
// treated as the data socket, the second as the meta socket. It blocks
// until both have arrived.
func Listen(ctx context.Context, addr string) (dataConn, metaConn net.Conn, err error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, WrapError("LISTEN", err)
	}
	defer ln.Close()

	dataConn, err = ln.Accept()
	if err != nil {
		return nil, nil, WrapError("LISTEN", err)
	}
	metaConn, err = ln.Accept()
	if err != nil {
		dataConn.Close()
		return nil, nil, WrapError("LISTEN", err)
	}
	return dataConn, metaConn, nil
}

// Connect wires the data and meta sockets to the three workers, starts
// them, and begins the ReportParams handshake. primary marks this side as
// the management-designated primary, which is also the side that decides
// resync direction on a generation-counter mismatch.
func (n *Node) Connect(dataConn, metaConn net.Conn, primary bool) error {
	n.mu.Lock()
	n.primary = primary
	n.recvEpochCount = 0
	n.mu.Unlock()

	n.fsm.Set(StateWFReportParams)

	outbound := make(chan proto.Frame, 256)
	n.outbound = outbound
	n.pl.SetOutbound(outbound)
	n.resync.SetOutbound(outbound)

	n.receiver = worker.NewReceiver(n.ctx, worker.ReceiverConfig{Conn: dataConn, Handler: n, Logger: n.logger})
	n.diskSender = worker.NewDiskSender(n.ctx, worker.DiskSenderConfig{
		Conn:     dataConn,
		Outbound: outbound,
		Resync:   n.resync,
		Pool:     n.pool,
		Logger:   n.logger,
	})
	n.ackSender = worker.NewAckSender(n.ctx, worker.AckSenderConfig{
		Conn:         metaConn,
		PingInterval: n.pingInterval,
		AckTimeout:   n.ackTimeout,
		Logger:       n.logger,
		OnTimeout:    n.onAckTimeout,
	})

	n.receiver.Start()
	n.diskSender.Start()
	n.ackSender.Start()

	rec := n.metaStore.Record()
	outbound <- &proto.ReportParamsFrame{
		ProtocolVersion:    1,
		BlockSize:          constants.SectorSize,
		DeviceSize:         uint64(n.dataSize),
		GenerationCounters: shrinkCounters(rec.Counters),
		BitmapUUID:         rec.BitmapGeneration,
	}
	return nil
}

func shrinkCounters(c [4]uint64) [4]uint32 {
	var out [4]uint32
	for i, v := range c {
		out[i] = uint32(v)
	}
	return out
}

func growCounters(c [4]uint32) [4]uint64 {
	var out [4]uint64
	for i, v := range c {
		out[i] = uint64(v)
	}
	return out
}

func (n *Node) onAckTimeout() {
	n.fsm.Set(StateTimeout)
	n.tl.Clear()
	if n.logger != nil {
		n.logger.Printf("node: ack timeout, clearing transfer log and entering Timeout")
	}
}

// Disconnect stops the three workers and returns the connection to
// Unconnected, clearing in-flight replication state the way a real
// connection loss would.
func (n *Node) Disconnect() error {
	var firstErr error
	if n.receiver != nil {
		if err := n.receiver.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if n.diskSender != nil {
		if err := n.diskSender.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if n.ackSender != nil {
		if err := n.ackSender.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	n.tl.Clear()
	n.pl.SetOutbound(nil)
	n.resync.SetOutbound(nil)
	n.outbound = nil
	n.fsm.Set(StateUnconnected)
	return firstErr
}

// Close tears down the node entirely: stops any active connection and
// closes the backing store.
func (n *Node) Close() error {
	n.cancel()
	_ = n.Disconnect()
	n.metrics.Stop()
	return n.backend.Close()
}

// State returns the current connection state.
func (n *Node) State() ConnState { return n.fsm.Current() }

// IsPrimary reports whether this node currently holds the primary role.
func (n *Node) IsPrimary() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.primary
}

// BecomePrimary promotes this node to primary.
func (n *Node) BecomePrimary() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.primary = true
	return nil
}

// BecomeSecondary demotes this node and, if connected, informs the peer.
func (n *Node) BecomeSecondary() error {
	n.mu.Lock()
	n.primary = false
	outbound := n.outbound
	n.mu.Unlock()
	if outbound != nil {
		outbound <- &proto.BecomeSecFrame{}
	}
	return nil
}

// SetProtocol changes the write consistency mode for subsequent writes.
func (n *Node) SetProtocol(p Protocol) {
	n.pl.SetProtocol(p)
}

// SetSyncParams updates the resync throttle and checksum mode, locally and
// for the peer.
func (n *Node) SetSyncParams(rateKiB uint32, useChecksum bool) {
	n.resync.SetRate(rateKiB, useChecksum)
	n.mu.Lock()
	outbound := n.outbound
	n.mu.Unlock()
	if outbound != nil {
		outbound <- &proto.SetSyncParamFrame{RateKiB: rateKiB, UseChecksum: useChecksum}
	}
}

// Invalidate forces a full resync of the local data: the entire bitmap is
// marked dirty and, if primary, this side starts pushing it to the peer.
func (n *Node) Invalidate() {
	n.bm.Fill(false)
	n.metaStore.Inc(meta.CounterHumanCount)
	_ = n.metaStore.Write()

	if !n.IsPrimary() {
		return
	}
	n.mu.Lock()
	n.role = roleSource
	outbound := n.outbound
	n.mu.Unlock()

	n.resync.StartAsSource()
	n.fsm.Set(StateSyncSource)
	if outbound != nil {
		outbound <- &proto.BecomeSyncTargetFrame{}
	}
}

// Write admits an upper-layer write through the request pipeline. Only
// valid while primary. Concurrent writes are bounded by the node's epoch
// entry pool, mirroring the teacher's fixed-capacity queue depth.
func (n *Node) Write(ctx context.Context, sector int64, data []byte) error {
	if !n.IsPrimary() {
		return NewError("WRITE", ErrCodeStateRefused, "node is not primary")
	}

	entry, err := n.pool.Get(true, epoch.Active)
	if err != nil {
		return WrapError("WRITE", err)
	}
	entry.Sector, entry.Size = sector, int64(len(data))
	defer n.pool.Put(entry)

	return n.pl.Write(ctx, sector, data)
}

// Read serves an upper-layer read, locally if in-sync, otherwise routed
// to the peer.
func (n *Node) Read(ctx context.Context, sector int64, size int64) ([]byte, error) {
	return n.pl.Read(ctx, sector, size)
}

// Metrics returns the node's metrics instance.
func (n *Node) Metrics() *Metrics { return n.metrics }

// MetricsSnapshot returns a point-in-time metrics snapshot.
func (n *Node) MetricsSnapshot() MetricsSnapshot { return n.metrics.Snapshot() }

// Info summarizes a Node for display/diagnostics.
type Info struct {
	State       string
	Primary     bool
	Size        int64
	PendingCnt  int64
	UnackedCnt  int64
	ResyncLeft  int64
	ResyncTotal int64
}

// Info returns a point-in-time summary of the node.
func (n *Node) Info() Info {
	left, total := n.resync.Progress()
	return Info{
		State:       n.fsm.Current().String(),
		Primary:     n.IsPrimary(),
		Size:        n.dataSize,
		PendingCnt:  n.pl.PendingCount(),
		UnackedCnt:  n.pl.UnackedCount(),
		ResyncLeft:  left,
		ResyncTotal: total,
	}
}

func (n *Node) setRole(r resyncRole) {
	n.mu.Lock()
	n.role = r
	n.mu.Unlock()
}

func (n *Node) getRole() resyncRole {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// --- worker.Handler ---

// HandleData applies a replicated write from the peer. Receipt is
// acknowledged immediately; the entry then moves through the epoch pool's
// Active -> Done lifecycle so the DiskSender, not this frame-decode loop,
// sends the durability ack once it drains the done list.
func (n *Node) HandleData(f *proto.DataFrame) error {
	outbound := n.outbound
	if outbound != nil {
		outbound <- &proto.RecvAckFrame{BlockID: f.BlockID, Sector: f.Sector, Size: f.Size}
	}

	entry, err := n.pool.Get(true, epoch.Active)
	if err != nil {
		return WrapError("HANDLE_DATA", err)
	}
	entry.Sector, entry.Size, entry.BlockID = int64(f.Sector), int64(f.Size), f.BlockID
	entry.OnDone = func(e *epoch.Entry) {
		if outbound != nil {
			outbound <- &proto.WriteAckFrame{BlockID: e.BlockID, Sector: uint64(e.Sector), Size: uint32(e.Size)}
		}
	}

	start := time.Now()
	_, err = n.backend.WriteAt(f.Payload, int64(f.Sector)*constants.SectorSize)
	if n.observer != nil {
		n.observer.ObserveWrite(uint64(f.Size), uint64(time.Since(start).Nanoseconds()), err == nil)
	}
	if err != nil {
		n.pool.Put(entry)
		return WrapError("HANDLE_DATA", err)
	}

	n.mu.Lock()
	n.recvEpochCount++
	n.mu.Unlock()

	n.pool.MarkDone(entry)
	return nil
}

// HandleDataReply routes an incoming data block to whichever consumer is
// waiting on it: a pending application read, or an unprompted resync push
// while this side is the sync target.
func (n *Node) HandleDataReply(f *proto.DataReplyFrame) error {
	if n.resync.Active() && n.getRole() == roleTarget {
		return n.resync.ApplyBlock(int64(f.Sector), f.Payload)
	}
	n.pl.OnDataReply(f)
	return nil
}

// HandleRecvAck satisfies protocol B's completion condition.
func (n *Node) HandleRecvAck(f *proto.RecvAckFrame) {
	n.pl.OnRecvAck(f.BlockID)
}

// HandleWriteAck satisfies protocol C's completion condition.
func (n *Node) HandleWriteAck(f *proto.WriteAckFrame) {
	n.pl.OnWriteAck(f.BlockID)
}

// HandleBarrier answers a barrier with the number of writes this side
// applied since the previous one, since frames arrive and are applied in
// order over a single connection.
func (n *Node) HandleBarrier(f *proto.BarrierFrame) error {
	n.mu.Lock()
	setSize := n.recvEpochCount
	n.recvEpochCount = 0
	n.mu.Unlock()

	if outbound := n.outbound; outbound != nil {
		outbound <- &proto.BarrierAckFrame{BarrierNr: f.BarrierNr, SetSize: uint32(setSize)}
	}
	return nil
}

// HandleBarrierAck releases the named epoch on the sending side. A
// mismatch is a wire-level protocol violation and is fatal to the
// connection.
func (n *Node) HandleBarrierAck(f *proto.BarrierAckFrame) error {
	if err := n.tl.Release(f.BarrierNr, f.SetSize); err != nil {
		return NewError("HANDLE_BARRIER_ACK", ErrCodeProtocolViolation, err.Error())
	}
	return nil
}

// HandleReportParams runs the handshake: the secondary moves straight to
// Connected, and the primary side alone compares generation counters and
// either moves to Connected (equal) or issues an authoritative Become*
// frame, so the two ends can never compute conflicting resync directions.
func (n *Node) HandleReportParams(f *proto.ReportParamsFrame) error {
	if !n.IsPrimary() {
		n.fsm.Set(StateConnected)
		return nil
	}

	order := n.metaStore.Compare(growCounters(f.GenerationCounters), f.BitmapUUID)
	outbound := n.outbound

	switch order {
	case meta.OrderEqual:
		n.fsm.Set(StateConnected)
		n.metaStore.Inc(meta.CounterConnectedCount)
		return n.metaStore.Write()

	case meta.OrderNewer:
		n.setRole(roleSource)
		n.resync.StartAsSource()
		n.fsm.Set(StateSyncSource)
		if outbound != nil {
			outbound <- &proto.BecomeSyncTargetFrame{}
		}
		return nil

	case meta.OrderOlder:
		n.setRole(roleTarget)
		n.resync.StartAsTarget()
		n.fsm.Set(StateSyncTarget)
		if outbound != nil {
			outbound <- &proto.BecomeSyncSourceFrame{}
		}
		return nil

	default: // meta.OrderDiverged
		return NewError("HANDLE_REPORT_PARAMS", ErrCodeProtocolViolation, "metadata history has diverged, operator intervention required")
	}
}

// HandleReportBitMap merges the peer's reported dirty bits into the local
// bitmap.
func (n *Node) HandleReportBitMap(f *proto.ReportBitMapFrame) error {
	n.bm.MergeDirty(f.BitOffset, f.Payload)
	return nil
}

// HandleBecomeSyncTarget is the peer-driven counterpart to the primary's
// resync-direction decision: this side is now the sync target.
func (n *Node) HandleBecomeSyncTarget() error {
	n.setRole(roleTarget)
	n.resync.StartAsTarget()
	n.fsm.Set(StateSyncTarget)
	return nil
}

// HandleBecomeSyncSource is the peer-driven counterpart: this side is now
// the sync source.
func (n *Node) HandleBecomeSyncSource() error {
	n.setRole(roleSource)
	n.resync.StartAsSource()
	n.fsm.Set(StateSyncSource)
	return nil
}

// HandleBecomeSec demotes this node on the peer's request.
func (n *Node) HandleBecomeSec() error {
	n.mu.Lock()
	n.primary = false
	n.mu.Unlock()
	return nil
}

// HandleWriteHint is advisory only; the current receiver applies DataFrame
// writes synchronously and needs no barrier pre-placement hint.
func (n *Node) HandleWriteHint(f *proto.WriteHintFrame) {}

// HandleDataRequest serves a remote read, whether from a diskless peer's
// application I/O or a resync checksum mismatch. The entry moves through
// the epoch pool's Read -> RDone lifecycle; the DiskSender's drain sends
// the reply once it sees the entry on rdone.
func (n *Node) HandleDataRequest(f *proto.DataRequestFrame) error {
	outbound := n.outbound

	entry, err := n.pool.Get(true, epoch.Read)
	if err != nil {
		return WrapError("HANDLE_DATA_REQUEST", err)
	}
	entry.Sector, entry.Size, entry.BlockID = int64(f.Sector), int64(f.Size), f.BlockID

	buf := make([]byte, f.Size)
	if _, err := n.backend.ReadAt(buf, int64(f.Sector)*constants.SectorSize); err != nil {
		n.pool.Put(entry)
		return WrapError("HANDLE_DATA_REQUEST", err)
	}

	entry.OnDone = func(e *epoch.Entry) {
		if outbound != nil {
			outbound <- &proto.DataReplyFrame{BlockID: e.BlockID, Sector: uint64(e.Sector), Size: uint32(e.Size), Payload: buf}
		}
	}
	n.pool.MarkReadDone(entry)
	return nil
}

// HandleRSDataRequest answers a checksum-mode resync probe.
func (n *Node) HandleRSDataRequest(f *proto.RSDataRequestFrame) error {
	n.resync.HandleChecksumRequest(f)
	return nil
}

// HandleBlockInSync clears the local bitmap bit the peer reports as now
// matching, whichever side it arrives on.
func (n *Node) HandleBlockInSync(f *proto.BlockInSyncFrame) {
	n.resync.HandleBlockInSync(f)
}

// HandleSetSyncParam applies a peer-originated throttle/checksum change.
func (n *Node) HandleSetSyncParam(f *proto.SetSyncParamFrame) {
	n.resync.SetRate(f.RateKiB, f.UseChecksum)
}

// HandleSyncStop pauses source-side resync emission.
func (n *Node) HandleSyncStop() {
	n.resync.Pause()
}

// HandleSyncCont resumes a paused resync.
func (n *Node) HandleSyncCont() {
	n.resync.Resume()
}

// Compile-time assertion that Node satisfies worker.Handler.
var _ worker.Handler = (*Node)(nil)
