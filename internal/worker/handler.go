package worker

import "github.com/drbdgo/drbd/internal/proto"

// Handler receives decoded frames from a Receiver. Implementations
// (typically the root Node) own the epoch pool, transfer log, bitmap, and
// backing store the frames act on; Receiver itself holds none of that
// state, mirroring the teacher's separation between the queue runner's
// I/O loop and the backend it calls into.
type Handler interface {
	HandleData(f *proto.DataFrame) error
	HandleDataReply(f *proto.DataReplyFrame) error
	HandleRecvAck(f *proto.RecvAckFrame)
	HandleWriteAck(f *proto.WriteAckFrame)
	HandleBarrier(f *proto.BarrierFrame) error
	HandleBarrierAck(f *proto.BarrierAckFrame) error
	HandleReportParams(f *proto.ReportParamsFrame) error
	HandleReportBitMap(f *proto.ReportBitMapFrame) error
	HandleBecomeSyncTarget() error
	HandleBecomeSyncSource() error
	HandleBecomeSec() error
	HandleWriteHint(f *proto.WriteHintFrame)
	HandleDataRequest(f *proto.DataRequestFrame) error
	HandleRSDataRequest(f *proto.RSDataRequestFrame) error
	HandleBlockInSync(f *proto.BlockInSyncFrame)
	HandleSetSyncParam(f *proto.SetSyncParamFrame)
	HandleSyncStop()
	HandleSyncCont()
}
