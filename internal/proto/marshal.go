package proto

import "encoding/binary"

// DataFrame carries an application or resync write payload from the
// originator to the peer.
type DataFrame struct {
	BlockID uint64 // opaque echo token identifying the originating epoch entry
	Sector  uint64
	Size    uint32
	Payload []byte
}

func (f *DataFrame) Command() Command { return CmdData }

func (f *DataFrame) marshalPayload() []byte {
	buf := make([]byte, 20+len(f.Payload))
	binary.BigEndian.PutUint64(buf[0:8], f.BlockID)
	binary.BigEndian.PutUint64(buf[8:16], f.Sector)
	binary.BigEndian.PutUint32(buf[16:20], f.Size)
	copy(buf[20:], f.Payload)
	return buf
}

func unmarshalDataFrame(data []byte) (*DataFrame, error) {
	if len(data) < 20 {
		return nil, ErrInsufficientData
	}
	f := &DataFrame{
		BlockID: binary.BigEndian.Uint64(data[0:8]),
		Sector:  binary.BigEndian.Uint64(data[8:16]),
		Size:    binary.BigEndian.Uint32(data[16:20]),
	}
	f.Payload = append([]byte(nil), data[20:]...)
	return f, nil
}

// DataReplyFrame answers a DataRequest/RSDataRequest with the requested block.
type DataReplyFrame struct {
	BlockID uint64
	Sector  uint64
	Size    uint32
	Payload []byte
}

func (f *DataReplyFrame) Command() Command { return CmdDataReply }

func (f *DataReplyFrame) marshalPayload() []byte {
	buf := make([]byte, 20+len(f.Payload))
	binary.BigEndian.PutUint64(buf[0:8], f.BlockID)
	binary.BigEndian.PutUint64(buf[8:16], f.Sector)
	binary.BigEndian.PutUint32(buf[16:20], f.Size)
	copy(buf[20:], f.Payload)
	return buf
}

func unmarshalDataReplyFrame(data []byte) (*DataReplyFrame, error) {
	if len(data) < 20 {
		return nil, ErrInsufficientData
	}
	f := &DataReplyFrame{
		BlockID: binary.BigEndian.Uint64(data[0:8]),
		Sector:  binary.BigEndian.Uint64(data[8:16]),
		Size:    binary.BigEndian.Uint32(data[16:20]),
	}
	f.Payload = append([]byte(nil), data[20:]...)
	return f, nil
}

// RecvAckFrame acknowledges that a Data frame's payload has been received
// (protocol B: the ack the primary waits for before completing).
type RecvAckFrame struct {
	BlockID uint64
	Sector  uint64
	Size    uint32
}

func (f *RecvAckFrame) Command() Command { return CmdRecvAck }

func (f *RecvAckFrame) marshalPayload() []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint64(buf[0:8], f.BlockID)
	binary.BigEndian.PutUint64(buf[8:16], f.Sector)
	binary.BigEndian.PutUint32(buf[16:20], f.Size)
	return buf
}

func unmarshalRecvAckFrame(data []byte) (*RecvAckFrame, error) {
	if len(data) < 20 {
		return nil, ErrInsufficientData
	}
	return &RecvAckFrame{
		BlockID: binary.BigEndian.Uint64(data[0:8]),
		Sector:  binary.BigEndian.Uint64(data[8:16]),
		Size:    binary.BigEndian.Uint32(data[16:20]),
	}, nil
}

// WriteAckFrame acknowledges that a Data frame's payload has been durably
// written to the peer's backing store (protocol C: the ack the primary
// waits for before completing).
type WriteAckFrame struct {
	BlockID uint64
	Sector  uint64
	Size    uint32
}

func (f *WriteAckFrame) Command() Command { return CmdWriteAck }

func (f *WriteAckFrame) marshalPayload() []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint64(buf[0:8], f.BlockID)
	binary.BigEndian.PutUint64(buf[8:16], f.Sector)
	binary.BigEndian.PutUint32(buf[16:20], f.Size)
	return buf
}

func unmarshalWriteAckFrame(data []byte) (*WriteAckFrame, error) {
	if len(data) < 20 {
		return nil, ErrInsufficientData
	}
	return &WriteAckFrame{
		BlockID: binary.BigEndian.Uint64(data[0:8]),
		Sector:  binary.BigEndian.Uint64(data[8:16]),
		Size:    binary.BigEndian.Uint32(data[16:20]),
	}, nil
}

// BarrierFrame closes the sender's current epoch and opens the next one.
type BarrierFrame struct {
	BarrierNr uint32
}

func (f *BarrierFrame) Command() Command { return CmdBarrier }

func (f *BarrierFrame) marshalPayload() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf[0:4], f.BarrierNr)
	return buf
}

func unmarshalBarrierFrame(data []byte) (*BarrierFrame, error) {
	if len(data) < 4 {
		return nil, ErrInsufficientData
	}
	return &BarrierFrame{BarrierNr: binary.BigEndian.Uint32(data[0:4])}, nil
}

// BarrierAckFrame confirms that every request in the named epoch has been
// durably written on the peer, carrying the epoch's request count as a
// wire-level consistency check.
type BarrierAckFrame struct {
	BarrierNr uint32
	SetSize   uint32
}

func (f *BarrierAckFrame) Command() Command { return CmdBarrierAck }

func (f *BarrierAckFrame) marshalPayload() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], f.BarrierNr)
	binary.BigEndian.PutUint32(buf[4:8], f.SetSize)
	return buf
}

func unmarshalBarrierAckFrame(data []byte) (*BarrierAckFrame, error) {
	if len(data) < 8 {
		return nil, ErrInsufficientData
	}
	return &BarrierAckFrame{
		BarrierNr: binary.BigEndian.Uint32(data[0:4]),
		SetSize:   binary.BigEndian.Uint32(data[4:8]),
	}, nil
}

// ReportParamsFrame is exchanged at handshake: protocol version, geometry,
// and the metadata generation tuple used to decide which side is
// authoritative.
type ReportParamsFrame struct {
	ProtocolVersion    uint32
	BlockSize          uint32
	DeviceSize         uint64
	GenerationCounters [4]uint32
	BitmapUUID         uint64
}

func (f *ReportParamsFrame) Command() Command { return CmdReportParams }

func (f *ReportParamsFrame) marshalPayload() []byte {
	buf := make([]byte, 40)
	binary.BigEndian.PutUint32(buf[0:4], f.ProtocolVersion)
	binary.BigEndian.PutUint32(buf[4:8], f.BlockSize)
	binary.BigEndian.PutUint64(buf[8:16], f.DeviceSize)
	for i, g := range f.GenerationCounters {
		binary.BigEndian.PutUint32(buf[16+4*i:20+4*i], g)
	}
	binary.BigEndian.PutUint64(buf[32:40], f.BitmapUUID)
	return buf
}

func unmarshalReportParamsFrame(data []byte) (*ReportParamsFrame, error) {
	if len(data) < 40 {
		return nil, ErrInsufficientData
	}
	f := &ReportParamsFrame{
		ProtocolVersion: binary.BigEndian.Uint32(data[0:4]),
		BlockSize:       binary.BigEndian.Uint32(data[4:8]),
		DeviceSize:      binary.BigEndian.Uint64(data[8:16]),
		BitmapUUID:      binary.BigEndian.Uint64(data[32:40]),
	}
	for i := range f.GenerationCounters {
		f.GenerationCounters[i] = binary.BigEndian.Uint32(data[16+4*i : 20+4*i])
	}
	return f, nil
}

// ReportBitMapFrame streams one MTU-sized chunk of the dirty bitmap during
// handshake, identified by its starting bit offset.
type ReportBitMapFrame struct {
	BitOffset uint64
	Payload   []byte
}

func (f *ReportBitMapFrame) Command() Command { return CmdReportBitMap }

func (f *ReportBitMapFrame) marshalPayload() []byte {
	buf := make([]byte, 8+len(f.Payload))
	binary.BigEndian.PutUint64(buf[0:8], f.BitOffset)
	copy(buf[8:], f.Payload)
	return buf
}

func unmarshalReportBitMapFrame(data []byte) (*ReportBitMapFrame, error) {
	if len(data) < 8 {
		return nil, ErrInsufficientData
	}
	f := &ReportBitMapFrame{BitOffset: binary.BigEndian.Uint64(data[0:8])}
	f.Payload = append([]byte(nil), data[8:]...)
	return f, nil
}

// PingFrame is a heartbeat sent on the meta socket.
type PingFrame struct{}

func (f *PingFrame) Command() Command      { return CmdPing }
func (f *PingFrame) marshalPayload() []byte { return nil }

func unmarshalPingFrame([]byte) (*PingFrame, error) { return &PingFrame{}, nil }

// PingAckFrame answers a PingFrame.
type PingAckFrame struct{}

func (f *PingAckFrame) Command() Command      { return CmdPingAck }
func (f *PingAckFrame) marshalPayload() []byte { return nil }

func unmarshalPingAckFrame([]byte) (*PingAckFrame, error) { return &PingAckFrame{}, nil }

// BecomeSyncTargetFrame tells the peer it is now the resync target (its
// data is stale and it should expect RSDataRequest/DataReply traffic).
type BecomeSyncTargetFrame struct{}

func (f *BecomeSyncTargetFrame) Command() Command      { return CmdBecomeSyncTarget }
func (f *BecomeSyncTargetFrame) marshalPayload() []byte { return nil }

func unmarshalBecomeSyncTargetFrame([]byte) (*BecomeSyncTargetFrame, error) {
	return &BecomeSyncTargetFrame{}, nil
}

// BecomeSyncSourceFrame tells the peer it is now the resync source.
type BecomeSyncSourceFrame struct{}

func (f *BecomeSyncSourceFrame) Command() Command      { return CmdBecomeSyncSource }
func (f *BecomeSyncSourceFrame) marshalPayload() []byte { return nil }

func unmarshalBecomeSyncSourceFrame([]byte) (*BecomeSyncSourceFrame, error) {
	return &BecomeSyncSourceFrame{}, nil
}

// BecomeSecFrame requests that the peer demote itself to Secondary.
type BecomeSecFrame struct{}

func (f *BecomeSecFrame) Command() Command      { return CmdBecomeSec }
func (f *BecomeSecFrame) marshalPayload() []byte { return nil }

func unmarshalBecomeSecFrame([]byte) (*BecomeSecFrame, error) { return &BecomeSecFrame{}, nil }

// WriteHintFrame announces an upcoming application write so the receiver
// can schedule barrier placement ahead of the data itself arriving.
type WriteHintFrame struct {
	Sector uint64
	Size   uint32
}

func (f *WriteHintFrame) Command() Command { return CmdWriteHint }

func (f *WriteHintFrame) marshalPayload() []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], f.Sector)
	binary.BigEndian.PutUint32(buf[8:12], f.Size)
	return buf
}

func unmarshalWriteHintFrame(data []byte) (*WriteHintFrame, error) {
	if len(data) < 12 {
		return nil, ErrInsufficientData
	}
	return &WriteHintFrame{
		Sector: binary.BigEndian.Uint64(data[0:8]),
		Size:   binary.BigEndian.Uint32(data[8:12]),
	}, nil
}

// DataRequestFrame asks the peer to read and return a block, used by a
// diskless peer reading through the connection.
type DataRequestFrame struct {
	BlockID uint64
	Sector  uint64
	Size    uint32
}

func (f *DataRequestFrame) Command() Command { return CmdDataRequest }

func (f *DataRequestFrame) marshalPayload() []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint64(buf[0:8], f.BlockID)
	binary.BigEndian.PutUint64(buf[8:16], f.Sector)
	binary.BigEndian.PutUint32(buf[16:20], f.Size)
	return buf
}

func unmarshalDataRequestFrame(data []byte) (*DataRequestFrame, error) {
	if len(data) < 20 {
		return nil, ErrInsufficientData
	}
	return &DataRequestFrame{
		BlockID: binary.BigEndian.Uint64(data[0:8]),
		Sector:  binary.BigEndian.Uint64(data[8:16]),
		Size:    binary.BigEndian.Uint32(data[16:20]),
	}, nil
}

// RSDataRequestFrame is the sync source's checksum probe for one block of
// the resync scan: BlockID carries the source's checksum, and the target
// answers BlockInSync on a match or DataRequest otherwise.
type RSDataRequestFrame struct {
	BlockID uint64
	Sector  uint64
	Size    uint32
}

func (f *RSDataRequestFrame) Command() Command { return CmdRSDataRequest }

func (f *RSDataRequestFrame) marshalPayload() []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint64(buf[0:8], f.BlockID)
	binary.BigEndian.PutUint64(buf[8:16], f.Sector)
	binary.BigEndian.PutUint32(buf[16:20], f.Size)
	return buf
}

func unmarshalRSDataRequestFrame(data []byte) (*RSDataRequestFrame, error) {
	if len(data) < 20 {
		return nil, ErrInsufficientData
	}
	return &RSDataRequestFrame{
		BlockID: binary.BigEndian.Uint64(data[0:8]),
		Sector:  binary.BigEndian.Uint64(data[8:16]),
		Size:    binary.BigEndian.Uint32(data[16:20]),
	}, nil
}

// BlockInSyncFrame tells the resync source that the target now has this
// block in sync, so the bitmap bit can be cleared.
type BlockInSyncFrame struct {
	Sector uint64
	Size   uint32
}

func (f *BlockInSyncFrame) Command() Command { return CmdBlockInSync }

func (f *BlockInSyncFrame) marshalPayload() []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], f.Sector)
	binary.BigEndian.PutUint32(buf[8:12], f.Size)
	return buf
}

func unmarshalBlockInSyncFrame(data []byte) (*BlockInSyncFrame, error) {
	if len(data) < 12 {
		return nil, ErrInsufficientData
	}
	return &BlockInSyncFrame{
		Sector: binary.BigEndian.Uint64(data[0:8]),
		Size:   binary.BigEndian.Uint32(data[8:12]),
	}, nil
}

// SetSyncParamFrame adjusts the resync rate limit and checksum mode.
type SetSyncParamFrame struct {
	RateKiB     uint32
	UseChecksum bool
}

func (f *SetSyncParamFrame) Command() Command { return CmdSetSyncParam }

func (f *SetSyncParamFrame) marshalPayload() []byte {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint32(buf[0:4], f.RateKiB)
	if f.UseChecksum {
		buf[4] = 1
	}
	return buf
}

func unmarshalSetSyncParamFrame(data []byte) (*SetSyncParamFrame, error) {
	if len(data) < 5 {
		return nil, ErrInsufficientData
	}
	return &SetSyncParamFrame{
		RateKiB:     binary.BigEndian.Uint32(data[0:4]),
		UseChecksum: data[4] != 0,
	}, nil
}

// SyncStopFrame pauses an in-progress resync (e.g. operator command).
type SyncStopFrame struct{}

func (f *SyncStopFrame) Command() Command      { return CmdSyncStop }
func (f *SyncStopFrame) marshalPayload() []byte { return nil }

func unmarshalSyncStopFrame([]byte) (*SyncStopFrame, error) { return &SyncStopFrame{}, nil }

// SyncContFrame resumes a paused resync.
type SyncContFrame struct{}

func (f *SyncContFrame) Command() Command      { return CmdSyncCont }
func (f *SyncContFrame) marshalPayload() []byte { return nil }

func unmarshalSyncContFrame([]byte) (*SyncContFrame, error) { return &SyncContFrame{}, nil }

// unmarshalPayload dispatches on the command byte to the concrete frame
// type rather than casting a shared header.
func unmarshalPayload(cmd Command, data []byte) (Frame, error) {
	switch cmd {
	case CmdData:
		return unmarshalDataFrame(data)
	case CmdDataReply:
		return unmarshalDataReplyFrame(data)
	case CmdRecvAck:
		return unmarshalRecvAckFrame(data)
	case CmdWriteAck:
		return unmarshalWriteAckFrame(data)
	case CmdBarrier:
		return unmarshalBarrierFrame(data)
	case CmdBarrierAck:
		return unmarshalBarrierAckFrame(data)
	case CmdReportParams:
		return unmarshalReportParamsFrame(data)
	case CmdReportBitMap:
		return unmarshalReportBitMapFrame(data)
	case CmdPing:
		return unmarshalPingFrame(data)
	case CmdPingAck:
		return unmarshalPingAckFrame(data)
	case CmdBecomeSyncTarget:
		return unmarshalBecomeSyncTargetFrame(data)
	case CmdBecomeSyncSource:
		return unmarshalBecomeSyncSourceFrame(data)
	case CmdBecomeSec:
		return unmarshalBecomeSecFrame(data)
	case CmdWriteHint:
		return unmarshalWriteHintFrame(data)
	case CmdDataRequest:
		return unmarshalDataRequestFrame(data)
	case CmdRSDataRequest:
		return unmarshalRSDataRequestFrame(data)
	case CmdBlockInSync:
		return unmarshalBlockInSyncFrame(data)
	case CmdSetSyncParam:
		return unmarshalSetSyncParamFrame(data)
	case CmdSyncStop:
		return unmarshalSyncStopFrame(data)
	case CmdSyncCont:
		return unmarshalSyncContFrame(data)
	default:
		return nil, ErrUnknownCommand
	}
}
