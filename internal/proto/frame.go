// Package proto implements the replication engine's wire protocol: a fixed
// frame header followed by a command-specific payload, decoded into a
// tagged union of concrete Go types rather than cast from a shared header.
package proto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/drbdgo/drbd/internal/bufpool"
)

// Magic identifies the start of a frame on either socket.
const Magic uint32 = 0x44524244 // "DRBD" (ASCII D R B D, packed)

// HeaderSize is the on-wire size of Header in bytes.
const HeaderSize = 8

// Command identifies the frame's payload type.
type Command uint16

const (
	CmdData Command = iota + 1
	CmdDataReply
	CmdRecvAck
	CmdWriteAck
	CmdBarrier
	CmdBarrierAck
	CmdReportParams
	CmdReportBitMap
	CmdPing
	CmdPingAck
	CmdBecomeSyncTarget
	CmdBecomeSyncSource
	CmdBecomeSec
	CmdWriteHint
	CmdDataRequest
	CmdRSDataRequest
	CmdBlockInSync
	CmdSetSyncParam
	CmdSyncStop
	CmdSyncCont
)

func (c Command) String() string {
	switch c {
	case CmdData:
		return "Data"
	case CmdDataReply:
		return "DataReply"
	case CmdRecvAck:
		return "RecvAck"
	case CmdWriteAck:
		return "WriteAck"
	case CmdBarrier:
		return "Barrier"
	case CmdBarrierAck:
		return "BarrierAck"
	case CmdReportParams:
		return "ReportParams"
	case CmdReportBitMap:
		return "ReportBitMap"
	case CmdPing:
		return "Ping"
	case CmdPingAck:
		return "PingAck"
	case CmdBecomeSyncTarget:
		return "BecomeSyncTarget"
	case CmdBecomeSyncSource:
		return "BecomeSyncSource"
	case CmdBecomeSec:
		return "BecomeSec"
	case CmdWriteHint:
		return "WriteHint"
	case CmdDataRequest:
		return "DataRequest"
	case CmdRSDataRequest:
		return "RSDataRequest"
	case CmdBlockInSync:
		return "BlockInSync"
	case CmdSetSyncParam:
		return "SetSyncParam"
	case CmdSyncStop:
		return "SyncStop"
	case CmdSyncCont:
		return "SyncCont"
	default:
		return fmt.Sprintf("Command(%d)", uint16(c))
	}
}

// MarshalError reports a framing-level failure (truncated header, bad
// magic, unknown command). It is distinct from the engine's *Error so that
// callers can map it onto ErrCodeProtocolViolation at the boundary.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
	ErrBadMagic         MarshalError = "bad frame magic"
	ErrUnknownCommand   MarshalError = "unknown command"
	ErrFrameTooLarge    MarshalError = "frame payload exceeds maximum size"
)

// MaxPayloadSize bounds a single frame's payload. The header's Length field
// is a uint16, so this is also a hard wire limit, not just a sanity check:
// anything larger cannot be represented and must be rejected rather than
// silently truncated.
const MaxPayloadSize = 65535

// Header is the fixed 8-byte preamble of every frame.
type Header struct {
	Magic   uint32
	Command Command
	Length  uint16 // payload length in bytes, not including the header
}

func (h Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], uint16(h.Command))
	binary.BigEndian.PutUint16(buf[6:8], h.Length)
	return buf
}

func unmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrInsufficientData
	}
	h := Header{
		Magic:   binary.BigEndian.Uint32(buf[0:4]),
		Command: Command(binary.BigEndian.Uint16(buf[4:6])),
		Length:  binary.BigEndian.Uint16(buf[6:8]),
	}
	if h.Magic != Magic {
		return Header{}, ErrBadMagic
	}
	return h, nil
}

// Frame is implemented by every concrete wire message.
type Frame interface {
	Command() Command
	marshalPayload() []byte
}

// Encode writes a frame's header and payload to w.
func Encode(w io.Writer, f Frame) error {
	payload := f.marshalPayload()
	if len(payload) > MaxPayloadSize {
		return ErrFrameTooLarge
	}
	h := Header{Magic: Magic, Command: f.Command(), Length: uint16(len(payload))}
	if _, err := w.Write(h.marshal()); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// Decode reads one frame from r, dispatching on the command byte to the
// concrete type rather than casting a shared header.
func Decode(r io.Reader) (Frame, error) {
	hbuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hbuf); err != nil {
		return nil, err
	}
	h, err := unmarshalHeader(hbuf)
	if err != nil {
		return nil, err
	}

	if h.Length == 0 {
		return unmarshalPayload(h.Command, nil)
	}

	// Every unmarshal*Frame copies out the sub-slices it needs to retain
	// (see e.g. unmarshalDataFrame), so the raw read buffer never escapes
	// this call and can always come from the pool.
	payload, pooled := bufpool.Get(int(h.Length))
	if pooled {
		defer bufpool.Put(payload)
	}
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return unmarshalPayload(h.Command, payload)
}
