package worker

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/drbdgo/drbd/internal/interfaces"
	"github.com/drbdgo/drbd/internal/proto"
)

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	Conn    net.Conn
	Handler Handler
	Logger  interfaces.Logger
}

// Receiver reads framed packets off the data socket and dispatches each to
// the Handler, generalizing the teacher's io_uring completion loop from
// SQE/CQE polling to blocking framed reads.
type Receiver struct {
	runStateBox

	conn    net.Conn
	handler Handler
	logger  interfaces.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	lastErr error
}

// NewReceiver creates a Receiver bound to conn.
func NewReceiver(ctx context.Context, config ReceiverConfig) *Receiver {
	ctx, cancel := context.WithCancel(ctx)
	r := &Receiver{
		conn:    config.Conn,
		handler: config.Handler,
		logger:  config.Logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.set(Running)
	return r
}

// Start begins the receive loop in a new goroutine.
func (r *Receiver) Start() {
	go r.ioLoop()
}

// Stop cancels the receive loop and closes the connection to unblock any
// in-flight read.
func (r *Receiver) Stop() error {
	r.set(Exiting)
	r.cancel()
	return r.conn.Close()
}

// Close waits for the loop to exit, then returns the last error observed
// (nil on a clean shutdown).
func (r *Receiver) Close() error {
	<-r.done
	return r.lastErr
}

func (r *Receiver) ioLoop() {
	defer close(r.done)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		frame, err := proto.Decode(r.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || r.get() == Exiting {
				return
			}
			if r.logger != nil {
				r.logger.Printf("receiver: decode error: %v", err)
			}
			r.lastErr = err
			return
		}

		if err := r.dispatch(frame); err != nil {
			if r.logger != nil {
				r.logger.Printf("receiver: handling %s failed: %v", frame.Command(), err)
			}
			r.lastErr = err
			return
		}
	}
}

func (r *Receiver) dispatch(frame proto.Frame) error {
	switch f := frame.(type) {
	case *proto.DataFrame:
		return r.handler.HandleData(f)
	case *proto.DataReplyFrame:
		return r.handler.HandleDataReply(f)
	case *proto.RecvAckFrame:
		r.handler.HandleRecvAck(f)
		return nil
	case *proto.WriteAckFrame:
		r.handler.HandleWriteAck(f)
		return nil
	case *proto.BarrierFrame:
		return r.handler.HandleBarrier(f)
	case *proto.BarrierAckFrame:
		return r.handler.HandleBarrierAck(f)
	case *proto.ReportParamsFrame:
		return r.handler.HandleReportParams(f)
	case *proto.ReportBitMapFrame:
		return r.handler.HandleReportBitMap(f)
	case *proto.PingFrame, *proto.PingAckFrame:
		return nil
	case *proto.BecomeSyncTargetFrame:
		return r.handler.HandleBecomeSyncTarget()
	case *proto.BecomeSyncSourceFrame:
		return r.handler.HandleBecomeSyncSource()
	case *proto.BecomeSecFrame:
		return r.handler.HandleBecomeSec()
	case *proto.WriteHintFrame:
		r.handler.HandleWriteHint(f)
		return nil
	case *proto.DataRequestFrame:
		return r.handler.HandleDataRequest(f)
	case *proto.RSDataRequestFrame:
		return r.handler.HandleRSDataRequest(f)
	case *proto.BlockInSyncFrame:
		r.handler.HandleBlockInSync(f)
		return nil
	case *proto.SetSyncParamFrame:
		r.handler.HandleSetSyncParam(f)
		return nil
	case *proto.SyncStopFrame:
		r.handler.HandleSyncStop()
		return nil
	case *proto.SyncContFrame:
		r.handler.HandleSyncCont()
		return nil
	default:
		return nil
	}
}
