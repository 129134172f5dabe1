package worker

import (
	"context"
	"net"
	"time"

	"github.com/drbdgo/drbd/internal/interfaces"
	"github.com/drbdgo/drbd/internal/proto"
)

// ResyncSource is polled by DiskSender when there is no outbound traffic
// queued, letting the resync engine interleave its own frames (resync
// reads, BlockInSync notices) with application traffic without owning the
// socket itself.
type ResyncSource interface {
	// NextFrame returns the next resync frame to send, or ok=false if the
	// resync engine has nothing to send right now.
	NextFrame() (frame proto.Frame, ok bool)
}

// EntryDrain is implemented by the epoch entry pool. DiskSender polls it
// alongside the resync source so that entries a peer-write or peer-read
// handler moved onto the done/rdone lists get their OnDone callback (which
// enqueues the associated ack/reply frame) run off the receive path,
// instead of inline in the frame-decode loop.
type EntryDrain interface {
	ProcessDone()
}

// DiskSenderConfig configures a DiskSender.
type DiskSenderConfig struct {
	Conn     net.Conn
	Outbound <-chan proto.Frame
	Resync   ResyncSource
	Pool     EntryDrain
	Logger   interfaces.Logger

	// PollInterval governs how often the resync source and entry pool are
	// polled when the outbound queue is empty.
	PollInterval time.Duration
}

// DiskSender drains the outbound frame queue (acks, barriers, and
// resync-generated traffic) and writes each frame to the data socket. It
// is the only goroutine that writes to that socket.
type DiskSender struct {
	runStateBox

	conn     net.Conn
	outbound <-chan proto.Frame
	resync   ResyncSource
	pool     EntryDrain
	logger   interfaces.Logger
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	lastErr error
}

// NewDiskSender creates a DiskSender bound to conn.
func NewDiskSender(ctx context.Context, config DiskSenderConfig) *DiskSender {
	interval := config.PollInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(ctx)
	d := &DiskSender{
		conn:     config.Conn,
		outbound: config.Outbound,
		resync:   config.Resync,
		pool:     config.Pool,
		logger:   config.Logger,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	d.set(Running)
	return d
}

// Start begins the send loop in a new goroutine.
func (d *DiskSender) Start() {
	go d.ioLoop()
}

// Stop cancels the send loop.
func (d *DiskSender) Stop() error {
	d.set(Exiting)
	d.cancel()
	return nil
}

// Close waits for the loop to exit and returns the last error observed.
func (d *DiskSender) Close() error {
	<-d.done
	return d.lastErr
}

func (d *DiskSender) ioLoop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case frame, ok := <-d.outbound:
			if !ok {
				return
			}
			if err := d.send(frame); err != nil {
				return
			}

		case <-ticker.C:
			if d.pool != nil {
				d.pool.ProcessDone()
			}
			if d.resync == nil {
				continue
			}
			frame, ok := d.resync.NextFrame()
			if !ok {
				continue
			}
			if err := d.send(frame); err != nil {
				return
			}
		}
	}
}

func (d *DiskSender) send(frame proto.Frame) error {
	if err := proto.Encode(d.conn, frame); err != nil {
		if d.logger != nil {
			d.logger.Printf("disksender: encode %s failed: %v", frame.Command(), err)
		}
		d.lastErr = err
		return err
	}
	return nil
}
