package worker

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/drbdgo/drbd/internal/interfaces"
	"github.com/drbdgo/drbd/internal/proto"
)

// AckSenderConfig configures an AckSender.
type AckSenderConfig struct {
	Conn         net.Conn // meta socket
	PingInterval time.Duration
	AckTimeout   time.Duration
	Logger       interfaces.Logger

	// OnTimeout is invoked once when no PingAck arrives within AckTimeout
	// of a Ping being sent.
	OnTimeout func()
}

// AckSender heartbeats the peer over the meta socket and declares a
// timeout if the peer stops answering within AckTimeout.
type AckSender struct {
	runStateBox

	conn         net.Conn
	pingInterval time.Duration
	ackTimeout   time.Duration
	logger       interfaces.Logger
	onTimeout    func()

	lastPong atomic.Int64 // unix nanos, set by the reader goroutine

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	lastErr error
}

// NewAckSender creates an AckSender bound to the meta socket conn.
func NewAckSender(ctx context.Context, config AckSenderConfig) *AckSender {
	interval := config.PingInterval
	if interval <= 0 {
		interval = time.Second
	}
	timeout := config.AckTimeout
	if timeout <= 0 {
		timeout = 6 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &AckSender{
		conn:         config.Conn,
		pingInterval: interval,
		ackTimeout:   timeout,
		logger:       config.Logger,
		onTimeout:    config.OnTimeout,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	a.set(Running)
	return a
}

// Start begins the heartbeat writer and the PingAck reader, each in its
// own goroutine.
func (a *AckSender) Start() {
	a.lastPong.Store(time.Now().UnixNano())
	go a.readLoop()
	go a.writeLoop()
}

// Stop cancels both loops and closes the meta socket to unblock any
// in-flight read.
func (a *AckSender) Stop() error {
	a.set(Exiting)
	a.cancel()
	return a.conn.Close()
}

// Close waits for the write loop to exit and returns the last error it
// observed; the read loop is not waited for.
func (a *AckSender) Close() error {
	<-a.done
	return a.lastErr
}

func (a *AckSender) writeLoop() {
	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()
	defer close(a.done)

	for {
		select {
		case <-a.ctx.Done():
			return

		case <-ticker.C:
			if err := proto.Encode(a.conn, &proto.PingFrame{}); err != nil {
				a.lastErr = err
				return
			}

			if since := time.Since(time.Unix(0, a.lastPong.Load())); since > a.ackTimeout {
				if a.onTimeout != nil {
					a.onTimeout()
				}
				return
			}
		}
	}
}

func (a *AckSender) readLoop() {
	for {
		frame, err := proto.Decode(a.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || a.get() == Exiting {
				return
			}
			if a.logger != nil {
				a.logger.Printf("acksender: decode error: %v", err)
			}
			return
		}

		switch frame.(type) {
		case *proto.PingAckFrame:
			a.lastPong.Store(time.Now().UnixNano())
		case *proto.PingFrame:
			if err := proto.Encode(a.conn, &proto.PingAckFrame{}); err != nil {
				return
			}
		}
	}
}
