package drbd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitForState(t *testing.T, n *Node, want ConnState, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if n.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, still %s", want.String(), n.State().String())
		case <-time.After(time.Millisecond):
		}
	}
}

func connectedPair(t *testing.T, protocol Protocol) (primary, secondary *Node, cleanup func()) {
	t.Helper()

	const volumeSize = 64 * 1024
	primaryBackend := NewMockBackingStore(volumeSize)
	secondaryBackend := NewMockBackingStore(volumeSize)

	ctx, cancel := context.WithCancel(context.Background())

	primaryParams := DefaultParams(primaryBackend)
	primaryParams.Protocol = protocol
	pNode, err := NewNode(ctx, primaryParams, nil)
	require.NoError(t, err)

	secondaryParams := DefaultParams(secondaryBackend)
	secondaryParams.Protocol = protocol
	sNode, err := NewNode(ctx, secondaryParams, nil)
	require.NoError(t, err)

	dataA, dataB := NewMockConnPair()
	metaA, metaB := NewMockConnPair()

	require.NoError(t, sNode.Connect(dataB, metaB, false))
	require.NoError(t, pNode.Connect(dataA, metaA, true))

	waitForState(t, pNode, StateConnected, 2*time.Second)
	waitForState(t, sNode, StateConnected, 2*time.Second)

	cleanup = func() {
		pNode.Close()
		sNode.Close()
		cancel()
	}
	return pNode, sNode, cleanup
}

func TestConnectHandshakeReachesConnected(t *testing.T) {
	primary, secondary, cleanup := connectedPair(t, ProtocolC)
	defer cleanup()

	require.True(t, primary.IsPrimary(), "expected primary node to report primary")
	require.False(t, secondary.IsPrimary(), "expected secondary node to not report primary")
}

func TestProtocolCWriteReplicatesToSecondary(t *testing.T) {
	primary, secondary, cleanup := connectedPair(t, ProtocolC)
	defer cleanup()

	payload := bytes.Repeat([]byte{0xAB}, int(BitmapGranularity))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, primary.Write(ctx, 0, payload))

	deadline := time.After(2 * time.Second)
	for {
		got, err := secondary.Read(ctx, 0, int64(len(payload)))
		if err == nil && bytes.Equal(got, payload) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("secondary never observed the replicated write (last err=%v)", err)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWriteRefusedWhenNotPrimary(t *testing.T) {
	_, secondary, cleanup := connectedPair(t, ProtocolC)
	defer cleanup()

	err := secondary.Write(context.Background(), 0, make([]byte, BitmapGranularity))
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeStateRefused), "expected ErrCodeStateRefused, got %v", err)
}

func TestBecomeSecondaryDemotesAndNotifiesPeer(t *testing.T) {
	primary, secondary, cleanup := connectedPair(t, ProtocolC)
	defer cleanup()

	require.NoError(t, primary.BecomeSecondary())
	require.False(t, primary.IsPrimary(), "expected primary to demote itself locally")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for secondary.IsPrimary() {
		select {
		case <-ctx.Done():
			t.Fatal("secondary never observed BecomeSec from peer")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestInvalidateStartsResyncAsSource(t *testing.T) {
	primary, _, cleanup := connectedPair(t, ProtocolC)
	defer cleanup()

	primary.Invalidate()
	waitForState(t, primary, StateSyncSource, 2*time.Second)

	info := primary.Info()
	require.NotZero(t, info.ResyncTotal, "expected Invalidate to mark the whole volume out of sync")
}

func TestInfoAndMetricsSnapshot(t *testing.T) {
	primary, _, cleanup := connectedPair(t, ProtocolC)
	defer cleanup()

	payload := make([]byte, BitmapGranularity)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, primary.Write(ctx, 0, payload))

	snap := primary.MetricsSnapshot()
	require.NotZero(t, snap.WriteOps, "expected at least one recorded write")

	info := primary.Info()
	require.NotEmpty(t, info.State)
	require.Equal(t, primary.dataSize, info.Size)
}
