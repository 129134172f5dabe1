package drbd

import (
	"github.com/drbdgo/drbd/internal/constants"
	"github.com/drbdgo/drbd/internal/state"
)

// ConnState is the connection's lifecycle state, as reported by State().
type ConnState = state.ConnState

// Re-exported connection states.
const (
	StateStandalone     = state.Standalone
	StateUnconnected    = state.Unconnected
	StateWFConnection   = state.WFConnection
	StateWFReportParams = state.WFReportParams
	StateConnected      = state.Connected
	StateSyncingAll     = state.SyncingAll
	StateSyncingQuick   = state.SyncingQuick
	StateSyncSource     = state.SyncSource
	StateSyncTarget     = state.SyncTarget
	StateTimeout        = state.Timeout
	StateBrokenPipe     = state.BrokenPipe
	StateNetworkFailure = state.NetworkFailure
)

// Re-exported defaults for the public API.
const (
	SectorSize                = constants.SectorSize
	BitmapGranularity         = constants.BitmapGranularity
	DefaultALExtents          = constants.DefaultALExtents
	ALExtentSize              = constants.ALExtentSize
	DefaultEpochEntries       = constants.DefaultEpochEntries
	DefaultALTransactionSlots = constants.DefaultALTransactionSlots
	DefaultMaxIOSize          = constants.DefaultMaxIOSize
	DefaultSyncRate           = constants.DefaultSyncRate
)

// Protocol selects the write consistency mode. See ProtocolA/B/C.
type Protocol = constants.Protocol

const (
	ProtocolA = constants.ProtocolA
	ProtocolB = constants.ProtocolB
	ProtocolC = constants.ProtocolC

	DefaultProtocol = constants.DefaultProtocol
)
