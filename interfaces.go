package drbd

import "github.com/drbdgo/drbd/internal/interfaces"

// BackingStore is the local storage a node reads from and writes to.
type BackingStore = interfaces.BackingStore

// DiscardStore is an optional interface for TRIM/DISCARD support.
type DiscardStore = interfaces.DiscardStore

// Logger is the leveled logging interface every component takes optionally.
type Logger = interfaces.Logger
