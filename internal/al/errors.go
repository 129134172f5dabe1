package al

import "errors"

// ErrWouldBlock is returned by BeginIO when every resident extent has
// in-flight I/O and none can be evicted to make room for the requested one.
var ErrWouldBlock = errors.New("activity log: would block, no extent available for eviction")
