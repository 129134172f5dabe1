// Package bufpool provides pooled byte slices for the wire protocol's
// frame-read hot path, avoiding a fresh allocation per incoming frame.
// Size-bucketed pools (128KB, 256KB, 512KB, 1MB) balance memory efficiency
// with allocation reduction; requests above the largest bucket allocate
// directly and are not pooled.
package bufpool

import "sync"

const (
	size128k = 128 * 1024
	size256k = 256 * 1024
	size512k = 512 * 1024
	size1m   = 1024 * 1024
)

// globalPool is the shared buffer pool for all frame decoding.
var globalPool = struct {
	pool128k sync.Pool
	pool256k sync.Pool
	pool512k sync.Pool
	pool1m   sync.Pool
}{
	pool128k: sync.Pool{New: func() any { b := make([]byte, size128k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool512k: sync.Pool{New: func() any { b := make([]byte, size512k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// Get returns a pooled buffer of at least the requested size. Callers must
// call Put when done; pooled returns the buffer's origin so the caller
// knows whether Put will have any effect.
func Get(size int) (buf []byte, pooled bool) {
	switch {
	case size <= size128k:
		return (*globalPool.pool128k.Get().(*[]byte))[:size], true
	case size <= size256k:
		return (*globalPool.pool256k.Get().(*[]byte))[:size], true
	case size <= size512k:
		return (*globalPool.pool512k.Get().(*[]byte))[:size], true
	case size <= size1m:
		return (*globalPool.pool1m.Get().(*[]byte))[:size], true
	default:
		return make([]byte, size), false
	}
}

// Put returns a buffer obtained from Get back to its pool. Buffers with a
// non-standard capacity (oversized allocations Get made directly) are
// dropped rather than pooled.
func Put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size128k:
		globalPool.pool128k.Put(&buf)
	case size256k:
		globalPool.pool256k.Put(&buf)
	case size512k:
		globalPool.pool512k.Put(&buf)
	case size1m:
		globalPool.pool1m.Put(&buf)
	}
}
