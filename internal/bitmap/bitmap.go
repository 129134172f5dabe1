// Package bitmap tracks, at BitmapGranularity resolution, which regions of
// a volume are known out of sync with the peer. It backs both resync
// scheduling (NextDirtyChunk) and progress accounting (the net change
// returned by Set).
package bitmap

import (
	"math/bits"
	"sync"

	"github.com/drbdgo/drbd/internal/constants"
)

// Bitmap is a packed array of bits, one per BitmapGranularity-sized chunk
// of the volume, plus a streaming cursor for chunked resync scans. A single
// mutex guards both the array and the cursor.
type Bitmap struct {
	mu     sync.Mutex
	words  []uint64
	nbits  uint64
	cursor uint64
}

// New creates a Bitmap covering a volume of sizeBytes, rounding the bit
// count up to the nearest chunk.
func New(sizeBytes int64) *Bitmap {
	nbits := chunksFor(sizeBytes)
	return &Bitmap{
		words: make([]uint64, wordsFor(nbits)),
		nbits: nbits,
	}
}

func chunksFor(sizeBytes int64) uint64 {
	if sizeBytes <= 0 {
		return 0
	}
	g := int64(constants.BitmapGranularity)
	return uint64((sizeBytes + g - 1) / g)
}

func wordsFor(nbits uint64) uint64 {
	return (nbits + 63) / 64
}

func chunkRange(sector, size int64) (first, last uint64) {
	g := int64(constants.BitmapGranularity)
	first = uint64(sector * constants.SectorSize / g)
	end := sector*constants.SectorSize + size - 1
	last = uint64(end / g)
	return first, last
}

// Set marks the chunks covering [sector, sector+size) as out-of-sync
// (inSync=false) or in-sync (inSync=true). It returns the net change in
// out-of-sync chunk count: positive when chunks newly became dirty,
// negative when chunks newly became clean.
func (b *Bitmap) Set(sector, size int64, inSync bool) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	first, last := chunkRange(sector, size)
	if last >= b.nbits {
		last = b.nbits - 1
	}

	var delta int64
	for bit := first; bit <= last && bit < b.nbits; bit++ {
		wasDirty := b.testLocked(bit)
		if inSync && wasDirty {
			b.clearLocked(bit)
			delta--
		} else if !inSync && !wasDirty {
			b.setLocked(bit)
			delta++
		}
	}
	return delta
}

// Get reports whether any chunk covering [sector, sector+size) is dirty.
func (b *Bitmap) Get(sector, size int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	first, last := chunkRange(sector, size)
	if last >= b.nbits {
		last = b.nbits - 1
	}
	for bit := first; bit <= last && bit < b.nbits; bit++ {
		if b.testLocked(bit) {
			return true
		}
	}
	return false
}

// Chunk is a contiguous dirty range returned by NextDirtyChunk, expressed
// in bytes from the start of the volume.
type Chunk struct {
	Offset int64
	Length int64
}

// NextDirtyChunk scans forward from the cursor for up to maxBits worth of
// contiguous dirty bits, returning the covering byte range and advancing
// the cursor past it. ok is false once the scan wraps without finding a
// dirty bit. Callers size maxBits to whatever transport unit will carry the
// chunk (e.g. constants.ResyncChunkBits for a resync data frame).
func (b *Bitmap) NextDirtyChunk(maxBits uint64) (chunk Chunk, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.nbits == 0 {
		return Chunk{}, false
	}

	start := b.cursor
	scanned := uint64(0)
	for scanned < b.nbits {
		bit := (start + scanned) % b.nbits
		scanned++
		if !b.testLocked(bit) {
			continue
		}

		firstDirty := bit
		lastDirty := bit
		limit := firstDirty + maxBits
		for scanned < b.nbits {
			next := (start + scanned) % b.nbits
			if next != lastDirty+1 || next >= limit {
				break
			}
			if !b.testLocked(next) {
				break
			}
			lastDirty = next
			scanned++
		}

		b.cursor = (lastDirty + 1) % b.nbits
		g := int64(constants.BitmapGranularity)
		return Chunk{
			Offset: int64(firstDirty) * g,
			Length: int64(lastDirty-firstDirty+1) * g,
		}, true
	}

	return Chunk{}, false
}

// Fill sets every bit to dirty (value=false) or clean (value=true).
func (b *Bitmap) Fill(inSync bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var w uint64
	if !inSync {
		w = ^uint64(0)
	}
	for i := range b.words {
		b.words[i] = w
	}
	if rem := b.nbits % 64; !inSync && rem != 0 {
		b.words[len(b.words)-1] &= (uint64(1) << rem) - 1
	}
	b.cursor = 0
}

// Reset clears the bitmap to fully in-sync and rewinds the cursor.
func (b *Bitmap) Reset() {
	b.Fill(true)
}

// Resize changes the bitmap's coverage to sizeBytes, preserving existing
// bits where the new size overlaps the old.
func (b *Bitmap) Resize(sizeBytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	newBits := chunksFor(sizeBytes)
	newWords := make([]uint64, wordsFor(newBits))
	copy(newWords, b.words)

	if newBits < b.nbits && newBits%64 != 0 {
		lastWord := newBits / 64
		mask := (uint64(1) << (newBits % 64)) - 1
		if int(lastWord) < len(newWords) {
			newWords[lastWord] &= mask
		}
	}

	b.words = newWords
	b.nbits = newBits
	if b.cursor >= newBits {
		b.cursor = 0
	}
}

// OutOfSyncCount returns the total number of dirty chunks, used for
// rs_total/rs_left progress accounting.
func (b *Bitmap) OutOfSyncCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var count uint64
	for _, w := range b.words {
		count += uint64(bits.OnesCount64(w))
	}
	return count
}

// Bits returns the total number of chunks covered by the bitmap.
func (b *Bitmap) Bits() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nbits
}

// ExportChunk packs up to maxBytes worth of bits starting at bitOffset into
// a byte slice (one bit per chunk, LSB first), for transmission in a
// ReportBitMap frame during handshake or full-bitmap recovery.
func (b *Bitmap) ExportChunk(bitOffset uint64, maxBytes int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bitOffset >= b.nbits {
		return nil
	}
	remaining := b.nbits - bitOffset
	n := (remaining + 7) / 8
	if int64(n) > int64(maxBytes) {
		n = uint64(maxBytes)
	}
	out := make([]byte, n)
	for i := uint64(0); i < n*8 && bitOffset+i < b.nbits; i++ {
		if b.testLocked(bitOffset + i) {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// MergeDirty ORs the dirty bits encoded in payload (one bit per chunk, LSB
// first) into the bitmap starting at bitOffset, used when applying an
// incoming ReportBitMap frame from a peer.
func (b *Bitmap) MergeDirty(bitOffset uint64, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, by := range payload {
		if by == 0 {
			continue
		}
		for bitIdx := 0; bitIdx < 8; bitIdx++ {
			if by&(1<<uint(bitIdx)) == 0 {
				continue
			}
			bit := bitOffset + uint64(i)*8 + uint64(bitIdx)
			if bit >= b.nbits {
				continue
			}
			b.setLocked(bit)
		}
	}
}

func (b *Bitmap) testLocked(bit uint64) bool {
	return b.words[bit/64]&(uint64(1)<<(bit%64)) != 0
}

func (b *Bitmap) setLocked(bit uint64) {
	b.words[bit/64] |= uint64(1) << (bit % 64)
}

func (b *Bitmap) clearLocked(bit uint64) {
	b.words[bit/64] &^= uint64(1) << (bit % 64)
}
