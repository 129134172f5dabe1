// Package meta implements the Metadata Area: a fixed on-disk record
// persisted at the tail of the backing device, carrying the generation
// counters and bitmap-generation tuple used at handshake to decide which
// side of a connection holds authoritative data.
package meta

import (
	"encoding/binary"
	"errors"
)

// RecordSize is the fixed on-disk size of a Record in bytes.
const RecordSize = 64

const recordMagic uint32 = 0x4d455441 // "META"

// Counter names the generation counters tracked in a Record.
type Counter int

const (
	// CounterConnected increments each time the connection reaches
	// Connected with both sides fully in sync.
	CounterConnected Counter = iota
	// CounterHumanCount increments on an operator-forced full resync.
	CounterHumanCount
	// CounterConnectedCount increments on every successful handshake,
	// regardless of sync state.
	CounterConnectedCount
	// CounterArbitraryCount is reserved for site-local bookkeeping.
	CounterArbitraryCount
	numCounters
)

// Record is the fixed metadata record. Counters and BitmapGeneration
// together form the tuple Compare orders on.
type Record struct {
	Magic           uint32
	Counters        [numCounters]uint64
	BitmapGeneration uint64
	Flags           uint32
}

// ErrBadMagic is returned by Unmarshal when the record's magic does not
// match, indicating an uninitialized or corrupt metadata area.
var ErrBadMagic = errors.New("meta: bad record magic")

// NewRecord returns a freshly initialized record (all counters zero).
func NewRecord() Record {
	return Record{Magic: recordMagic}
}

// Marshal encodes the record into its fixed on-disk layout.
func (r Record) Marshal() []byte {
	buf := make([]byte, RecordSize)
	binary.BigEndian.PutUint32(buf[0:4], r.Magic)
	off := 4
	for _, c := range r.Counters {
		binary.BigEndian.PutUint64(buf[off:off+8], c)
		off += 8
	}
	binary.BigEndian.PutUint64(buf[off:off+8], r.BitmapGeneration)
	off += 8
	binary.BigEndian.PutUint32(buf[off:off+4], r.Flags)
	return buf
}

// Unmarshal decodes a record from its fixed on-disk layout.
func Unmarshal(data []byte) (Record, error) {
	if len(data) < RecordSize {
		return Record{}, errors.New("meta: truncated record")
	}
	r := Record{Magic: binary.BigEndian.Uint32(data[0:4])}
	if r.Magic != recordMagic {
		return Record{}, ErrBadMagic
	}
	off := 4
	for i := range r.Counters {
		r.Counters[i] = binary.BigEndian.Uint64(data[off : off+8])
		off += 8
	}
	r.BitmapGeneration = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	r.Flags = binary.BigEndian.Uint32(data[off : off+4])
	return r, nil
}

// Store persists and loads the metadata record against a backing device,
// written at the tail of the volume.
type Store struct {
	backend Backend
	offset  int64
	record  Record
}

// Backend is the subset of BackingStore the metadata store needs: a
// fixed-offset read/write surface, decoupled from the root package to
// avoid an import cycle.
type Backend interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// Open loads the metadata record from offset in backend. If the record is
// uninitialized (bad magic), a fresh zeroed record is returned instead of
// an error, since a brand-new volume has never had metadata written.
func Open(backend Backend, offset int64) (*Store, error) {
	buf := make([]byte, RecordSize)
	if _, err := backend.ReadAt(buf, offset); err != nil {
		return nil, err
	}

	record, err := Unmarshal(buf)
	if err != nil {
		if errors.Is(err, ErrBadMagic) {
			record = NewRecord()
		} else {
			return nil, err
		}
	}

	return &Store{backend: backend, offset: offset, record: record}, nil
}

// Write flushes the current counters and flags to the backing device.
func (s *Store) Write() error {
	_, err := s.backend.WriteAt(s.record.Marshal(), s.offset)
	return err
}

// Read reloads the record from the backing device, replacing in-memory
// state.
func (s *Store) Read() error {
	buf := make([]byte, RecordSize)
	if _, err := s.backend.ReadAt(buf, s.offset); err != nil {
		return err
	}
	record, err := Unmarshal(buf)
	if err != nil {
		return err
	}
	s.record = record
	return nil
}

// Inc increments one counter in memory; callers call Write to persist it.
func (s *Store) Inc(kind Counter) {
	s.record.Counters[kind]++
}

// SetBitmapGeneration updates the bitmap-generation tuple member.
func (s *Store) SetBitmapGeneration(gen uint64) {
	s.record.BitmapGeneration = gen
}

// Record returns a copy of the current in-memory record.
func (s *Store) Record() Record {
	return s.record
}

// Order reports the result of comparing this store's record against a
// peer's.
type Order int

const (
	// OrderEqual: counters and bitmap generation match; both sides agree.
	OrderEqual Order = iota
	// OrderNewer: this side's counters are ahead of the peer's.
	OrderNewer
	// OrderOlder: the peer's counters are ahead of this side's.
	OrderOlder
	// OrderDiverged: counters are equal but bitmap generations differ,
	// indicating divergent history. Requires operator intervention.
	OrderDiverged
)

// Compare orders this store's record against a peer's parameter packet,
// used at handshake to decide which side is authoritative.
func (s *Store) Compare(peerCounters [numCounters]uint64, peerBitmapGeneration uint64) Order {
	local := s.record.Counters[CounterConnectedCount]
	peer := peerCounters[CounterConnectedCount]

	switch {
	case local > peer:
		return OrderNewer
	case local < peer:
		return OrderOlder
	default:
		if s.record.BitmapGeneration != peerBitmapGeneration {
			return OrderDiverged
		}
		return OrderEqual
	}
}
