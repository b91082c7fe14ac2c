// Package reccodec defines the fixed-width, 8-byte-aligned on-disk layout
// of a single HNSW node record and the routines to read and write it
// directly against mmap-backed byte slices without allocating.
package reccodec

import "encoding/binary"

// InvalidNodeID is the sentinel stored in empty neighbor slots and used
// as the "no entry point" marker in the graph header. No live node may
// ever carry this id.
const InvalidNodeID uint64 = ^uint64(0)

// headerSize is the fixed size of NodeHeader on disk: node_id(8) +
// layer_count(1) + flags(1) + pad(6).
const headerSize = 16

// neighborWidth is the on-disk width of one neighbor slot.
const neighborWidth = 8

// Params fixes the shape of every record in a file for its lifetime.
// Changing any field requires a fresh file.
type Params struct {
	M         uint16
	M0        uint16
	MaxLayers uint8
}

// RecordSize returns the fixed byte size of a node record under p,
// rounded up to an 8-byte boundary (the neighbor arrays are already
// 8-byte multiples, so this is a no-op in practice, but it keeps the
// contract explicit if header fields ever grow).
func (p Params) RecordSize() int {
	size := headerSize + int(p.M0)*neighborWidth + (int(p.MaxLayers)-1)*int(p.M)*neighborWidth
	return alignUp8(size)
}

// LayerOffset returns the byte offset of layer l's neighbor array
// relative to the start of a record.
func (p Params) LayerOffset(layer int) int {
	if layer == 0 {
		return headerSize
	}
	return headerSize + int(p.M0)*neighborWidth + (layer-1)*int(p.M)*neighborWidth
}

// LayerCapacity returns how many neighbor slots layer l has: M0 at layer
// 0, M at every layer above it.
func (p Params) LayerCapacity(layer int) int {
	if layer == 0 {
		return int(p.M0)
	}
	return int(p.M)
}

func alignUp8(n int) int {
	return (n + 7) &^ 7
}

// Header is the fixed 16-byte prefix of every node record.
type Header struct {
	NodeID     uint64
	LayerCount uint8
	Flags      uint8
}

// Record is a decoded view of one node: its header plus the raw neighbor
// bytes for every layer, laid out exactly as on disk.
type Record struct {
	Header Header
	Params Params
	raw    []byte // record-sized buffer, header + all neighbor layers
}

// New builds a blank record for a freshly-inserted node: the header is
// populated and every neighbor slot across layerCount layers is the
// sentinel.
func New(nodeID uint64, layerCount uint8, p Params) *Record {
	r := &Record{
		Header: Header{NodeID: nodeID, LayerCount: layerCount},
		Params: p,
		raw:    make([]byte, p.RecordSize()),
	}
	r.encodeHeader()
	for layer := 0; layer < int(layerCount); layer++ {
		r.fillSentinel(layer)
	}
	return r
}

func (r *Record) fillSentinel(layer int) {
	off := r.Params.LayerOffset(layer)
	cap := r.Params.LayerCapacity(layer)
	for i := 0; i < cap; i++ {
		binary.LittleEndian.PutUint64(r.raw[off+i*neighborWidth:], InvalidNodeID)
	}
}

func (r *Record) encodeHeader() {
	binary.LittleEndian.PutUint64(r.raw[0:8], r.Header.NodeID)
	r.raw[8] = r.Header.LayerCount
	r.raw[9] = r.Header.Flags
	// raw[10:16] stays zero padding.
}

// Bytes returns the record's raw on-disk representation.
func (r *Record) Bytes() []byte {
	return r.raw
}

// Decode parses a record-sized byte slice in place (no copy beyond the
// slice header) and validates the invariants deserialization must check:
// layer_count > 0 and node_id != InvalidNodeID.
func Decode(buf []byte, p Params) (*Record, error) {
	if len(buf) < p.RecordSize() {
		return nil, ErrShortBuffer
	}
	h := Header{
		NodeID:     binary.LittleEndian.Uint64(buf[0:8]),
		LayerCount: buf[8],
		Flags:      buf[9],
	}
	if h.NodeID == InvalidNodeID {
		return nil, ErrInvalidHeader
	}
	if h.LayerCount == 0 {
		return nil, ErrInvalidHeader
	}
	return &Record{Header: h, Params: p, raw: buf[:p.RecordSize()]}, nil
}

// GetNeighbors returns the non-sentinel neighbor ids of layer l. It
// allocates a result slice; prefer NeighborsIter on hot paths.
func (r *Record) GetNeighbors(layer int) []uint64 {
	cap := r.Params.LayerCapacity(layer)
	out := make([]uint64, 0, cap)
	r.NeighborsIter(layer, func(id uint64) bool {
		out = append(out, id)
		return true
	})
	return out
}

// NeighborsIter calls fn for every non-sentinel neighbor id in layer l,
// reading directly out of the record's backing bytes with no
// allocation. It stops early if fn returns false.
func (r *Record) NeighborsIter(layer int, fn func(id uint64) bool) {
	off := r.Params.LayerOffset(layer)
	cap := r.Params.LayerCapacity(layer)
	for i := 0; i < cap; i++ {
		id := binary.LittleEndian.Uint64(r.raw[off+i*neighborWidth:])
		if id == InvalidNodeID {
			continue
		}
		if !fn(id) {
			return
		}
	}
}

// NeighborCount returns the number of occupied (non-sentinel) slots in
// layer l.
func (r *Record) NeighborCount(layer int) int {
	n := 0
	r.NeighborsIter(layer, func(uint64) bool { n++; return true })
	return n
}

// SetNeighbors overwrites layer l's neighbor array with ids, padding the
// remainder with the sentinel. Passing more ids than the layer's capacity
// is a programmer error and panics, matching the spec's "exceeding
// capacity on set_neighbors is a programmer error" contract.
func (r *Record) SetNeighbors(layer int, ids []uint64) {
	cap := r.Params.LayerCapacity(layer)
	if len(ids) > cap {
		panic("reccodec: SetNeighbors exceeds layer capacity")
	}
	off := r.Params.LayerOffset(layer)
	i := 0
	for ; i < len(ids); i++ {
		binary.LittleEndian.PutUint64(r.raw[off+i*neighborWidth:], ids[i])
	}
	for ; i < cap; i++ {
		binary.LittleEndian.PutUint64(r.raw[off+i*neighborWidth:], InvalidNodeID)
	}
}

// AddNeighbor fills the first sentinel slot in layer l with id and
// reports whether there was room. It is idempotent: if id is already
// present, it reports true without modifying the record.
func (r *Record) AddNeighbor(layer int, id uint64) bool {
	off := r.Params.LayerOffset(layer)
	cap := r.Params.LayerCapacity(layer)
	firstFree := -1
	for i := 0; i < cap; i++ {
		slot := binary.LittleEndian.Uint64(r.raw[off+i*neighborWidth:])
		if slot == id {
			return true
		}
		if slot == InvalidNodeID && firstFree == -1 {
			firstFree = i
		}
	}
	if firstFree == -1 {
		return false
	}
	binary.LittleEndian.PutUint64(r.raw[off+firstFree*neighborWidth:], id)
	return true
}

// HasNeighbor reports whether id is present in layer l.
func (r *Record) HasNeighbor(layer int, id uint64) bool {
	found := false
	r.NeighborsIter(layer, func(n uint64) bool {
		if n == id {
			found = true
			return false
		}
		return true
	})
	return found
}
