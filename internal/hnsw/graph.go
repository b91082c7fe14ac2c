// Package hnsw implements the on-disk HNSW graph: the graph-zone header,
// node-record addressing, bidirectional linking with Heuristic 2
// diversity selection, and layered search. It owns a storage.Storage by
// composition and treats everything past the graph header as an array
// of fixed-width node records.
package hnsw

import (
	"encoding/binary"
	"fmt"

	"github.com/chassisdb/chassis/internal/chassiserr"
	"github.com/chassisdb/chassis/internal/distkernel"
	"github.com/chassisdb/chassis/internal/reccodec"
	"github.com/chassisdb/chassis/internal/storage"
)

// InvalidNodeID mirrors reccodec.InvalidNodeID; re-exported so callers of
// this package never need to import reccodec just for the sentinel.
const InvalidNodeID = reccodec.InvalidNodeID

const graphHeaderSize = 64

var graphMagic = [4]byte{'H', 'N', 'S', 'W'}

const graphFormatVersion = uint32(1)

// graph header field byte offsets, relative to the start of the graph
// zone (storage.GraphZoneStart).
const (
	ghOffMagic      = 0
	ghOffVersion    = 4
	ghOffEntryPoint = 8
	ghOffNodeCount  = 16
	ghOffMaxLayer   = 24
	ghOffM          = 28
	ghOffM0         = 30
	ghOffMaxLayers  = 32
)

// Params fixes the build parameters for the lifetime of a file.
type Params struct {
	M              uint16
	EfConstruction int
	EfSearch       int
	MaxLayers      uint8
}

func (p Params) record() reccodec.Params {
	return reccodec.Params{M: p.M, M0: p.M * 2, MaxLayers: p.MaxLayers}
}

// Graph is the HNSW layer over a Storage. Exclusivity for writers and
// shared access for readers is the facade's responsibility; Graph
// performs no locking of its own beyond what Storage already does around
// the mapping pointer.
type Graph struct {
	storage    *storage.Storage
	params     Params
	recParams  reccodec.Params
	recordSize int
}

// Open ensures the graph-zone header exists (writing a fresh one for a
// brand new file) or validates an existing one's magic, version, and
// build parameters against params, failing on any mismatch.
func Open(s *storage.Storage, params Params) (*Graph, error) {
	if err := s.EnsureGraphCapacity(graphHeaderSize); err != nil {
		return nil, err
	}
	hdr, err := s.GraphZoneMut(0, graphHeaderSize)
	if err != nil {
		return nil, err
	}

	g := &Graph{storage: s, params: params, recParams: params.record()}
	g.recordSize = g.recParams.RecordSize()

	if isZero(hdr[ghOffMagic : ghOffMagic+4]) {
		g.writeFreshHeader(hdr)
		return g, nil
	}

	if err := g.validateHeader(hdr); err != nil {
		return nil, err
	}
	return g, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (g *Graph) writeFreshHeader(hdr []byte) {
	copy(hdr[ghOffMagic:ghOffMagic+4], graphMagic[:])
	binary.LittleEndian.PutUint32(hdr[ghOffVersion:], graphFormatVersion)
	binary.LittleEndian.PutUint64(hdr[ghOffEntryPoint:], InvalidNodeID)
	binary.LittleEndian.PutUint64(hdr[ghOffNodeCount:], 0)
	binary.LittleEndian.PutUint32(hdr[ghOffMaxLayer:], 0)
	binary.LittleEndian.PutUint16(hdr[ghOffM:], g.params.M)
	binary.LittleEndian.PutUint16(hdr[ghOffM0:], g.recParams.M0)
	hdr[ghOffMaxLayers] = g.params.MaxLayers
}

func (g *Graph) validateHeader(hdr []byte) error {
	if string(hdr[ghOffMagic:ghOffMagic+4]) != string(graphMagic[:]) {
		return fmt.Errorf("graph header: bad magic: %w", chassiserr.ErrCorruption)
	}
	if v := binary.LittleEndian.Uint32(hdr[ghOffVersion:]); v != graphFormatVersion {
		return fmt.Errorf("graph header: version %d unsupported: %w", v, chassiserr.ErrCorruption)
	}
	gotM := binary.LittleEndian.Uint16(hdr[ghOffM:])
	gotM0 := binary.LittleEndian.Uint16(hdr[ghOffM0:])
	gotMaxLayers := hdr[ghOffMaxLayers]
	if gotM != g.params.M || gotM0 != g.recParams.M0 || gotMaxLayers != g.params.MaxLayers {
		return fmt.Errorf("graph header: build params (M=%d M0=%d max_layers=%d) do not match requested (M=%d M0=%d max_layers=%d): %w",
			gotM, gotM0, gotMaxLayers, g.params.M, g.recParams.M0, g.params.MaxLayers, chassiserr.ErrCorruption)
	}
	return nil
}

// EntryPoint returns the current entry-point node id, or InvalidNodeID
// if the graph is empty.
func (g *Graph) EntryPoint() uint64 {
	hdr, _ := g.storage.GraphZone(0, graphHeaderSize)
	return binary.LittleEndian.Uint64(hdr[ghOffEntryPoint:])
}

func (g *Graph) setEntryPoint(id uint64) {
	hdr, _ := g.storage.GraphZoneMut(0, graphHeaderSize)
	binary.LittleEndian.PutUint64(hdr[ghOffEntryPoint:], id)
}

// MaxLayer returns the current highest occupied layer index.
func (g *Graph) MaxLayer() uint32 {
	hdr, _ := g.storage.GraphZone(0, graphHeaderSize)
	return binary.LittleEndian.Uint32(hdr[ghOffMaxLayer:])
}

func (g *Graph) setMaxLayer(l uint32) {
	hdr, _ := g.storage.GraphZoneMut(0, graphHeaderSize)
	binary.LittleEndian.PutUint32(hdr[ghOffMaxLayer:], l)
}

// NodeCount returns the number of published nodes.
func (g *Graph) NodeCount() uint64 {
	hdr, _ := g.storage.GraphZone(0, graphHeaderSize)
	return binary.LittleEndian.Uint64(hdr[ghOffNodeCount:])
}

func (g *Graph) setNodeCount(n uint64) {
	hdr, _ := g.storage.GraphZoneMut(0, graphHeaderSize)
	binary.LittleEndian.PutUint64(hdr[ghOffNodeCount:], n)
}

// MaxLayers returns the fixed per-file layer cap.
func (g *Graph) MaxLayers() uint8 {
	return g.params.MaxLayers
}

// M returns the fixed per-layer (non layer-0) neighbor cap.
func (g *Graph) M() uint16 {
	return g.params.M
}

// RecordParams exposes the fixed node-record layout parameters.
func (g *Graph) RecordParams() reccodec.Params {
	return g.recParams
}

// NodeOffset centralizes the O(1) addressing arithmetic: every node
// record read or write path must go through this.
func (g *Graph) NodeOffset(id uint64) int64 {
	return int64(graphHeaderSize) + int64(id)*int64(g.recordSize)
}

// ReadNodeRecord decodes node id's record as a zero-copy view directly
// over the backing mmap bytes.
func (g *Graph) ReadNodeRecord(id uint64) (*reccodec.Record, error) {
	buf, err := g.storage.GraphZone(g.NodeOffset(id), int64(g.recordSize))
	if err != nil {
		return nil, err
	}
	rec, err := reccodec.Decode(buf, g.recParams)
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", id, err)
	}
	return rec, nil
}

// GetNodeBytes returns the raw record bytes for id without decoding.
func (g *Graph) GetNodeBytes(id uint64) ([]byte, error) {
	return g.storage.GraphZone(g.NodeOffset(id), int64(g.recordSize))
}

// WriteNodeRecord writes rec at its own node id's offset, first growing
// the graph zone to cover the record if it does not already.
func (g *Graph) WriteNodeRecord(rec *reccodec.Record) error {
	offset := g.NodeOffset(rec.Header.NodeID)
	if err := g.storage.EnsureGraphCapacity(offset + int64(g.recordSize)); err != nil {
		return err
	}
	dst, err := g.storage.GraphZoneMut(offset, int64(g.recordSize))
	if err != nil {
		return err
	}
	copy(dst, rec.Bytes())
	return nil
}

// UpdateNodeRecord overwrites an already-published node's record in
// place; used for backlink updates. It asserts id < node_count: a node
// that has not been published cannot yet be the target of an update.
func (g *Graph) UpdateNodeRecord(rec *reccodec.Record) error {
	if rec.Header.NodeID >= g.NodeCount() {
		return fmt.Errorf("update_node_record: id %d not yet published (node_count=%d): %w", rec.Header.NodeID, g.NodeCount(), chassiserr.ErrInvariantViolation)
	}
	return g.WriteNodeRecord(rec)
}

// NeighborsIterFromMmap calls fn for every non-sentinel neighbor id of
// node id's layer, reading straight out of the mmap with no allocation
// beyond decoding the record header.
func (g *Graph) NeighborsIterFromMmap(id uint64, layer int, fn func(neighbor uint64) bool) error {
	rec, err := g.ReadNodeRecord(id)
	if err != nil {
		return err
	}
	rec.NeighborsIter(layer, fn)
	return nil
}

// ComputeDistanceZeroCopy computes the distance from query to node id's
// stored vector without any heap allocation per call.
func (g *Graph) ComputeDistanceZeroCopy(query []float32, id uint64) (float32, error) {
	vec, err := g.storage.GetVectorSlice(id)
	if err != nil {
		return 0, err
	}
	return distkernel.L2(query, vec), nil
}

// Insert appends a blank record at id == node_count (asserted) and bumps
// node_count directly. This bypasses the three-phase write/publish split
// and exists only for test and builder paths that want a node in place
// without running the full linking protocol.
func (g *Graph) Insert(id uint64, layerCount uint8) error {
	if id != g.NodeCount() {
		return fmt.Errorf("insert: id %d != node_count %d: %w", id, g.NodeCount(), chassiserr.ErrInvariantViolation)
	}
	rec := reccodec.New(id, layerCount, g.recParams)
	if err := g.WriteNodeRecord(rec); err != nil {
		return err
	}
	g.setNodeCount(id + 1)
	if id == 0 || uint32(layerCount)-1 > g.MaxLayer() {
		g.setEntryPoint(id)
		g.setMaxLayer(uint32(layerCount) - 1)
	}
	return nil
}

// Commit flushes the graph's durable state through the storage barrier.
// The graph header and every node record already live in the mapped
// bytes at the moment they are mutated, so there is nothing left to
// stage here beyond delegating to storage.Commit.
func (g *Graph) Commit() error {
	return g.storage.Commit()
}

// Storage exposes the underlying storage handle for facade-level
// operations (Insert, GetVector, TruncateLogical) that don't belong to
// the graph layer itself.
func (g *Graph) Storage() *storage.Storage {
	return g.storage
}
