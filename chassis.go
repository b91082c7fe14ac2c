// Package chassis is an embeddable, single-file, on-disk approximate
// nearest-neighbor vector index. It memory-maps a file holding a dense
// array of fixed-dimension float32 vectors plus an HNSW graph over them,
// giving local-first applications persistent semantic search without a
// database server.
//
// A Handle owns the exclusive file lock for its lifetime; only one
// process may have a given path open at a time. Add and Flush require
// exclusive access; Search and the introspection methods are safe to
// call concurrently with each other but not with a writer.
package chassis

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/chassisdb/chassis/internal/candset"
	"github.com/chassisdb/chassis/internal/chassiserr"
	"github.com/chassisdb/chassis/internal/hnsw"
	"github.com/chassisdb/chassis/internal/storage"
)

// rngSeed seeds the per-Handle layer-selection RNG. Layer assignment only
// needs to be unpredictable across runs, not cryptographically random or
// reproducible across processes.
func rngSeed() int64 {
	return time.Now().UnixNano()
}

// SearchResult is one ranked neighbor returned by Search.
type SearchResult struct {
	ID       uint64
	Distance float32
}

// Handle is an open index. The zero value is not usable; construct one
// with Open.
type Handle struct {
	mu      sync.RWMutex
	storage *storage.Storage
	graph   *hnsw.Graph
	cfg     Config
	rng     *rand.Rand
}

// Open creates path if it doesn't exist (writing a fresh file header and
// graph header) or opens and validates an existing one. Dimension and
// build-parameter mismatches against an existing file fail as
// ErrCorruption; a lock held by another handle fails as ErrAlreadyOpen.
//
// On open, Handle reconciles a possible crash between vector persistence
// and node publication: if storage holds more vectors than the graph has
// published nodes, the extra "ghost" vectors are logically truncated so
// the next Add reuses their ids.
func Open(path string, dims uint32, opts ...Option) (*Handle, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	st, err := storage.Open(path, dims)
	if err != nil {
		return nil, err
	}

	g, err := hnsw.Open(st, hnsw.Params{
		M:              cfg.M,
		EfConstruction: cfg.EfConstruction,
		EfSearch:       cfg.EfSearch,
		MaxLayers:      maxLayers,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	storageCount := st.Count()
	graphCount := g.NodeCount()
	switch {
	case storageCount < graphCount:
		st.Close()
		return nil, fmt.Errorf("storage has %d vectors but graph has %d published nodes: %w", storageCount, graphCount, chassiserr.ErrCorruption)
	case storageCount > graphCount:
		if err := st.TruncateLogical(graphCount); err != nil {
			st.Close()
			return nil, err
		}
	}

	return &Handle{
		storage: st,
		graph:   g,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(rngSeed())),
	}, nil
}

// Add persists vector and indexes it, returning its dense node id. The
// vector is written to storage first and only indexed after the graph
// record is written and published within this call; neither is durable
// until the next Flush. A crash between the two is reconciled as a ghost
// node on the next Open.
func (h *Handle) Add(vector []float32) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if uint32(len(vector)) != h.storage.Dimensions() {
		return 0, fmt.Errorf("vector length %d does not match dimensions %d: %w", len(vector), h.storage.Dimensions(), chassiserr.ErrInvalidArgument)
	}

	id, err := h.storage.Insert(vector)
	if err != nil {
		return 0, err
	}

	layer := h.selectLayer()
	layerCount := uint8(layer + 1)

	if h.graph.NodeCount() == 0 {
		neighbors := make([][]uint64, layerCount)
		if err := h.graph.WriteNodeAndBacklinks(id, layerCount, neighbors); err != nil {
			return 0, err
		}
		h.graph.PublishNode(id, layerCount)
		return id, nil
	}

	neighbors, err := h.buildNeighborLists(id, vector, layer)
	if err != nil {
		return 0, err
	}
	if err := h.graph.WriteNodeAndBacklinks(id, layerCount, neighbors); err != nil {
		return 0, err
	}
	h.graph.PublishNode(id, layerCount)
	return id, nil
}

// buildNeighborLists runs the zoom phase (greedy single-best descent
// from the current max layer down to layer+1) followed by the
// construction phase (an ef_construction-bounded search at each layer
// from min(layer, maxLayer) down to 0, truncated and passed through the
// diversity heuristic) to produce the new node's forward edges.
func (h *Handle) buildNeighborLists(id uint64, vector []float32, layer int) ([][]uint64, error) {
	maxLayer := int(h.graph.MaxLayer())
	current := h.graph.EntryPoint()

	for l := maxLayer; l > layer; l-- {
		results, err := h.graph.SearchLayer(vector, current, 1, l)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			break
		}
		current = results[0].ID
	}

	neighbors := make([][]uint64, layer+1)
	startLayer := layer
	if maxLayer < startLayer {
		startLayer = maxLayer
	}
	for l := startLayer; l >= 0; l-- {
		candidates, err := h.graph.SearchLayer(vector, current, h.cfg.EfConstruction, l)
		if err != nil {
			return nil, err
		}
		ids := candidateIDs(candidates)
		if len(ids) > maxCandidatesForHeuristic {
			ids = ids[:maxCandidatesForHeuristic]
		}
		maxNeighbors := int(h.cfg.M)
		if l == 0 {
			maxNeighbors = int(h.cfg.M) * 2
		}
		selected, err := h.graph.SelectForwardNeighbors(id, ids, maxNeighbors)
		if err != nil {
			return nil, err
		}
		neighbors[l] = selected
		if len(candidates) > 0 {
			current = candidates[0].ID
		}
	}
	for l := layer; l > startLayer; l-- {
		neighbors[l] = nil
	}
	return neighbors, nil
}

func candidateIDs(candidates []candset.Candidate) []uint64 {
	ids := make([]uint64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	return ids
}

// maxCandidatesForHeuristic mirrors the graph layer's own truncation
// bound; kept local so the facade doesn't need to import hnsw's
// unexported constant.
const maxCandidatesForHeuristic = hnsw.MaxM + 1

// selectLayer draws the new node's top layer by exponential decay:
// L = floor(-ln(U) * (1 / ln(M))), clamped to the file's fixed max
// layer index.
func (h *Handle) selectLayer() int {
	u := h.rng.Float64()
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	ml := 1.0 / math.Log(float64(h.cfg.M))
	layer := int(math.Floor(-math.Log(u) * ml))
	if layer > maxLayers-1 {
		layer = maxLayers - 1
	}
	return layer
}

// Search returns the k nearest neighbors of query, ascending by
// distance. Safe to call concurrently with other searches.
func (h *Handle) Search(query []float32, k int) ([]SearchResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if uint32(len(query)) != h.storage.Dimensions() {
		return nil, fmt.Errorf("query length %d does not match dimensions %d: %w", len(query), h.storage.Dimensions(), chassiserr.ErrInvalidArgument)
	}
	if k == 0 {
		return []SearchResult{}, nil
	}

	candidates, err := h.graph.Search(query, k, h.cfg.EfSearch)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		out[i] = SearchResult{ID: c.ID, Distance: c.Distance}
	}
	return out, nil
}

// GetVector returns an owned copy of the vector stored at id.
func (h *Handle) GetVector(id uint64) ([]float32, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.storage.GetVector(id)
}

// Flush is the only durability barrier: it commits the storage mapping
// (vector bytes, header count) and then the graph (node records, graph
// header) to disk.
func (h *Handle) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.storage.Commit(); err != nil {
		return err
	}
	return h.graph.Commit()
}

// Close releases the file lock and unmaps the file. Uncommitted state
// since the last Flush is lost; previously flushed state is intact.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.storage.Close()
}

// Len returns the number of published nodes.
func (h *Handle) Len() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph.NodeCount()
}

// IsEmpty reports whether the index has no published nodes.
func (h *Handle) IsEmpty() bool {
	return h.Len() == 0
}

// Dimensions returns the fixed vector width for this index.
func (h *Handle) Dimensions() uint32 {
	return h.storage.Dimensions()
}
