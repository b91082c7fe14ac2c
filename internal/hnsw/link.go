package hnsw

import (
	"fmt"
	"math"
	"sort"

	"github.com/chassisdb/chassis/internal/candset"
	"github.com/chassisdb/chassis/internal/chassiserr"
	"github.com/chassisdb/chassis/internal/distkernel"
	"github.com/chassisdb/chassis/internal/reccodec"
)

// MaxM is the largest per-layer neighbor degree the heuristic ever
// reasons about in one call; candidate pools are always truncated to
// MaxM+1 before selection.
const MaxM = 32

// maxCandidatesForHeuristic bounds the size of the lazy distance cache:
// MaxM forward candidates plus the node being inserted.
const maxCandidatesForHeuristic = MaxM + 1

// distanceCache is a flat, fixed-size, lazily-populated symmetric matrix
// of pairwise candidate distances. NaN marks a cell as not yet computed;
// no heap allocation happens after construction.
type distanceCache struct {
	data [maxCandidatesForHeuristic * maxCandidatesForHeuristic]float32
	size int
}

func newDistanceCache(numCandidates int) *distanceCache {
	c := &distanceCache{size: numCandidates}
	for i := range c.data {
		c.data[i] = float32(math.NaN())
	}
	return c
}

func (c *distanceCache) get(i, j int) float32 {
	return c.data[i*c.size+j]
}

func (c *distanceCache) set(i, j int, d float32) {
	c.data[i*c.size+j] = d
	c.data[j*c.size+i] = d
}

func (c *distanceCache) isComputed(i, j int) bool {
	return !math.IsNaN(float64(c.get(i, j)))
}

// selectionResult is the outcome of a Heuristic 2 pass.
type selectionResult struct {
	Selected        []uint64
	IncludesNewNode bool
}

// selectDiverseNeighborsCached runs Heuristic 2 over candidates (already
// deduplicated, may include baseNode's existing neighbors plus a new
// priority node), returning at most maxCount ids preferring diversity,
// falling back to raw proximity if diversity starves the set, and
// forcing in priority if it ranks close enough but diversity excluded
// it. Distances to baseNode's vector are computed once and reused by the
// diversity phase and the starvation fallback; distances between
// candidates are computed lazily and cached during the diversity phase.
func (g *Graph) selectDiverseNeighborsCached(baseNode uint64, candidates []uint64, maxCount int, priority *uint64) (selectionResult, error) {
	if len(candidates) > maxCandidatesForHeuristic {
		candidates = candidates[:maxCandidatesForHeuristic]
	}
	n := len(candidates)
	if n == 0 {
		return selectionResult{}, nil
	}

	baseVec, err := g.Storage().GetVectorSlice(baseNode)
	if err != nil {
		return selectionResult{}, err
	}

	candVecs := make([][]float32, n)
	baseDist := make([]float32, n)
	for i, id := range candidates {
		v, err := g.Storage().GetVectorSlice(id)
		if err != nil {
			baseDist[i] = math.MaxFloat32
			continue
		}
		candVecs[i] = v
		baseDist[i] = distanceTo(baseVec, v)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return candset.Less(baseDist[order[a]], baseDist[order[b]])
	})

	cache := newDistanceCache(n)
	getDistance := func(i, j int) float32 {
		if cache.isComputed(i, j) {
			return cache.get(i, j)
		}
		d := distanceTo(candVecs[i], candVecs[j])
		cache.set(i, j, d)
		return d
	}

	var selectedIdx []int
	for _, i := range order {
		if len(selectedIdx) >= maxCount {
			break
		}
		diverse := true
		for _, s := range selectedIdx {
			if candset.Less(getDistance(i, s), baseDist[i]) {
				diverse = false
				break
			}
		}
		if diverse {
			selectedIdx = append(selectedIdx, i)
		}
	}

	if len(selectedIdx) < maxCount/2 {
		present := make(map[int]bool, len(selectedIdx))
		for _, i := range selectedIdx {
			present[i] = true
		}
		for _, i := range order {
			if len(selectedIdx) >= maxCount/2 {
				break
			}
			if !present[i] {
				selectedIdx = append(selectedIdx, i)
				present[i] = true
			}
		}
	}

	includesNew := false
	if priority != nil {
		priorityLocal := -1
		for i, id := range candidates {
			if id == *priority {
				priorityLocal = i
				break
			}
		}
		if priorityLocal != -1 {
			rank := indexOf(order, priorityLocal)
			alreadyIn := false
			for _, i := range selectedIdx {
				if i == priorityLocal {
					alreadyIn = true
					break
				}
			}
			if alreadyIn {
				includesNew = true
			} else if rank < maxCount {
				if len(selectedIdx) >= maxCount {
					selectedIdx = selectedIdx[:len(selectedIdx)-1]
				}
				selectedIdx = append(selectedIdx, priorityLocal)
				includesNew = true
			}
		}
	}

	out := make([]uint64, len(selectedIdx))
	for i, idx := range selectedIdx {
		out[i] = candidates[idx]
	}
	return selectionResult{Selected: out, IncludesNewNode: includesNew}, nil
}

func indexOf(order []int, v int) int {
	for rank, i := range order {
		if i == v {
			return rank
		}
	}
	return len(order)
}

func distanceTo(a, b []float32) float32 {
	return distkernel.L2(a, b)
}

// WriteNodeAndBacklinks is phase 2 of the three-phase insert: it writes
// the new node's own record with its filtered forward edges, then
// updates every named neighbor's backlinks. A crash here leaves a
// written record that node_count still excludes, so a retry simply
// overwrites it.
func (g *Graph) WriteNodeAndBacklinks(id uint64, layerCount uint8, neighborsPerLayer [][]uint64) error {
	if id != g.NodeCount() {
		return fmt.Errorf("write_node_and_backlinks: id %d != node_count %d: %w", id, g.NodeCount(), chassiserr.ErrInvariantViolation)
	}
	if int(layerCount) != len(neighborsPerLayer) {
		return fmt.Errorf("write_node_and_backlinks: layer_count %d != len(neighbors) %d: %w", layerCount, len(neighborsPerLayer), chassiserr.ErrInvariantViolation)
	}

	nodeCount := g.NodeCount()
	filtered := make([][]uint64, len(neighborsPerLayer))
	for layer, neighbors := range neighborsPerLayer {
		f := make([]uint64, 0, len(neighbors))
		for _, nb := range neighbors {
			if nb == id || nb == InvalidNodeID || nb >= nodeCount {
				continue
			}
			f = append(f, nb)
		}
		filtered[layer] = f
	}

	rec := reccodec.New(id, layerCount, g.recParams)
	for layer, neighbors := range filtered {
		rec.SetNeighbors(layer, neighbors)
	}
	if err := g.WriteNodeRecord(rec); err != nil {
		return err
	}

	for layer, neighbors := range filtered {
		for _, nb := range neighbors {
			if err := g.addBackwardLinkWithPruning(nb, id, layer); err != nil {
				return err
			}
		}
	}
	return nil
}

// PublishNode is phase 3: it advances node_count, making id visible to
// readers, and updates the entry point and max layer if this node is
// the first node or reaches a new highest layer.
func (g *Graph) PublishNode(id uint64, layerCount uint8) {
	g.setNodeCount(id + 1)
	if id == 0 || uint32(layerCount)-1 > g.MaxLayer() {
		g.setEntryPoint(id)
		g.setMaxLayer(uint32(layerCount) - 1)
	}
}

// addBackwardLinkWithPruning adds newID to neighbor's layer-l neighbor
// list, pruning to maintain the layer's diversity-preserving Heuristic 2
// selection when the list is already at capacity. It is idempotent: a
// repeated call with the same (neighbor, newID, layer) leaves the record
// unchanged.
func (g *Graph) addBackwardLinkWithPruning(neighbor uint64, newID uint64, layer int) error {
	rec, err := g.ReadNodeRecord(neighbor)
	if err != nil {
		return err
	}
	if rec.HasNeighbor(layer, newID) {
		return nil
	}

	capacity := rec.Params.LayerCapacity(layer)
	if rec.NeighborCount(layer) < capacity {
		rec.AddNeighbor(layer, newID)
		return g.UpdateNodeRecord(rec)
	}

	existing := rec.GetNeighbors(layer)
	candidates := append(existing, newID)
	result, err := g.selectDiverseNeighborsCached(neighbor, candidates, capacity, &newID)
	if err != nil {
		return err
	}
	rec.SetNeighbors(layer, result.Selected)
	return g.UpdateNodeRecord(rec)
}

// SelectForwardNeighbors runs the same heuristic with no priority node,
// used by the facade when choosing the new node's own forward edges
// from a base-layer search's candidate pool.
func (g *Graph) SelectForwardNeighbors(baseNode uint64, candidates []uint64, maxCount int) ([]uint64, error) {
	result, err := g.selectDiverseNeighborsCached(baseNode, candidates, maxCount, nil)
	if err != nil {
		return nil, err
	}
	return result.Selected, nil
}
