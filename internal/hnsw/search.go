package hnsw

import (
	"github.com/chassisdb/chassis/internal/candset"
)

// bitset is a dense array-of-flags visited filter, one bit per node, so
// a full-layer search allocates once per call (the backing words) and
// never again per visited node. It replaces a hash-set visited tracker,
// which would allocate on every insert and cannot guarantee termination
// cost independent of hash collisions.
type bitset struct {
	words []uint64
}

func newBitset(n uint64) *bitset {
	return &bitset{words: make([]uint64, (n+63)/64)}
}

func (b *bitset) test(id uint64) bool {
	w := id / 64
	if int(w) >= len(b.words) {
		return false
	}
	return b.words[w]&(1<<(id%64)) != 0
}

func (b *bitset) set(id uint64) {
	w := id / 64
	if int(w) >= len(b.words) {
		return
	}
	b.words[w] |= 1 << (id % 64)
}

// Search returns the k nearest neighbors of query, running the greedy
// upper-layer descent followed by an ef-bounded base-layer exploration.
// If the graph is empty it returns an empty, non-nil slice.
func (g *Graph) Search(query []float32, k, ef int) ([]candset.Candidate, error) {
	entry := g.EntryPoint()
	if entry == InvalidNodeID {
		return []candset.Candidate{}, nil
	}
	if ef < k {
		ef = k
	}

	current := entry
	maxLayer := g.MaxLayer()
	for layer := int(maxLayer); layer >= 1; layer-- {
		results, err := g.SearchLayer(query, current, 1, layer)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			break
		}
		current = results[0].ID
	}

	results, err := g.SearchLayer(query, current, ef, 0)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// SearchLayer performs the ef-bounded exploration of one layer starting
// from entry, returning up to ef candidates sorted ascending by
// distance. It allocates only the visited bitmap and whatever heap
// growth the candidate/result heaps need; the per-neighbor expansion
// loop itself allocates nothing.
func (g *Graph) SearchLayer(query []float32, entry uint64, ef int, layer int) ([]candset.Candidate, error) {
	visited := newBitset(g.NodeCount())
	candidates := candset.NewMinHeap(ef)
	results := candset.NewMaxHeap(ef)

	entryDist, err := g.ComputeDistanceZeroCopy(query, entry)
	if err != nil {
		return nil, err
	}
	visited.set(entry)
	candidates.PushCandidate(candset.Candidate{ID: entry, Distance: entryDist})
	results.PushCandidate(candset.Candidate{ID: entry, Distance: entryDist})

	var iterErr error
	for candidates.Len() > 0 {
		cur, _ := candidates.PopCandidate()

		if results.Len() >= ef {
			worst, _ := results.Top()
			if candset.Less(worst.Distance, cur.Distance) {
				break
			}
		}

		err := g.NeighborsIterFromMmap(cur.ID, layer, func(nb uint64) bool {
			if visited.test(nb) {
				return true
			}
			visited.set(nb)

			d, err := g.ComputeDistanceZeroCopy(query, nb)
			if err != nil {
				iterErr = err
				return false
			}

			if results.Len() < ef {
				candidates.PushCandidate(candset.Candidate{ID: nb, Distance: d})
				results.PushCandidate(candset.Candidate{ID: nb, Distance: d})
				return true
			}
			worst, _ := results.Top()
			if candset.Less(d, worst.Distance) {
				candidates.PushCandidate(candset.Candidate{ID: nb, Distance: d})
				results.PushCandidate(candset.Candidate{ID: nb, Distance: d})
				results.PopCandidate()
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if iterErr != nil {
			return nil, iterErr
		}
	}

	return results.Sorted(), nil
}
