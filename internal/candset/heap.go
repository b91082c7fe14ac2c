package candset

import "container/heap"

// NodeID identifies a graph node by its dense insertion order, matching the
// vector's index in the storage zone.
type NodeID = uint64

// Candidate pairs a node with its distance to the active query, the unit
// pushed through both the frontier and result heaps during a layer search.
type Candidate struct {
	ID       NodeID
	Distance float32
}

// MinHeap orders candidates by ascending distance; used as the exploration
// frontier in search_layer, where the closest unexpanded candidate is
// always popped next.
type MinHeap struct {
	items []Candidate
}

func NewMinHeap(capacityHint int) *MinHeap {
	return &MinHeap{items: make([]Candidate, 0, capacityHint)}
}

func (h *MinHeap) Len() int            { return len(h.items) }
func (h *MinHeap) Less(i, j int) bool  { return Less(h.items[i].Distance, h.items[j].Distance) }
func (h *MinHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *MinHeap) Push(x interface{})  { h.items = append(h.items, x.(Candidate)) }
func (h *MinHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func (h *MinHeap) PushCandidate(c Candidate) { heap.Push(h, c) }

func (h *MinHeap) PopCandidate() (Candidate, bool) {
	if h.Len() == 0 {
		return Candidate{}, false
	}
	return heap.Pop(h).(Candidate), true
}

// MaxHeap orders candidates by descending distance; used as the bounded
// result set in search_layer, where the worst of the current top-ef sits
// at the root and is evicted first when the set overflows.
type MaxHeap struct {
	items []Candidate
}

func NewMaxHeap(capacityHint int) *MaxHeap {
	return &MaxHeap{items: make([]Candidate, 0, capacityHint)}
}

func (h *MaxHeap) Len() int            { return len(h.items) }
func (h *MaxHeap) Less(i, j int) bool  { return Less(h.items[j].Distance, h.items[i].Distance) }
func (h *MaxHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *MaxHeap) Push(x interface{})  { h.items = append(h.items, x.(Candidate)) }
func (h *MaxHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func (h *MaxHeap) PushCandidate(c Candidate) { heap.Push(h, c) }

func (h *MaxHeap) PopCandidate() (Candidate, bool) {
	if h.Len() == 0 {
		return Candidate{}, false
	}
	return heap.Pop(h).(Candidate), true
}

// Top returns the worst (largest-distance) candidate without removing it.
func (h *MaxHeap) Top() (Candidate, bool) {
	if h.Len() == 0 {
		return Candidate{}, false
	}
	return h.items[0], true
}

// Sorted drains the heap into a slice ordered by ascending distance.
func (h *MaxHeap) Sorted() []Candidate {
	out := make([]Candidate, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		c, _ := h.PopCandidate()
		out[i] = c
	}
	return out
}
