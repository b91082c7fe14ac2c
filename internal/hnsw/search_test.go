package hnsw

import "testing"

func addSimpleNode(t *testing.T, g *Graph, vec []float32, neighbors []uint64) uint64 {
	t.Helper()
	id, err := g.Storage().Insert(vec)
	if err != nil {
		t.Fatalf("storage insert failed: %v", err)
	}
	if err := g.WriteNodeAndBacklinks(id, 1, [][]uint64{neighbors}); err != nil {
		t.Fatalf("WriteNodeAndBacklinks failed: %v", err)
	}
	g.PublishNode(id, 1)
	return id
}

func TestSearchEmptyGraphReturnsEmpty(t *testing.T) {
	g, s := newTestGraph(t, 4, defaultParams())
	defer s.Close()

	results, err := g.Search([]float32{1, 2, 3, 4}, 5, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty results on empty graph, got %v", results)
	}
}

func TestSearchFreshFileOneAdd(t *testing.T) {
	g, s := newTestGraph(t, 4, defaultParams())
	defer s.Close()

	addSimpleNode(t, g, []float32{1, 2, 3, 4}, nil)

	results, err := g.Search([]float32{1, 2, 3, 4}, 5, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result, got %d", len(results))
	}
	if results[0].ID != 0 {
		t.Fatalf("expected id 0, got %d", results[0].ID)
	}
	if results[0].Distance != 0 {
		t.Fatalf("expected distance 0, got %v", results[0].Distance)
	}
}

func TestSearchNoDuplicatesAndBounded(t *testing.T) {
	g, s := newTestGraph(t, 4, defaultParams())
	defer s.Close()

	var ids []uint64
	for i := 0; i < 15; i++ {
		v := float32(i)
		var neighbors []uint64
		if len(ids) > 0 {
			neighbors = append(neighbors, ids[len(ids)-1])
		}
		id := addSimpleNode(t, g, []float32{v, v, v, v}, neighbors)
		ids = append(ids, id)
	}

	results, err := g.Search([]float32{5, 5, 5, 5}, 3, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) > 3 {
		t.Fatalf("expected at most 3 results, got %d", len(results))
	}
	seen := make(map[uint64]bool)
	for _, r := range results {
		if seen[r.ID] {
			t.Fatalf("duplicate id %d in results", r.ID)
		}
		seen[r.ID] = true
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Fatalf("results not sorted ascending: %v", results)
		}
	}
}

func TestSearchEfRaisedToK(t *testing.T) {
	g, s := newTestGraph(t, 4, defaultParams())
	defer s.Close()

	for i := 0; i < 5; i++ {
		v := float32(i)
		var neighbors []uint64
		if i > 0 {
			neighbors = []uint64{uint64(i - 1)}
		}
		addSimpleNode(t, g, []float32{v, v, v, v}, neighbors)
	}

	// ef (1) is below k (3); search must still return up to k results.
	results, err := g.Search([]float32{2, 2, 2, 2}, 3, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results once ef is raised to k, got %d", len(results))
	}
}
