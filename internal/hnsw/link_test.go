package hnsw

import "testing"

// vecAt inserts a vector of the form [v,v,v,v] into storage and returns
// its id.
func vecAt(t *testing.T, g *Graph, v float32) uint64 {
	t.Helper()
	id, err := g.Storage().Insert([]float32{v, v, v, v})
	if err != nil {
		t.Fatalf("Insert vector failed: %v", err)
	}
	return id
}

// TestHeuristicSaturation mirrors the literal hub scenario: M0=4, one hub
// node at id 0, and ids 1..20 each backlinking only to it. After every
// add, the hub's layer-0 neighbor count must stay at most 4, and at least
// 2 once two nodes have linked to it (1 after the first add).
func TestHeuristicSaturation(t *testing.T) {
	// M0 is derived as 2*M; M=2 gives the literal scenario's M0=4.
	params := Params{M: 2, EfConstruction: 50, EfSearch: 20, MaxLayers: 16}
	g, s := newTestGraph(t, 4, params)
	defer s.Close()

	hub := vecAt(t, g, 0)
	if err := g.WriteNodeAndBacklinks(hub, 1, [][]uint64{{}}); err != nil {
		t.Fatalf("writing hub node failed: %v", err)
	}
	g.PublishNode(hub, 1)

	for i := 1; i <= 20; i++ {
		id := vecAt(t, g, float32(i))
		if err := g.WriteNodeAndBacklinks(id, 1, [][]uint64{{hub}}); err != nil {
			t.Fatalf("add %d failed: %v", i, err)
		}
		g.PublishNode(id, 1)

		rec, err := g.ReadNodeRecord(hub)
		if err != nil {
			t.Fatalf("ReadNodeRecord(hub) failed after add %d: %v", i, err)
		}
		n := rec.NeighborCount(0)
		if n > 4 {
			t.Fatalf("after add %d: hub has %d layer-0 neighbors, want <= 4", i, n)
		}
		// The starvation floor of 2 only binds once at least 2 backlinks
		// have actually been offered to the hub; on the very first add
		// there is only one neighbor to have at all.
		wantFloor := 2
		if i < wantFloor {
			wantFloor = i
		}
		if n < wantFloor {
			t.Fatalf("after add %d: hub has %d layer-0 neighbors, want >= %d (starvation floor)", i, n, wantFloor)
		}
	}
}

// TestIdempotentBacklink checks that calling addBackwardLinkWithPruning
// twice with the same arguments produces the same record as calling it
// once.
func TestIdempotentBacklink(t *testing.T) {
	params := Params{M: 16, EfConstruction: 50, EfSearch: 20, MaxLayers: 16}
	g, s := newTestGraph(t, 4, params)
	defer s.Close()

	a := vecAt(t, g, 1)
	if err := g.Insert(a, 1); err != nil {
		t.Fatalf("Insert(a) failed: %v", err)
	}
	b := vecAt(t, g, 2)
	if err := g.Insert(b, 1); err != nil {
		t.Fatalf("Insert(b) failed: %v", err)
	}

	if err := g.addBackwardLinkWithPruning(a, b, 0); err != nil {
		t.Fatalf("first addBackwardLinkWithPruning failed: %v", err)
	}
	once, err := g.ReadNodeRecord(a)
	if err != nil {
		t.Fatalf("ReadNodeRecord failed: %v", err)
	}
	onceNeighbors := once.GetNeighbors(0)

	if err := g.addBackwardLinkWithPruning(a, b, 0); err != nil {
		t.Fatalf("second addBackwardLinkWithPruning failed: %v", err)
	}
	twice, err := g.ReadNodeRecord(a)
	if err != nil {
		t.Fatalf("ReadNodeRecord failed: %v", err)
	}
	twiceNeighbors := twice.GetNeighbors(0)

	if len(onceNeighbors) != len(twiceNeighbors) {
		t.Fatalf("neighbor count changed after idempotent retry: %d vs %d", len(onceNeighbors), len(twiceNeighbors))
	}
	for i := range onceNeighbors {
		if onceNeighbors[i] != twiceNeighbors[i] {
			t.Fatalf("neighbor list changed after idempotent retry: %v vs %v", onceNeighbors, twiceNeighbors)
		}
	}
}

// TestBackwardLinkFiltersSelfAndFuture checks that WriteNodeAndBacklinks
// drops self-references and any neighbor id not yet published (Model A:
// forward edges only to already-existing nodes).
func TestBackwardLinkFiltersSelfAndFuture(t *testing.T) {
	params := Params{M: 16, EfConstruction: 50, EfSearch: 20, MaxLayers: 16}
	g, s := newTestGraph(t, 4, params)
	defer s.Close()

	a := vecAt(t, g, 1)
	if err := g.WriteNodeAndBacklinks(a, 1, [][]uint64{{a, 99, InvalidNodeID}}); err != nil {
		t.Fatalf("WriteNodeAndBacklinks failed: %v", err)
	}
	g.PublishNode(a, 1)

	rec, err := g.ReadNodeRecord(a)
	if err != nil {
		t.Fatalf("ReadNodeRecord failed: %v", err)
	}
	if n := rec.NeighborCount(0); n != 0 {
		t.Fatalf("expected all neighbors filtered out, got %d", n)
	}
}
