package reccodec

import "testing"

func testParams() Params {
	return Params{M: 16, M0: 32, MaxLayers: 16}
}

func TestRecordSizeAlignment(t *testing.T) {
	p := testParams()
	size := p.RecordSize()
	if size%8 != 0 {
		t.Fatalf("record size %d not 8-byte aligned", size)
	}
	want := 16 + int(p.M0)*8 + (int(p.MaxLayers)-1)*int(p.M)*8
	if size != want {
		t.Fatalf("record size = %d, want %d", size, want)
	}
}

func TestNodeOffsetAddressingLaw(t *testing.T) {
	p := testParams()
	size := p.RecordSize()
	const graphZoneStart = 1 << 30
	const graphHeaderSize = 64
	nodeOffset := func(id uint64) int64 {
		return graphZoneStart + graphHeaderSize + int64(id)*int64(size)
	}
	for a := uint64(0); a < 50; a++ {
		if diff := nodeOffset(a+1) - nodeOffset(a); diff != int64(size) {
			t.Fatalf("node_offset(%d+1) - node_offset(%d) = %d, want %d", a, a, diff, size)
		}
	}
}

func TestNewRecordAllSentinel(t *testing.T) {
	p := testParams()
	r := New(5, 3, p)
	for layer := 0; layer < 3; layer++ {
		if n := r.NeighborCount(layer); n != 0 {
			t.Fatalf("layer %d: expected 0 neighbors on fresh record, got %d", layer, n)
		}
	}
}

func TestSetGetNeighborsRoundTrip(t *testing.T) {
	p := testParams()
	r := New(0, 2, p)
	ids := []uint64{10, 20, 30}
	r.SetNeighbors(0, ids)
	got := r.GetNeighbors(0)
	if len(got) != len(ids) {
		t.Fatalf("got %d neighbors, want %d", len(got), len(ids))
	}
	for i, id := range ids {
		if got[i] != id {
			t.Errorf("neighbor %d = %d, want %d", i, got[i], id)
		}
	}
}

func TestAddNeighborFillsFirstSentinel(t *testing.T) {
	p := Params{M: 4, M0: 4, MaxLayers: 2}
	r := New(0, 1, p)
	for i := uint64(1); i <= 4; i++ {
		if ok := r.AddNeighbor(0, i); !ok {
			t.Fatalf("AddNeighbor(%d) failed unexpectedly", i)
		}
	}
	if ok := r.AddNeighbor(0, 99); ok {
		t.Fatalf("AddNeighbor should fail once layer is full")
	}
	if n := r.NeighborCount(0); n != 4 {
		t.Fatalf("expected 4 neighbors, got %d", n)
	}
}

func TestAddNeighborIdempotent(t *testing.T) {
	p := testParams()
	r := New(0, 1, p)
	r.AddNeighbor(0, 7)
	r.AddNeighbor(0, 7)
	if n := r.NeighborCount(0); n != 1 {
		t.Fatalf("expected idempotent add, got %d neighbors", n)
	}
}

func TestSetNeighborsExceedsCapacityPanics(t *testing.T) {
	p := Params{M: 2, M0: 2, MaxLayers: 2}
	r := New(0, 1, p)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when exceeding layer capacity")
		}
	}()
	r.SetNeighbors(0, []uint64{1, 2, 3})
}

func TestDecodeRejectsSentinelID(t *testing.T) {
	p := testParams()
	buf := make([]byte, p.RecordSize())
	for i := range buf {
		buf[i] = 0xff
	}
	if _, err := Decode(buf, p); err != ErrInvalidHeader {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestDecodeRejectsZeroLayerCount(t *testing.T) {
	p := testParams()
	r := New(1, 1, p)
	r.raw[8] = 0 // zero out layer_count after construction
	if _, err := Decode(r.Bytes(), p); err != ErrInvalidHeader {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	p := testParams()
	r := New(42, 4, p)
	r.SetNeighbors(0, []uint64{1, 2, 3})
	decoded, err := Decode(r.Bytes(), p)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Header.NodeID != 42 {
		t.Fatalf("node id = %d, want 42", decoded.Header.NodeID)
	}
	if got := decoded.GetNeighbors(0); len(got) != 3 {
		t.Fatalf("expected 3 neighbors after round trip, got %d", len(got))
	}
}

func TestLayerOffsetsDoNotOverlap(t *testing.T) {
	p := testParams()
	for layer := 0; layer < int(p.MaxLayers)-1; layer++ {
		cur := p.LayerOffset(layer)
		next := p.LayerOffset(layer + 1)
		width := p.LayerCapacity(layer) * neighborWidth
		if cur+width > next {
			t.Fatalf("layer %d overlaps layer %d: %d+%d > %d", layer, layer+1, cur, width, next)
		}
	}
}
