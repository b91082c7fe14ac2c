package distkernel

import (
	"math"
	"math/rand"
	"testing"
)

const tolerance = 1e-4

func TestL2KnownValues(t *testing.T) {
	cases := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"identical", []float32{1, 2, 3, 4}, []float32{1, 2, 3, 4}, 0},
		{"one-hot", []float32{0, 0, 0}, []float32{1, 0, 0}, 1},
		{"negatives", []float32{-1, -2, -3}, []float32{1, 2, 3}, float32(math.Sqrt(56))},
		{"zero-length", []float32{}, []float32{}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := L2(c.a, c.b)
			if diff := math.Abs(float64(got - c.expected)); diff > tolerance {
				t.Errorf("L2(%v, %v) = %v, want %v", c.a, c.b, got, c.expected)
			}
		})
	}
}

func TestL2NonNegative(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for trial := 0; trial < 100; trial++ {
		dims := 1 + r.Intn(200)
		a := randVec(r, dims, 1000)
		b := randVec(r, dims, 1000)
		got := L2(a, b)
		if got < 0 {
			t.Fatalf("L2 returned negative distance %v for dims=%d", got, dims)
		}
	}
}

func TestL2NaNDoesNotPanic(t *testing.T) {
	a := []float32{1, float32(math.NaN()), 3}
	b := []float32{1, 2, 3}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("L2 panicked on NaN input: %v", r)
		}
	}()
	_ = L2(a, b)
}

// TestSIMDParity checks that the unrolled path agrees with the scalar
// reference within tolerance, across the dimension sizes a real index
// would see in practice.
func TestSIMDParity(t *testing.T) {
	dims := []int{3, 7, 15, 31, 64, 128, 384, 768, 1536}
	r := rand.New(rand.NewSource(42))
	for _, d := range dims {
		a := randVec(r, d, 1000)
		b := randVec(r, d, 1000)
		simd := L2(a, b)
		scalar := L2Scalar(a, b)
		if diff := math.Abs(float64(simd - scalar)); diff > tolerance {
			t.Errorf("dims=%d: simd=%v scalar=%v diff=%v exceeds tolerance", d, simd, scalar, diff)
		}
	}
}

func TestCosineKnownValues(t *testing.T) {
	cases := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 1},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Cosine(c.a, c.b)
			if diff := math.Abs(float64(got - c.expected)); diff > tolerance {
				t.Errorf("Cosine(%v, %v) = %v, want %v", c.a, c.b, got, c.expected)
			}
		})
	}
}

func TestCosineZeroVectorDoesNotPanic(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Cosine panicked on zero vector: %v", r)
		}
	}()
	_ = Cosine(a, b)
}

func randVec(r *rand.Rand, dims int, scale float32) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = (r.Float32()*2 - 1) * scale
	}
	return v
}
