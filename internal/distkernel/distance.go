// Package distkernel computes distances between equal-length float32
// vectors. The Euclidean kernel is the hot path for every search and
// linking operation; the accumulation loop is unrolled across four
// independent accumulators so the compiler can pipeline the multiply-adds
// instead of serializing on one dependency chain, and the lane width of
// the main loop is chosen once at package init from the detected CPU
// feature set.
package distkernel

import (
	"math"

	"github.com/klauspost/cpuid/v2"
)

// lanes is the width of the unrolled main loop, chosen once at startup.
// AVX2/FMA capable x86_64 gets a 32-wide pass (four accumulators x 8
// lanes); NEON (ASIMD) capable arm64 and anything else get a 16-wide pass
// (four accumulators x 4 lanes), which is still correct, just slower per
// call.
// There is no assembly here: Go's compiler already vectorizes the plain
// accumulator loop reasonably well on both paths, so the dispatch only
// decides how aggressively to unroll, not which machine code to emit.
var lanes int

func init() {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3):
		lanes = 32
	case cpuid.CPU.Supports(cpuid.ASIMD):
		lanes = 16
	default:
		lanes = 16
	}
}

// L2 returns the Euclidean distance between a and b. Caller is responsible
// for ensuring len(a) == len(b); this function does not allocate and does
// not panic on NaN or Inf inputs (it may return NaN or Inf instead).
func L2(a, b []float32) float32 {
	n := len(a)
	if n > len(b) {
		n = len(b)
	}
	if lanes >= 32 {
		return l2Unrolled32(a, b, n)
	}
	return l2Unrolled16(a, b, n)
}

// l2Unrolled32 sums squared differences using four accumulators over an
// 8-wide stride (32 elements per outer iteration) to break the FMA
// dependency chain, then a scalar tail for the remainder.
func l2Unrolled32(a, b []float32, n int) float32 {
	var acc0, acc1, acc2, acc3 float32
	i := 0
	for ; i+32 <= n; i += 32 {
		for lane := 0; lane < 8; lane++ {
			d0 := a[i+lane] - b[i+lane]
			acc0 += d0 * d0
			d1 := a[i+8+lane] - b[i+8+lane]
			acc1 += d1 * d1
			d2 := a[i+16+lane] - b[i+16+lane]
			acc2 += d2 * d2
			d3 := a[i+24+lane] - b[i+24+lane]
			acc3 += d3 * d3
		}
	}
	sum := acc0 + acc1 + acc2 + acc3
	for ; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// l2Unrolled16 is the same shape at half the stride, used when the host
// doesn't report AVX2 with FMA.
func l2Unrolled16(a, b []float32, n int) float32 {
	var acc0, acc1, acc2, acc3 float32
	i := 0
	for ; i+16 <= n; i += 16 {
		for lane := 0; lane < 4; lane++ {
			d0 := a[i+lane] - b[i+lane]
			acc0 += d0 * d0
			d1 := a[i+4+lane] - b[i+4+lane]
			acc1 += d1 * d1
			d2 := a[i+8+lane] - b[i+8+lane]
			acc2 += d2 * d2
			d3 := a[i+12+lane] - b[i+12+lane]
			acc3 += d3 * d3
		}
	}
	sum := acc0 + acc1 + acc2 + acc3
	for ; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// L2Scalar is the portable reference implementation: no unrolling, no
// dispatch. Used by tests as the correctness oracle for the unrolled path.
func L2Scalar(a, b []float32) float32 {
	n := len(a)
	if n > len(b) {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// Cosine returns 1 - cos(theta) between a and b, a convenience metric on
// top of the same dot-product/norm primitives.
func Cosine(a, b []float32) float32 {
	n := len(a)
	if n > len(b) {
		n = len(b)
	}
	var dot, normA, normB float32
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := float32(math.Sqrt(float64(normA)) * math.Sqrt(float64(normB)))
	if denom == 0 {
		return 1
	}
	return 1 - dot/denom
}
