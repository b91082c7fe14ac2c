// Package candset provides the candidate/result heaps and total-order
// distance comparisons shared by the HNSW construction and search paths.
package candset

import "math"

// Less implements a total order over float32 distances: regular values
// compare normally, and NaN sorts as larger than every non-NaN value (and
// equal to itself). This keeps every heap and sort in the package free of
// the panics a naive partial_cmp().unwrap() would hit on NaN inputs.
func Less(a, b float32) bool {
	if a == b {
		return false
	}
	aNaN, bNaN := math.IsNaN(float64(a)), math.IsNaN(float64(b))
	if aNaN && bNaN {
		return false
	}
	if aNaN {
		return false
	}
	if bNaN {
		return true
	}
	return a < b
}
