// Package chassiserr defines the fixed set of error kinds the storage,
// graph, and facade layers must distinguish, shared across package
// boundaries so callers can use errors.Is regardless of which layer
// actually detected the failure.
package chassiserr

import "errors"

var (
	// ErrInvalidArgument covers dimension mismatch, zero-length vectors,
	// and other caller-supplied bad input.
	ErrInvalidArgument = errors.New("chassis: invalid argument")

	// ErrCapacityExceeded is returned when an insert would grow the
	// vector zone past its 1 GiB ceiling.
	ErrCapacityExceeded = errors.New("chassis: vector zone capacity exceeded")

	// ErrCorruption covers bad magic, bad version, header parameter
	// mismatch, and the storage/graph count relation that can never
	// legally hold (storage.count < graph.node_count).
	ErrCorruption = errors.New("chassis: corrupt index")

	// ErrAlreadyOpen is returned when the exclusive file lock is held by
	// another handle.
	ErrAlreadyOpen = errors.New("chassis: index already open")

	// ErrIO wraps underlying read/write/fsync failures; always used with
	// fmt.Errorf("...: %w", ErrIO) so the original error is preserved.
	ErrIO = errors.New("chassis: io error")

	// ErrInvariantViolation marks a programmer error such as inserting a
	// node id that isn't equal to the current node count. It is
	// surfaced, never panicked.
	ErrInvariantViolation = errors.New("chassis: invariant violation")
)
