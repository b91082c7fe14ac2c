package reccodec

import "github.com/chassisdb/chassis/internal/chassiserr"

// corruptionError is a distinct sentinel (so callers can compare it
// directly, as the package's own tests do) that also unwraps to
// chassiserr.ErrCorruption, so callers anywhere else in the module can
// test for it with errors.Is without knowing reccodec's specific errors.
type corruptionError struct{ msg string }

func (e *corruptionError) Error() string { return e.msg }
func (e *corruptionError) Unwrap() error { return chassiserr.ErrCorruption }

// ErrShortBuffer is returned by Decode when the supplied slice is
// smaller than the record size implied by Params.
var ErrShortBuffer = &corruptionError{"reccodec: buffer shorter than record size"}

// ErrInvalidHeader is returned by Decode when node_id is the sentinel or
// layer_count is zero, either of which marks the record as corrupt.
var ErrInvalidHeader = &corruptionError{"reccodec: invalid record header"}
