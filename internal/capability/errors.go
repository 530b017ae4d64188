package capability

import "errors"

// ErrUnsupported is returned by a State capability that does not
// implement an optional operation (read/write/per-layer views). Callers
// must fail Choose mode cleanly when they observe it.
var ErrUnsupported = errors.New("capability: operation unsupported by this backend")
