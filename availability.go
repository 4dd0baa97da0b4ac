package sandboxbridge

import "sync/atomic"

// Availability is the per-adapter reachability latch. It starts down, is
// raised only by a successful liveness probe and lowered by any transport
// failure. A raised latch may be stale until the next real call proves
// otherwise.
type Availability struct {
	up atomic.Bool
}

func (a *Availability) Up() bool { return a.up.Load() }

func (a *Availability) MarkUp() { a.up.Store(true) }

func (a *Availability) MarkDown() { a.up.Store(false) }
