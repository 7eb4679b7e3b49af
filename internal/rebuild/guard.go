package rebuild

import "sync/atomic"

// Guard is the re-entrancy flag shared by the rebuild coordinator, the
// autosaver and the freshness poller: at most one structural rebuild is in
// flight per session, and a rebuild taking the guard aborts an in-progress
// poll loop.
type Guard struct {
	busy atomic.Bool
}

func NewGuard() *Guard { return &Guard{} }

func (g *Guard) TryAcquire() bool { return g.busy.CompareAndSwap(false, true) }
func (g *Guard) Release()         { g.busy.Store(false) }
func (g *Guard) Busy() bool       { return g.busy.Load() }
