package sched

import "sync"

// groupQueue serializes invocations of tasks sharing a mutex group.
//
// Unlike a plain mutex it guarantees FIFO: waiters are signalled in arrival
// order by handing the slot directly to the oldest waiter on release.
type groupQueue struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

// acquire blocks until the caller owns the group slot or stop closes.
// Returns false when the wait was aborted; the caller must not run.
func (g *groupQueue) acquire(stop <-chan struct{}) bool {
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-stop:
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == ch {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return false
			}
		}
		g.mu.Unlock()
		// The slot was handed to us just as stop fired; pass it on so the
		// group doesn't wedge.
		g.release()
		return false
	}
}

// release hands the slot to the oldest waiter, or frees it when none wait.
func (g *groupQueue) release() {
	g.mu.Lock()
	if len(g.waiters) > 0 {
		ch := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		close(ch)
		return
	}
	g.busy = false
	g.mu.Unlock()
}
