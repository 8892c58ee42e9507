package asr

import "sync"

// Gate serializes access to the live backend instance. Recognition engines
// are not proven safe for concurrent invocation, and one decode at a time
// also bounds peak resource usage. Acquisition is arrival-ordered with no
// timeout.
type Gate struct {
	mu sync.Mutex
}

func (g *Gate) Acquire() {
	g.mu.Lock()
}

func (g *Gate) Release() {
	g.mu.Unlock()
}
