package pipeline

import "sync"

// PauseGate is a manually-settable, re-openable signal that blocks workers
// at safe points while paused. It starts open.
type PauseGate struct {
	mu     sync.Mutex
	open   bool
	waitCh chan struct{}
}

// NewPauseGate returns an initially-open gate.
func NewPauseGate() *PauseGate {
	g := &PauseGate{open: true, waitCh: make(chan struct{})}
	close(g.waitCh)
	return g
}

// Pause closes the gate; subsequent Wait calls block until Resume.
func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		g.open = false
		g.waitCh = make(chan struct{})
	}
}

// Resume re-opens the gate, releasing any blocked waiters.
func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		g.open = true
		close(g.waitCh)
	}
}

// IsPaused reports the current state.
func (g *PauseGate) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.open
}

// Wait blocks the caller until the gate is open. Workers call it before
// emitting each enumeration candidate, before hashing each file, and before
// each copy job and each copy chunk. It is not called when a directory is
// popped, nor between buffer fills inside a single file's hash.
func (g *PauseGate) Wait() {
	g.mu.Lock()
	ch := g.waitCh
	g.mu.Unlock()
	<-ch
}
