package callback

import "sync/atomic"

// Guard holds the latest set of callbacks for a long-lived resource and a
// liveness flag. Callers swap the set with Set as often as they like; the
// resource keeps invoking through the guard and always sees the newest set.
//
// Once Release is called no further invocation starts. An invocation that is
// already running is allowed to finish.
type Guard[T any] struct {
	latest atomic.Pointer[T]
	alive  atomic.Bool
}

// NewGuard creates a live guard holding initial.
func NewGuard[T any](initial T) *Guard[T] {
	g := &Guard[T]{}
	g.latest.Store(&initial)
	g.alive.Store(true)
	return g
}

// Set replaces the callback set. It has no effect after Release.
func (g *Guard[T]) Set(latest T) {
	if !g.alive.Load() {
		return
	}
	g.latest.Store(&latest)
}

// Release marks the owner as gone. It is safe to call more than once.
func (g *Guard[T]) Release() {
	g.alive.Store(false)
}

// Alive reports whether Release has not been called yet.
func (g *Guard[T]) Alive() bool {
	return g.alive.Load()
}

// Do runs fn against the current callback set if the guard is still alive and
// reports whether fn ran.
func (g *Guard[T]) Do(fn func(T)) bool {
	if !g.alive.Load() {
		return false
	}
	cbs := g.latest.Load()
	if cbs == nil {
		return false
	}
	fn(*cbs)
	return true
}
