package livematch

import (
	"sync"
)

// Match owns one MatchState. Dispatch is the only way to change it and calls
// are serialized, so two events are never reduced at the same time.
type Match struct {
	mu    sync.Mutex
	state MatchState

	notifyMu    sync.Mutex
	subscribers []func(MatchState)
}

// NewMatch creates a match store holding NewMatchState(bestOf).
func NewMatch(bestOf int) *Match {
	return &Match{state: NewMatchState(bestOf)}
}

// State returns a snapshot of the current state.
func (m *Match) State() MatchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn to receive the state after every dispatch, in
// dispatch order. fn must not call Dispatch synchronously.
func (m *Match) Subscribe(fn func(MatchState)) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Dispatch reduces ev into the state, notifies subscribers and returns the
// new state.
func (m *Match) Dispatch(ev Event) MatchState {
	m.mu.Lock()
	m.state = Reduce(m.state, ev)
	next := m.state
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	for _, fn := range m.subscribers {
		fn(next)
	}
	return next
}
