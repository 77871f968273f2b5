package notify

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"rps-client/internal/format"
	"rps-client/internal/livematch"
)

type Notifier interface {
	Notify(text string)
}

type NotifierFunc func(text string)

func (f NotifierFunc) Notify(text string) { f(text) }

// Bridge turns match state changes into notifications. It remembers what it
// has already announced, so feeding it the same state again fires nothing.
type Bridge struct {
	notifier Notifier

	mu           sync.Mutex
	lastOpponent string
	lastGames    int
}

// NewBridge creates a bridge that has seen no state yet. n may be nil.
func NewBridge(n Notifier) *Bridge {
	return &Bridge{notifier: n}
}

// Observe compares s with the last observed state and fires one notification
// for each transition: the opponent appearing (or changing) and the game
// count growing. It returns the texts it fired.
func (b *Bridge) Observe(s livematch.MatchState) []string {
	b.mu.Lock()
	var fired []string

	opponent := ""
	if s.Opponent != nil {
		opponent = s.Opponent.Username
	}
	if opponent != "" && opponent != b.lastOpponent {
		fired = append(fired, format.OpponentConnected(opponent))
	}
	b.lastOpponent = opponent

	if n := len(s.Games); n > b.lastGames {
		last := s.Games[n-1]
		fired = append(fired, format.GameOver(n, s.BestOf, last.Outcome))
	}
	b.lastGames = len(s.Games)
	b.mu.Unlock()

	if b.notifier != nil {
		for _, text := range fired {
			b.notifier.Notify(text)
		}
	}
	return fired
}

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(text string) {
	n.Log.Info("Notification", zap.String("text", text))
}

// WriterNotifier prints one notification per line.
type WriterNotifier struct {
	mu sync.Mutex
	W  io.Writer
}

func (n *WriterNotifier) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.W, "* %s\n", text)
}

// Multi fans a notification out to several sinks.
type Multi []Notifier

func (m Multi) Notify(text string) {
	for _, n := range m {
		n.Notify(text)
	}
}
