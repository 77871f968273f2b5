package sandbox

import (
	"errors"
	"fmt"

	"rps-client/internal/livematch"
)

// Error codes sent in "error" frames.
const (
	CodeInvalidMessage = "invalid_message"
	CodeInvalidMove    = "invalid_move"
	CodeNotReady       = "not_ready"
	CodeMatchOver      = "match_over"
	CodeMatchFull      = "match_full"
	CodeRateLimited    = "rate_limited"
)

// clientError is a rule violation reported back to the offending player.
type clientError struct {
	code   string
	detail string
}

func (e *clientError) Error() string { return fmt.Sprintf("%s: %s", e.code, e.detail) }

func newClientError(code, detail string) *clientError {
	return &clientError{code: code, detail: detail}
}

func asClientError(err error) *livematch.ServerError {
	var ce *clientError
	if errors.As(err, &ce) {
		return &livematch.ServerError{Code: ce.code, Detail: ce.detail}
	}
	return &livematch.ServerError{Code: CodeInvalidMessage, Detail: err.Error()}
}

type seat struct {
	username  string
	connected bool
	ready     bool
	move      *livematch.Move
}

// game is one finished game stored from seat 0's point of view.
type game struct {
	moves   [2]livematch.Move
	outcome livematch.Outcome
}

// liveMatch is the authoritative state of one match. It is not safe for
// concurrent use; Server guards it.
type liveMatch struct {
	id       string
	bestOf   int
	extended bool
	seats    [2]*seat
	games    []game
}

func newLiveMatch(id string, bestOf int, extended bool) *liveMatch {
	if bestOf <= 0 || bestOf%2 == 0 {
		bestOf = livematch.DefaultBestOf
	}
	return &liveMatch{id: id, bestOf: bestOf, extended: extended}
}

// connectPlayer seats username in the first open slot, or marks an already
// seated player connected again.
func (m *liveMatch) connectPlayer(username string) (int, error) {
	for i, s := range m.seats {
		if s != nil && s.username == username {
			s.connected = true
			return i, nil
		}
	}
	for i, s := range m.seats {
		if s == nil {
			m.seats[i] = &seat{username: username, connected: true}
			return i, nil
		}
	}
	return -1, newClientError(CodeMatchFull, "match already has two players")
}

func (m *liveMatch) disconnectPlayer(slot int) {
	if s := m.seats[slot]; s != nil {
		s.connected = false
	}
}

func (m *liveMatch) outcome() *livematch.Outcome {
	return livematch.ComputeOutcome(m.bestOf, m.gamesFor(0))
}

func (m *liveMatch) setReady(slot int) error {
	if m.outcome() != nil {
		return newClientError(CodeMatchOver, "match is already decided")
	}
	m.seats[slot].ready = true
	return nil
}

// applyMove records a move for slot. It reports true when both players have
// moved and the game is ready to be processed.
func (m *liveMatch) applyMove(slot int, mv livematch.Move) (bool, error) {
	s := m.seats[slot]
	switch {
	case m.outcome() != nil:
		return false, newClientError(CodeMatchOver, "match is already decided")
	case !mv.Valid(m.extended):
		return false, newClientError(CodeInvalidMove, fmt.Sprintf("%q is not a legal move", mv))
	case !s.ready:
		return false, newClientError(CodeNotReady, "send ready before moving")
	case m.seats[1-slot] == nil:
		return false, newClientError(CodeNotReady, "waiting for an opponent")
	case s.move != nil:
		return false, newClientError(CodeInvalidMove, "move already applied")
	}
	s.move = &mv
	other := m.seats[1-slot]
	return other.move != nil, nil
}

// processCompleteGame scores the pending moves, appends the game and resets
// both players for the next game.
func (m *liveMatch) processCompleteGame() (game, error) {
	p0, p1 := m.seats[0], m.seats[1]
	if p0 == nil || p1 == nil || p0.move == nil || p1.move == nil {
		return game{}, errors.New("cannot complete game without both moves")
	}

	g := game{
		moves:   [2]livematch.Move{*p0.move, *p1.move},
		outcome: livematch.Resolve(*p0.move, *p1.move),
	}
	m.games = append(m.games, g)

	for _, s := range m.seats {
		s.move = nil
		s.ready = false
	}
	return g, nil
}

func (g game) recordFor(slot int) livematch.GameRecord {
	r := livematch.GameRecord{
		SelfMove:     g.moves[slot],
		OpponentMove: g.moves[1-slot],
		Outcome:      g.outcome,
	}
	if slot == 1 {
		r.Outcome = g.outcome.Invert()
	}
	return r
}

func (m *liveMatch) gamesFor(slot int) []livematch.GameRecord {
	out := make([]livematch.GameRecord, len(m.games))
	for i, g := range m.games {
		out[i] = g.recordFor(slot)
	}
	return out
}

// stateFor is the match as seen by the player in slot.
func (m *liveMatch) stateFor(slot int) livematch.StateSync {
	s := m.seats[slot]
	sync := livematch.StateSync{
		BestOf:  m.bestOf,
		IsReady: s.ready,
		Games:   m.gamesFor(slot),
	}
	if s.move != nil {
		mv := *s.move
		sync.SelectedMove = &mv
	}
	if o := m.seats[1-slot]; o != nil {
		sync.Opponent = &livematch.PlayerRef{Username: o.username, IsConnected: o.connected}
	}
	if out := livematch.ComputeOutcome(m.bestOf, sync.Games); out != nil {
		sync.MatchOutcome = out
	}
	return sync
}

// winner returns the slot that won the match, or -1 for a tie or an
// undecided match.
func (m *liveMatch) winner() int {
	o := m.outcome()
	if o == nil {
		return -1
	}
	switch *o {
	case livematch.Win:
		return 0
	case livematch.Loss:
		return 1
	default:
		return -1
	}
}
