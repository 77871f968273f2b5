package livematch

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrPrecondition is recorded when a local action is not valid in the
	// current state.
	ErrPrecondition = errors.New("action not allowed in current match state")
	// ErrMatchOver is recorded when a game result arrives for a decided match.
	ErrMatchOver = errors.New("game result after match is over")
	// ErrInconsistentSync is recorded when a state sync carries more games
	// than the match can hold. The sync is dropped.
	ErrInconsistentSync = errors.New("state sync does not fit the match")
)

// Reduce folds one event into the match state. It has no hidden inputs and
// never mutates s.
func Reduce(s MatchState, ev Event) MatchState {
	switch e := ev.(type) {
	case StateSync:
		return reduceSync(s, e)

	case GameResult:
		if s.MatchOutcome != nil || len(s.Games) >= s.BestOf {
			return withError(s, fmt.Errorf("%w: %s after %d of %d games", ErrMatchOver, e.Game.Outcome, len(s.Games), s.BestOf))
		}
		next := s
		next.Games = append(slices.Clone(s.Games), e.Game)
		next.SelectedMove = nil
		next.IsReady = false
		next.MatchOutcome = ComputeOutcome(next.BestOf, next.Games)
		return next

	case *ServerError:
		return withError(s, e)

	case ConnectionError:
		return withError(s, e.Err)

	case MoveSelected:
		if !s.CanMove() {
			return withError(s, fmt.Errorf("%w: move %s", ErrPrecondition, e.Move))
		}
		next := s
		m := e.Move
		next.SelectedMove = &m
		return next

	default:
		return s
	}
}

func reduceSync(s MatchState, e StateSync) MatchState {
	bestOf := s.BestOf
	if e.BestOf > 0 && e.BestOf%2 == 1 {
		bestOf = e.BestOf
	}
	games := s.Games
	if e.Games != nil {
		games = e.Games
	}
	if len(games) > bestOf {
		return withError(s, fmt.Errorf("%w: %d games for best of %d", ErrInconsistentSync, len(games), bestOf))
	}

	next := s
	next.BestOf = bestOf
	next.IsReady = e.IsReady
	next.Opponent = e.Opponent

	next.SelectedMove = e.SelectedMove
	if !next.IsReady {
		next.SelectedMove = nil
	}

	if e.Games != nil {
		next.Games = slices.Clone(e.Games)
	}

	if e.MatchOutcome != nil {
		o := *e.MatchOutcome
		next.MatchOutcome = &o
	} else {
		next.MatchOutcome = ComputeOutcome(next.BestOf, next.Games)
	}
	return next
}

func withError(s MatchState, err error) MatchState {
	next := s
	next.ConnectionErrors = append(slices.Clone(s.ConnectionErrors), err)
	return next
}

// RemainingGames is the number of unplayed game slots.
func (s MatchState) RemainingGames() int {
	if n := s.BestOf - len(s.Games); n > 0 {
		return n
	}
	return 0
}

func (s MatchState) Tally() Tally {
	return TallyGames(s.Games)
}

// LastGame returns the most recently finished game, if any.
func (s MatchState) LastGame() (GameRecord, bool) {
	if len(s.Games) == 0 {
		return GameRecord{}, false
	}
	return s.Games[len(s.Games)-1], true
}

// CanMove reports whether sending a move is meaningful now.
func (s MatchState) CanMove() bool {
	return s.IsReady && s.SelectedMove == nil && s.MatchOutcome == nil && s.Opponent != nil
}

// CanReady reports whether sending ready is meaningful now.
func (s MatchState) CanReady() bool {
	return !s.IsReady && s.MatchOutcome == nil
}

// Board is what the match header shows for each side.
type Board struct {
	SelfMove     *Move
	OpponentMove *Move
	// OpponentPending is set while waiting on the opponent's move.
	OpponentPending bool
}

func (s MatchState) Board() Board {
	var b Board
	last, hasLast := s.LastGame()
	if s.IsReady {
		b.SelfMove = s.SelectedMove
	} else if hasLast {
		m := last.SelfMove
		b.SelfMove = &m
	}
	if !s.IsReady && hasLast {
		m := last.OpponentMove
		b.OpponentMove = &m
	}
	b.OpponentPending = s.SelectedMove != nil
	return b
}
