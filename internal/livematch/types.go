package livematch

import (
	"fmt"
	"strings"
)

type Move string

const (
	Rock     Move = "rock"
	Paper    Move = "paper"
	Scissors Move = "scissors"

	// Extended mode only
	Lizard Move = "lizard"
	Spock  Move = "spock"
)

var (
	ClassicMoves  = []Move{Rock, Paper, Scissors}
	ExtendedMoves = []Move{Rock, Paper, Scissors, Lizard, Spock}
)

// beats[m] lists the moves m defeats.
var beats = map[Move][]Move{
	Rock:     {Scissors, Lizard},
	Paper:    {Rock, Spock},
	Scissors: {Paper, Lizard},
	Lizard:   {Spock, Paper},
	Spock:    {Scissors, Rock},
}

// Valid reports whether m is playable; lizard and spock need extended.
func (m Move) Valid(extended bool) bool {
	switch m {
	case Rock, Paper, Scissors:
		return true
	case Lizard, Spock:
		return extended
	default:
		return false
	}
}

// ParseMove accepts a move name in any case.
func ParseMove(s string) (Move, error) {
	m := Move(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid(true) {
		return "", fmt.Errorf("unknown move %q", s)
	}
	return m, nil
}

// Outcome is a game or match result from the local player's point of view.
type Outcome string

const (
	Win  Outcome = "win"
	Loss Outcome = "loss"
	Tie  Outcome = "tie"
)

func (o Outcome) Valid() bool {
	return o == Win || o == Loss || o == Tie
}

// Invert flips the point of view.
func (o Outcome) Invert() Outcome {
	switch o {
	case Win:
		return Loss
	case Loss:
		return Win
	default:
		return o
	}
}

// Resolve scores self against opponent.
func Resolve(self, opponent Move) Outcome {
	if self == opponent {
		return Tie
	}
	for _, m := range beats[self] {
		if m == opponent {
			return Win
		}
	}
	return Loss
}

type PlayerRef struct {
	Username    string `json:"username"`
	IsConnected bool   `json:"is_connected"`
}

// GameRecord is one finished game. Records are never modified after they are
// appended.
type GameRecord struct {
	SelfMove     Move    `json:"self_move"`
	OpponentMove Move    `json:"opponent_move"`
	Outcome      Outcome `json:"outcome"`
}

// DefaultBestOf matches the authority's default match length.
const DefaultBestOf = 5

// MatchState is the authoritative client view of one live match.
//
// Reduce never mutates a MatchState in place, so values returned by
// Match.State may be shared freely.
type MatchState struct {
	BestOf           int
	Games            []GameRecord
	IsReady          bool
	SelectedMove     *Move
	Opponent         *PlayerRef
	MatchOutcome     *Outcome
	ConnectionErrors []error
}

// NewMatchState returns the empty state for a match. A bestOf that is not a
// positive odd number falls back to DefaultBestOf.
func NewMatchState(bestOf int) MatchState {
	if bestOf <= 0 || bestOf%2 == 0 {
		bestOf = DefaultBestOf
	}
	return MatchState{BestOf: bestOf}
}

// Tally counts finished games by outcome.
type Tally struct {
	Wins   int
	Losses int
	Ties   int
}

// TallyGames counts games by outcome from the local player's side.
func TallyGames(games []GameRecord) Tally {
	var t Tally
	for _, g := range games {
		switch g.Outcome {
		case Win:
			t.Wins++
		case Loss:
			t.Losses++
		case Tie:
			t.Ties++
		}
	}
	return t
}

// ComputeOutcome decides a best-of match. The match is over once either side
// holds a majority of bestOf, or once bestOf games have been played; in the
// latter case the higher win count takes it and equal counts are a Tie.
func ComputeOutcome(bestOf int, games []GameRecord) *Outcome {
	t := TallyGames(games)
	majority := bestOf/2 + 1

	var o Outcome
	switch {
	case t.Wins >= majority:
		o = Win
	case t.Losses >= majority:
		o = Loss
	case len(games) >= bestOf:
		switch {
		case t.Wins > t.Losses:
			o = Win
		case t.Losses > t.Wins:
			o = Loss
		default:
			o = Tie
		}
	default:
		return nil
	}
	return &o
}
