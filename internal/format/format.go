package format

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"rps-client/internal/livematch"
)

var pastTense = map[livematch.Outcome]string{
	livematch.Win:  "won",
	livematch.Loss: "lost",
	livematch.Tie:  "tied",
}

var logLabel = map[livematch.Outcome]string{
	livematch.Win:  "W",
	livematch.Loss: "L",
	livematch.Tie:  "T",
}

// PastTense maps an outcome to "won", "lost" or "tied".
func PastTense(o livematch.Outcome) string {
	if s, ok := pastTense[o]; ok {
		return s
	}
	return string(o)
}

// GameOutcome is the line shown between games.
func GameOutcome(o livematch.Outcome) string {
	return fmt.Sprintf("You %s that game", PastTense(o))
}

// MatchOutcome is the headline shown once the match is decided.
func MatchOutcome(o livematch.Outcome) string {
	return fmt.Sprintf("You %s!", PastTense(o))
}

// GameOver is the notification text for the gameNum-th finished game.
func GameOver(gameNum, bestOf int, o livematch.Outcome) string {
	if bestOf <= 1 {
		return fmt.Sprintf("Game over - you %s", PastTense(o))
	}
	return fmt.Sprintf("Game %d of %d over - you %s", gameNum, bestOf, PastTense(o))
}

func OpponentConnected(username string) string {
	return fmt.Sprintf("%s connected", username)
}

func BestOf(n int) string {
	return fmt.Sprintf("Best of %d", n)
}

// GameLog renders finished games as W/L/T followed by a dash for every
// unplayed slot.
func GameLog(bestOf int, games []livematch.GameRecord) string {
	parts := make([]string, 0, max(bestOf, len(games)))
	for _, g := range games {
		parts = append(parts, logLabel[g.Outcome])
	}
	for i := len(games); i < bestOf; i++ {
		parts = append(parts, "–")
	}
	return strings.Join(parts, " ")
}

// Score renders a running tally, e.g. "2-1 (1 tie)".
func Score(t livematch.Tally) string {
	s := fmt.Sprintf("%d-%d", t.Wins, t.Losses)
	switch t.Ties {
	case 0:
		return s
	case 1:
		return s + " (1 tie)"
	default:
		return fmt.Sprintf("%s (%d ties)", s, t.Ties)
	}
}

var splashes = map[livematch.Outcome][]string{
	livematch.Win: {
		"Flawless execution.",
		"They never saw it coming.",
		"Read them like a book.",
	},
	livematch.Loss: {
		"Better luck next time.",
		"They had your number today.",
		"Shake it off and queue again.",
	},
	livematch.Tie: {
		"Perfectly balanced.",
		"Nobody blinked.",
		"Call it a rematch.",
	},
}

// Splash picks a flavor line for a decided match. A nil r uses the global
// source.
func Splash(o livematch.Outcome, r *rand.Rand) string {
	lines := splashes[o]
	if len(lines) == 0 {
		return ""
	}
	if r == nil {
		return lines[rand.IntN(len(lines))]
	}
	return lines[r.IntN(len(lines))]
}
