package sandbox

import (
	"cmp"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"rps-client/internal/api"
)

type standing struct {
	wins   int
	losses int
}

func (s standing) winPct() float64 {
	played := s.wins + s.losses
	if played == 0 {
		return 0
	}
	return float64(s.wins) * 100 / float64(played)
}

// leaderboard counts decided matches per player.
type leaderboard struct {
	mu        sync.Mutex
	standings map[string]*standing
}

func newLeaderboard() *leaderboard {
	return &leaderboard{standings: make(map[string]*standing)}
}

// join lists a player with no results yet.
func (l *leaderboard) join(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.standings[username]; !ok {
		l.standings[username] = &standing{}
	}
}

func (l *leaderboard) record(winner, loser string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range []string{winner, loser} {
		if _, ok := l.standings[name]; !ok {
			l.standings[name] = &standing{}
		}
	}
	l.standings[winner].wins++
	l.standings[loser].losses++
}

func (l *leaderboard) summaries() []api.PlayerSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]api.PlayerSummary, 0, len(l.standings))
	for name, s := range l.standings {
		out = append(out, api.PlayerSummary{
			Username:       name,
			MatchWinCount:  s.wins,
			MatchLossCount: s.losses,
			MatchWinPct:    s.winPct(),
		})
	}
	return out
}

var orderings = map[string]func(a, b api.PlayerSummary) int{
	"username": func(a, b api.PlayerSummary) int { return strings.Compare(a.Username, b.Username) },
	"match_win_pct": func(a, b api.PlayerSummary) int {
		return cmp.Compare(a.MatchWinPct, b.MatchWinPct)
	},
	"match_win_count": func(a, b api.PlayerSummary) int {
		return cmp.Compare(a.MatchWinCount, b.MatchWinCount)
	},
	"match_loss_count": func(a, b api.PlayerSummary) int {
		return cmp.Compare(a.MatchLossCount, b.MatchLossCount)
	},
}

// sortSummaries orders by a field name, with a leading "-" for descending.
// Ties fall back to username. Unknown fields sort by username.
func sortSummaries(players []api.PlayerSummary, ordering string) {
	desc := strings.HasPrefix(ordering, "-")
	by, ok := orderings[strings.TrimPrefix(ordering, "-")]
	if !ok {
		by, desc = orderings["username"], false
	}
	slices.SortFunc(players, func(a, b api.PlayerSummary) int {
		c := by(a, b)
		if desc {
			c = -c
		}
		if c == 0 {
			c = strings.Compare(a.Username, b.Username)
		}
		return c
	})
}

// paginate slices players into a 1-indexed page. ok is false for a page past
// the end; page 1 of an empty list is valid.
func paginate(players []api.PlayerSummary, page, pageSize int, self *url.URL) (api.Paginated[api.PlayerSummary], bool) {
	count := len(players)
	start := (page - 1) * pageSize
	if page < 1 || (start >= count && page != 1) {
		return api.Paginated[api.PlayerSummary]{}, false
	}
	end := min(start+pageSize, count)

	out := api.Paginated[api.PlayerSummary]{
		Count:   count,
		Results: players[start:end],
	}
	if end < count {
		next := pageURL(self, page+1)
		out.Next = &next
	}
	if page > 1 {
		prev := pageURL(self, page-1)
		out.Previous = &prev
	}
	return out, true
}

func pageURL(self *url.URL, page int) string {
	u := *self
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}
