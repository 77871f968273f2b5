package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"rps-client/internal/livematch"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

var ErrNotFound = errors.New("match not found")

// goose keeps its dialect and base FS in package globals
var migrateMu sync.Mutex

// Record is one finished match as seen by the local player.
type Record struct {
	MatchID    string
	Opponent   string
	BestOf     int
	Outcome    livematch.Outcome
	Tally      livematch.Tally
	Games      []livematch.GameRecord
	FinishedAt time.Time
}

// RecordFromState builds a Record for a decided match. It reports false while
// the match is still running.
func RecordFromState(matchID string, s livematch.MatchState, at time.Time) (Record, bool) {
	if s.MatchOutcome == nil {
		return Record{}, false
	}
	r := Record{
		MatchID:    matchID,
		BestOf:     s.BestOf,
		Outcome:    *s.MatchOutcome,
		Tally:      s.Tally(),
		Games:      append([]livematch.GameRecord(nil), s.Games...),
		FinishedAt: at.UTC(),
	}
	if s.Opponent != nil {
		r.Opponent = s.Opponent.Username
	}
	return r, true
}

// Store archives finished matches in sqlite or postgres.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects with the given driver ("sqlite3" or "pgx") and applies
// migrations.
func Open(driver, dsn string) (*Store, error) {
	if driver == DriverSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s history store: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	s, err := New(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle and applies migrations.
func New(db *sql.DB, driver string) (*Store, error) {
	if err := migrate(db, driver); err != nil {
		return nil, err
	}
	return &Store{db: db, driver: driver}, nil
}

func migrate(db *sql.DB, driver string) error {
	var dialect string
	switch driver {
	case DriverSQLite:
		dialect = "sqlite3"
	case DriverPostgres:
		dialect = "postgres"
	default:
		return fmt.Errorf("unsupported history driver %q", driver)
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores r, replacing any earlier record for the same match.
func (s *Store) Save(ctx context.Context, r Record) error {
	gamesData, err := json.Marshal(r.Games)
	if err != nil {
		return fmt.Errorf("failed to serialize games: %w", err)
	}

	query := `
		INSERT INTO matches (match_id, opponent, best_of, outcome, wins, losses, ties, games_data, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_id) DO UPDATE SET
			opponent = excluded.opponent,
			best_of = excluded.best_of,
			outcome = excluded.outcome,
			wins = excluded.wins,
			losses = excluded.losses,
			ties = excluded.ties,
			games_data = excluded.games_data,
			finished_at = excluded.finished_at
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		r.MatchID,
		r.Opponent,
		r.BestOf,
		string(r.Outcome),
		r.Tally.Wins,
		r.Tally.Losses,
		r.Tally.Ties,
		string(gamesData),
		r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save match %s: %w", r.MatchID, err)
	}
	return nil
}

// Get loads one match. It returns ErrNotFound for an unknown id.
func (s *Store) Get(ctx context.Context, matchID string) (Record, error) {
	query := `
		SELECT match_id, opponent, best_of, outcome, wins, losses, ties, games_data, finished_at
		FROM matches WHERE match_id = ?
	`
	r, err := scanRecord(s.db.QueryRowContext(ctx, s.rebind(query), matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, matchID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load match %s: %w", matchID, err)
	}
	return r, nil
}

// List returns the most recent matches first. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `
		SELECT match_id, opponent, best_of, outcome, wins, losses, ties, games_data, finished_at
		FROM matches
		ORDER BY finished_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match rows: %w", err)
	}
	return records, nil
}

// Totals counts archived match outcomes.
func (s *Store) Totals(ctx context.Context) (livematch.Tally, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM matches GROUP BY outcome`)
	if err != nil {
		return livematch.Tally{}, fmt.Errorf("failed to count matches: %w", err)
	}
	defer rows.Close()

	var t livematch.Tally
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return livematch.Tally{}, fmt.Errorf("failed to scan totals: %w", err)
		}
		switch livematch.Outcome(outcome) {
		case livematch.Win:
			t.Wins = n
		case livematch.Loss:
			t.Losses = n
		case livematch.Tie:
			t.Ties = n
		}
	}
	return t, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var r Record
	var outcome, gamesData string
	err := row.Scan(
		&r.MatchID,
		&r.Opponent,
		&r.BestOf,
		&outcome,
		&r.Tally.Wins,
		&r.Tally.Losses,
		&r.Tally.Ties,
		&gamesData,
		&r.FinishedAt,
	)
	if err != nil {
		return Record{}, err
	}
	r.Outcome = livematch.Outcome(outcome)
	if err := json.Unmarshal([]byte(gamesData), &r.Games); err != nil {
		return Record{}, fmt.Errorf("failed to deserialize games: %w", err)
	}
	r.FinishedAt = r.FinishedAt.UTC()
	return r, nil
}

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
