package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"rps-client/internal/request"
)

const (
	NewMatchPath    = "/api/matches/new"
	PlayersPath     = "/api/players/"
	MatchSocketPath = "/ws/matches/"

	DefaultOrdering = "-match_win_pct"
	DefaultPageSize = 10
)

type NewMatchResponse struct {
	MatchID string `json:"match_id"`
}

type PlayerSummary struct {
	Username       string  `json:"username"`
	MatchWinCount  int     `json:"match_win_count"`
	MatchLossCount int     `json:"match_loss_count"`
	MatchWinPct    float64 `json:"match_win_pct"`
}

// Paginated is the list envelope returned by the players endpoint.
type Paginated[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// LeaderboardQuery pages are zero-indexed; the server counts from one.
type LeaderboardQuery struct {
	Page     int
	PageSize int
	Ordering string
}

func (q LeaderboardQuery) Params() url.Values {
	if q.Page < 0 {
		q.Page = 0
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.Ordering == "" {
		q.Ordering = DefaultOrdering
	}
	return url.Values{
		"page":      {strconv.Itoa(q.Page + 1)},
		"page_size": {strconv.Itoa(q.PageSize)},
		"ordering":  {q.Ordering},
	}
}

// Client binds the HTTP endpoints to request engines that share one base URL
// and credentials.
type Client struct {
	NewMatches  *request.Engine[NewMatchResponse]
	Leaderboard *request.Engine[Paginated[PlayerSummary]]
}

type Option func(*clientOptions)

type clientOptions struct {
	http   *http.Client
	token  string
	logger *zap.Logger
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.http = c }
}

// WithToken sends "Authorization: Token <token>" on every request.
func WithToken(token string) Option {
	return func(o *clientOptions) { o.token = token }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	header := AuthHeader(o.token)
	engineOpts := []request.Option{
		request.WithBaseURL(baseURL),
		request.WithLogger(o.logger.Named("api")),
	}

	return &Client{
		NewMatches: request.NewEngine[NewMatchResponse](o.http,
			request.Config{Method: http.MethodGet, URL: NewMatchPath, Header: header},
			engineOpts...),
		Leaderboard: request.NewEngine[Paginated[PlayerSummary]](o.http,
			request.Config{Method: http.MethodGet, URL: PlayersPath, Header: header},
			engineOpts...),
	}
}

// AuthHeader returns the credentials header for token, or an empty header.
func AuthHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Token "+token)
	}
	return h
}

// NewMatch asks the server for a fresh match id. Params are passed through
// as query parameters (e.g. best_of).
func (c *Client) NewMatch(ctx context.Context, params url.Values) (NewMatchResponse, error) {
	return c.NewMatches.Fetch(ctx, request.Config{Params: params})
}

// FetchLeaderboard loads one page of player standings.
func (c *Client) FetchLeaderboard(ctx context.Context, q LeaderboardQuery) (Paginated[PlayerSummary], error) {
	return c.Leaderboard.Fetch(ctx, request.Config{Params: q.Params()})
}
