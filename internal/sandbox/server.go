// Package sandbox is a local match authority that speaks the same HTTP and
// websocket protocol as the hosted service.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rps-client/internal/api"
)

const (
	defaultPageSize = api.DefaultPageSize
	maxPageSize     = 100
)

type options struct {
	maxFrames    int
	window       time.Duration
	writeTimeout time.Duration
}

type Option func(*options)

// WithRateLimit caps inbound socket frames per connection.
func WithRateLimit(maxFrames int, window time.Duration) Option {
	return func(o *options) { o.maxFrames, o.window = maxFrames, window }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// room is a match plus the sockets currently seated in it. mu serializes
// rule evaluation and outbound frames so each player sees events in order.
type room struct {
	mu      sync.Mutex
	match   *liveMatch
	clients [2]*client
}

type client struct {
	id   string
	slot int
	ws   *websocket.Conn
}

type Server struct {
	log          *zap.Logger
	limiter      *RateLimiter
	board        *leaderboard
	writeTimeout time.Duration

	mu      sync.Mutex
	rooms   map[string]*room
	sockets map[string]*websocket.Conn
	closing bool

	handlers sync.WaitGroup
}

// New creates a sandbox with no matches. A nil logger discards output.
func New(logger *zap.Logger, opts ...Option) *Server {
	o := options{maxFrames: 20, window: time.Second, writeTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		log:          logger,
		limiter:      NewRateLimiter(o.maxFrames, o.window),
		board:        newLeaderboard(),
		writeTimeout: o.writeTimeout,
		rooms:        make(map[string]*room),
		sockets:      make(map[string]*websocket.Conn),
	}
}

// Handler returns the HTTP routes, including the match websocket.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/health", s.healthHandler)
	r.Get(api.NewMatchPath, s.newMatchHandler)
	r.Get(api.PlayersPath, s.playersHandler)
	r.Get(api.MatchSocketPath+"{matchID}", s.socketHandler)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown closes every open socket with 1001 and waits for the socket
// handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	sockets := make(map[string]*websocket.Conn, len(s.sockets))
	for id, ws := range s.sockets {
		sockets[id] = ws
	}
	s.mu.Unlock()

	s.log.Info("Closing sockets", zap.Int("count", len(sockets)))

	g, _ := errgroup.WithContext(ctx)
	for id, ws := range sockets {
		g.Go(func() error {
			if err := ws.Close(websocket.StatusGoingAway, "server shutting down"); err != nil {
				s.log.Debug("Socket close failed", zap.String("connection_id", id), zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		done := make(chan struct{})
		go func() {
			s.handlers.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return g.Wait()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	stats := map[string]int{"matches": len(s.rooms), "sockets": len(s.sockets)}
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) newMatchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	bestOf := 0
	if v := q.Get("best_of"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n%2 == 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "best_of must be a positive odd number"})
			return
		}
		bestOf = n
	}

	extended := false
	if v := q.Get("extended"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "extended must be a boolean"})
			return
		}
		extended = b
	}

	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	m := newLiveMatch(id, bestOf, extended)

	s.mu.Lock()
	s.rooms[id] = &room{match: m}
	s.mu.Unlock()

	s.log.Info("Match created",
		zap.String("match_id", id),
		zap.Int("best_of", m.bestOf),
		zap.Bool("extended", extended))
	s.writeJSON(w, http.StatusOK, api.NewMatchResponse{MatchID: id})
}

func (s *Server) playersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Invalid page."})
		return
	}
	pageSize, err := intParam(q.Get("page_size"), defaultPageSize)
	if err != nil || pageSize <= 0 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	ordering := q.Get("ordering")
	if ordering == "" {
		ordering = api.DefaultOrdering
	}

	players := s.board.summaries()
	sortSummaries(players, ordering)

	self := *r.URL
	self.Scheme, self.Host = "http", r.Host
	if r.TLS != nil {
		self.Scheme = "https"
	}
	resp, ok := paginate(players, page, pageSize, &self)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Invalid page."})
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func intParam(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.log.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) room(id string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[id]
}

// track registers a socket for Shutdown. It fails once shutdown has begun.
// Every successful track must be paired with untrack.
func (s *Server) track(id string, ws *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return errors.New("server is shutting down")
	}
	s.sockets[id] = ws
	s.handlers.Add(1)
	return nil
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.sockets, id)
	s.mu.Unlock()
	s.limiter.Forget(id)
	s.handlers.Done()
}
