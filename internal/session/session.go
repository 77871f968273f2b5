// Package session runs one live-match view: a socket to the match authority,
// the match state it feeds, and the notification and archive side effects.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rps-client/internal/api"
	"rps-client/internal/connection"
	"rps-client/internal/history"
	"rps-client/internal/livematch"
	"rps-client/internal/notify"
)

var (
	ErrNoMatchID = errors.New("match id is required")
	ErrClosed    = errors.New("connection closed before it opened")
)

// Archive stores finished matches.
type Archive interface {
	Save(ctx context.Context, r history.Record) error
}

type Config struct {
	Host        string
	MatchID     string
	Username    string
	Token       string
	BestOf      int
	DialTimeout time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger
	Notifier    notify.Notifier
	Archive     Archive
}

type Session struct {
	matchID string
	log     *zap.Logger
	conn    *connection.Conn[livematch.ServerEvent]
	match   *livematch.Match
	bridge  *notify.Bridge
	archive Archive

	// actionMu orders local actions against inbound events, so a reply can
	// never be reduced before the action that caused it.
	actionMu sync.Mutex

	opened   chan struct{}
	openOnce sync.Once
	lastExit atomic.Pointer[connection.CloseEvent]

	archived   atomic.Bool
	saveMu     sync.Mutex
	saveClosed bool
	saves      sync.WaitGroup
}

// Start opens the match socket and returns at once. Use AwaitOpen to wait for
// the connection.
func Start(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.MatchID == "" {
		return nil, ErrNoMatchID
	}

	path := api.MatchSocketPath + url.PathEscape(cfg.MatchID)
	if cfg.Username != "" {
		path += "?" + url.Values{"username": {cfg.Username}}.Encode()
	}
	addr, err := connection.ResolveURL(cfg.Host, path)
	if err != nil {
		return nil, fmt.Errorf("resolve match socket: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("match_id", cfg.MatchID))

	s := &Session{
		matchID: cfg.MatchID,
		log:     logger,
		match:   livematch.NewMatch(cfg.BestOf),
		bridge:  notify.NewBridge(cfg.Notifier),
		archive: cfg.Archive,
		opened:  make(chan struct{}),
	}
	s.match.Subscribe(s.observe)

	opts := []connection.Option{
		connection.WithLogger(logger),
		connection.WithHeader(api.AuthHeader(cfg.Token)),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, connection.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.DialTimeout > 0 {
		opts = append(opts, connection.WithDialTimeout(cfg.DialTimeout))
	}

	s.conn = connection.Open(ctx, addr, connection.Handlers[livematch.ServerEvent]{
		OnOpen:    s.onOpen,
		OnMessage: s.onMessage,
		OnError:   s.onError,
		OnClose:   s.onClose,
	}, opts...)
	return s, nil
}

func (s *Session) MatchID() string { return s.matchID }

func (s *Session) State() livematch.MatchState { return s.match.State() }

func (s *Session) Status() connection.Status { return s.conn.Status() }

// Done is closed once the socket has closed.
func (s *Session) Done() <-chan struct{} { return s.conn.Done() }

// Err is the transport error that ended the socket, if any.
func (s *Session) Err() error { return s.conn.Err() }

// CloseEvent reports how the socket closed. ok is false while it is open or
// after Close.
func (s *Session) CloseEvent() (connection.CloseEvent, bool) {
	ev := s.lastExit.Load()
	if ev == nil {
		return connection.CloseEvent{}, false
	}
	return *ev, true
}

// Subscribe registers fn for every state change. fn must not call Ready,
// Move or Close synchronously.
func (s *Session) Subscribe(fn func(livematch.MatchState)) {
	s.match.Subscribe(fn)
}

// AwaitOpen blocks until the socket is connected or has failed to connect.
func (s *Session) AwaitOpen(ctx context.Context) error {
	select {
	case <-s.opened:
		return nil
	default:
	}

	select {
	case <-s.opened:
		return nil
	case <-s.conn.Done():
		if err := s.conn.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready asks the authority to start the next game. The state only changes
// once the authority acknowledges it.
func (s *Session) Ready(ctx context.Context) error {
	if !s.match.State().CanReady() {
		return fmt.Errorf("%w: ready", livematch.ErrPrecondition)
	}
	return s.conn.Send(ctx, livematch.ReadyMessage())
}

// Move sends m and records it as the selected move once the frame is out.
func (s *Session) Move(ctx context.Context, m livematch.Move) error {
	if !m.Valid(true) {
		return fmt.Errorf("unknown move %q", m)
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	if !s.match.State().CanMove() {
		return fmt.Errorf("%w: move %s", livematch.ErrPrecondition, m)
	}
	if err := s.conn.Send(ctx, livematch.MoveMessage(m)); err != nil {
		return err
	}
	s.match.Dispatch(livematch.MoveSelected{Move: m})
	return nil
}

// Close silences the socket callbacks, closes the socket and waits for any
// archive write in progress.
func (s *Session) Close() error {
	s.conn.Teardown()

	s.saveMu.Lock()
	s.saveClosed = true
	s.saveMu.Unlock()
	s.saves.Wait()
	return nil
}

func (s *Session) onOpen() {
	s.openOnce.Do(func() { close(s.opened) })
}

func (s *Session) onMessage(ev livematch.ServerEvent) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	if se, ok := ev.Event.(*livematch.ServerError); ok {
		s.log.Warn("Server reported an error", zap.String("code", se.Code), zap.String("detail", se.Detail))
	}
	s.match.Dispatch(ev.Event)
}

func (s *Session) onError(err error) {
	s.log.Debug("Connection error", zap.Error(err))
	s.match.Dispatch(livematch.ConnectionError{Err: err})
}

func (s *Session) onClose(ev connection.CloseEvent) {
	s.lastExit.Store(&ev)
	if !ev.Normal() {
		s.log.Warn("Match socket closed abnormally", zap.Int("code", int(ev.Code)), zap.String("reason", ev.Reason))
	}
}

// observe runs after every dispatch.
func (s *Session) observe(st livematch.MatchState) {
	s.bridge.Observe(st)

	if s.archive == nil || st.MatchOutcome == nil || !s.archived.CompareAndSwap(false, true) {
		return
	}
	rec, _ := history.RecordFromState(s.matchID, st, time.Now())

	s.saveMu.Lock()
	if s.saveClosed {
		s.saveMu.Unlock()
		return
	}
	s.saves.Add(1)
	s.saveMu.Unlock()

	go func() {
		defer s.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.archive.Save(ctx, rec); err != nil {
			s.log.Warn("Failed to archive match", zap.Error(err))
			return
		}
		s.log.Info("Match archived", zap.String("outcome", string(rec.Outcome)))
	}()
}
