package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rps-client/internal/callback"
)

// Handlers is the set of optional lifecycle callbacks. Any slot may be nil.
type Handlers[In any] struct {
	OnOpen    func()
	OnMessage func(In)
	OnError   func(error)
	OnClose   func(CloseEvent)
}

type options struct {
	logger       *zap.Logger
	header       http.Header
	httpClient   *http.Client
	dialTimeout  time.Duration
	writeTimeout time.Duration
	readLimit    int64
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHeader adds headers to the opening handshake, e.g. Authorization.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h.Clone() }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

// Conn owns one persistent websocket and decodes every inbound text frame
// into In before handing it to OnMessage.
//
// All inbound events are delivered from a single reader goroutine in arrival
// order. Errors reported by Send run on the caller's goroutine.
type Conn[In any] struct {
	id       string
	addr     string
	log      *zap.Logger
	opts     options
	handlers *callback.Guard[Handlers[In]]

	mu      sync.Mutex
	status  Status
	ws      *websocket.Conn
	closing bool
	err     error

	cancel context.CancelFunc
	done   chan struct{}
}

// event is the tagged union every lifecycle occurrence is funneled through
// before reaching a named handler slot.
type event interface{ isEvent() }

type opened struct{}

type received[In any] struct{ msg In }

type failed struct{ err error }

type closed struct{ ev CloseEvent }

func (opened) isEvent()      {}
func (received[In]) isEvent() {}
func (failed) isEvent()      {}
func (closed) isEvent()      {}

// Open starts connecting to addr and returns immediately with the channel in
// Connecting. A dial failure is not returned: it moves the channel to
// ClosedError and is reported through OnError and OnClose.
//
// Cancelling ctx drops the socket without a close handshake, so the channel
// ends in ClosedError with code 1006. Use Close for a normal closure.
func Open[In any](ctx context.Context, addr string, h Handlers[In], opts ...Option) *Conn[In] {
	o := options{
		dialTimeout:  10 * time.Second,
		writeTimeout: 5 * time.Second,
		readLimit:    1 << 20,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(ctx)
	c := &Conn[In]{
		id:       id,
		addr:     addr,
		log:      o.logger.With(zap.String("conn_id", id), zap.String("addr", addr)),
		opts:     o,
		handlers: callback.NewGuard(h),
		status:   Connecting,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go c.run(ctx)
	return c
}

func (c *Conn[In]) ID() string { return c.id }

func (c *Conn[In]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error that ended the channel, if it ended abnormally.
func (c *Conn[In]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the channel reaches a terminal status.
func (c *Conn[In]) Done() <-chan struct{} { return c.done }

// SetHandlers swaps the callback set without touching the socket.
func (c *Conn[In]) SetHandlers(h Handlers[In]) {
	c.handlers.Set(h)
}

// Send encodes msg as JSON and writes it as one text frame.
func (c *Conn[In]) Send(ctx context.Context, msg any) error {
	c.mu.Lock()
	status, ws, closing := c.status, c.ws, c.closing
	c.mu.Unlock()

	if status != Connected || ws == nil || closing {
		err := fmt.Errorf("%w (status %s)", ErrSendWhileDisconnected, status)
		c.log.Warn("Send while disconnected", zap.Stringer("status", status))
		c.dispatch(failed{err: err})
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, c.opts.writeTimeout)
	defer cancel()
	if err := ws.Write(wctx, websocket.MessageText, data); err != nil {
		werr := &TransportError{Op: "write", Err: err}
		c.log.Warn("Write failed", zap.Error(err))
		c.dispatch(failed{err: werr})
		return werr
	}
	return nil
}

// Close requests a normal closure. Repeated calls are no-ops. It is safe to
// call from inside a handler.
func (c *Conn[In]) Close() error {
	c.mu.Lock()
	if c.closing || c.status.Terminal() {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		// Still dialing; run sees the cancelled dial and finishes as ClosedError.
		c.cancel()
		return nil
	}

	if err := ws.Close(websocket.StatusNormalClosure, ""); err != nil {
		c.log.Debug("Close handshake incomplete", zap.Error(err))
	}
	c.finish(ClosedNormal, CloseEvent{Code: websocket.StatusNormalClosure}, nil)
	return nil
}

// Teardown silences every handler and then closes the channel. Use it when the
// owner of the handlers goes away.
func (c *Conn[In]) Teardown() {
	c.handlers.Release()
	_ = c.Close()
	c.cancel()
}

func (c *Conn[In]) run(ctx context.Context) {
	dialCtx, cancelDial := context.WithTimeout(ctx, c.opts.dialTimeout)
	ws, _, err := websocket.Dial(dialCtx, c.addr, &websocket.DialOptions{
		HTTPClient: c.opts.httpClient,
		HTTPHeader: c.opts.header,
	})
	cancelDial()

	if err != nil {
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if closing || ctx.Err() != nil {
			c.log.Info("Closed before the handshake completed")
			c.abortDial(fmt.Errorf("%w: %w", ErrClosedWhileConnecting, err))
			return
		}
		c.log.Warn("Dial failed", zap.Error(err))
		c.abortDial(err)
		return
	}
	ws.SetReadLimit(c.opts.readLimit)

	c.mu.Lock()
	if c.closing || !canTransition(c.status, Connected) {
		c.mu.Unlock()
		_ = ws.CloseNow()
		c.abortDial(ErrClosedWhileConnecting)
		return
	}
	c.ws = ws
	c.status = Connected
	c.mu.Unlock()

	c.log.Info("Connection opened")
	c.dispatch(opened{})

	c.readLoop(ctx, ws)
}

// abortDial ends a channel that never reached Connected.
func (c *Conn[In]) abortDial(err error) {
	c.finish(ClosedError, CloseEvent{Code: websocket.StatusAbnormalClosure},
		&TransportError{Op: "open", Code: websocket.StatusAbnormalClosure, Err: err})
}

func (c *Conn[In]) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			c.readFailed(ctx, err)
			return
		}

		if typ != websocket.MessageText {
			c.log.Warn("Dropping non-text frame", zap.Stringer("type", typ))
			c.dispatch(failed{err: &DecodeError{Frame: data, Err: errors.New("binary frame")}})
			continue
		}

		var msg In
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("Dropping malformed frame", zap.Error(err))
			c.dispatch(failed{err: &DecodeError{Frame: data, Err: err}})
			continue
		}

		c.dispatch(received[In]{msg: msg})
	}
}

func (c *Conn[In]) readFailed(ctx context.Context, err error) {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()

	code := websocket.CloseStatus(err)
	var reason string
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		reason = ce.Reason
	}

	switch {
	case closing:
		c.finish(ClosedNormal, CloseEvent{Code: websocket.StatusNormalClosure}, nil)
	case ctx.Err() != nil:
		// Context cancelled without Close: the socket is dropped, not closed.
		c.finish(ClosedError, CloseEvent{Code: websocket.StatusAbnormalClosure},
			&TransportError{Op: "read", Code: websocket.StatusAbnormalClosure, Err: ctx.Err()})
	case code == websocket.StatusNormalClosure:
		c.finish(ClosedNormal, CloseEvent{Code: code, Reason: reason}, nil)
	default:
		if code < 0 {
			// No close frame was received.
			code = websocket.StatusAbnormalClosure
		}
		c.finish(ClosedError, CloseEvent{Code: code, Reason: reason},
			&TransportError{Op: "read", Code: code, Reason: reason, Err: err})
	}
}

// finish moves the channel to a terminal status exactly once.
func (c *Conn[In]) finish(to Status, ev CloseEvent, err error) {
	c.mu.Lock()
	if !canTransition(c.status, to) {
		c.mu.Unlock()
		return
	}
	from := c.status
	c.status = to
	c.err = err
	ws := c.ws
	c.mu.Unlock()

	if ws != nil && to == ClosedError {
		_ = ws.CloseNow()
	}

	c.log.Info("Connection closed",
		zap.Stringer("from", from),
		zap.Stringer("status", to),
		zap.Int("code", int(ev.Code)),
		zap.String("reason", ev.Reason))

	if err != nil {
		c.dispatch(failed{err: err})
	}
	c.dispatch(closed{ev: ev})

	c.cancel()
	close(c.done)
}

func (c *Conn[In]) dispatch(ev event) {
	c.handlers.Do(func(h Handlers[In]) {
		switch e := ev.(type) {
		case opened:
			if h.OnOpen != nil {
				h.OnOpen()
			}
		case received[In]:
			if h.OnMessage != nil {
				h.OnMessage(e.msg)
			}
		case failed:
			if h.OnError != nil {
				h.OnError(e.err)
			}
		case closed:
			if h.OnClose != nil {
				h.OnClose(e.ev)
			}
		}
	})
}

// ResolveURL turns a path like "/ws/matches/abc" into an absolute websocket
// URL against an http(s) base. Absolute ws(s) addresses pass through.
func ResolveURL(base, path string) (string, error) {
	if strings.HasPrefix(path, "ws://") || strings.HasPrefix(path, "wss://") {
		return path, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, base)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path %q: %w", path, err)
	}
	return u.ResolveReference(ref).String(), nil
}
