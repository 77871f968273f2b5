package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"
)

// Config describes one request. A per-call Config is merged over the
// engine's base Config: scalar fields override when set, Params and Header
// are merged key by key.
type Config struct {
	Method string
	URL    string
	Params url.Values
	Header http.Header
	Body   any
}

func (c Config) merge(sub Config) Config {
	out := c
	if sub.Method != "" {
		out.Method = sub.Method
	}
	if sub.URL != "" {
		out.URL = sub.URL
	}
	if sub.Body != nil {
		out.Body = sub.Body
	}

	out.Params = url.Values{}
	for k, v := range c.Params {
		out.Params[k] = append([]string(nil), v...)
	}
	for k, v := range sub.Params {
		out.Params[k] = append([]string(nil), v...)
	}

	out.Header = c.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	for k, v := range sub.Header {
		out.Header[k] = append([]string(nil), v...)
	}

	if out.Method == "" {
		out.Method = http.MethodGet
	}
	return out
}

type options struct {
	baseURL string
	logger  *zap.Logger
}

type Option func(*options)

// WithBaseURL resolves relative Config.URL values against base.
func WithBaseURL(base string) Option {
	return func(o *options) { o.baseURL = base }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Engine issues one-shot requests for a single logical resource and keeps the
// State of the most recently issued one. A response belonging to an older
// request is discarded once a newer request has started.
type Engine[T any] struct {
	client  *http.Client
	base    Config
	baseURL string
	log     *zap.Logger

	mu    sync.Mutex
	seq   uint64
	state State[T]

	notifyMu    sync.Mutex
	subscribers []func(State[T])

	wg sync.WaitGroup
}

// NewEngine creates an idle engine that fetches base with client.
func NewEngine[T any](client *http.Client, base Config, opts ...Option) *Engine[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Engine[T]{
		client:  client,
		base:    base,
		baseURL: o.baseURL,
		log:     o.logger,
	}
}

// Subscribe registers fn to receive every applied transition, in order. fn
// must not start a request synchronously.
func (e *Engine[T]) Subscribe(fn func(State[T])) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// State returns the state of the most recently issued request.
func (e *Engine[T]) State() State[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Request starts a request in the background and returns its sequence number.
func (e *Engine[T]) Request(ctx context.Context, sub Config) uint64 {
	seq := e.begin()
	cfg := e.base.merge(sub)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		data, err := e.do(ctx, cfg)
		e.complete(seq, data, err)
	}()
	return seq
}

// Fetch runs a request on the caller's goroutine. The result is returned to
// the caller even when a newer request has superseded it; only State is
// guarded.
func (e *Engine[T]) Fetch(ctx context.Context, sub Config) (T, error) {
	seq := e.begin()
	data, err := e.do(ctx, e.base.merge(sub))
	e.complete(seq, data, err)
	return data, err
}

// Wait blocks until every request started with Request has completed.
func (e *Engine[T]) Wait() {
	e.wg.Wait()
}

func (e *Engine[T]) begin() uint64 {
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.state = Begin(e.state)
	e.publishLocked()
	return seq
}

func (e *Engine[T]) complete(seq uint64, data T, err error) {
	e.mu.Lock()
	if seq != e.seq {
		latest := e.seq
		e.mu.Unlock()
		e.log.Debug("Discarding stale response", zap.Uint64("seq", seq), zap.Uint64("latest", latest))
		return
	}
	if err != nil {
		e.state = Fail(e.state, err)
	} else {
		e.state = Succeed(e.state, data)
	}
	e.publishLocked()
}

// publishLocked is called with mu held and releases it. notifyMu is taken
// before mu is released so subscribers observe transitions in order.
func (e *Engine[T]) publishLocked() {
	st := e.state
	e.notifyMu.Lock()
	e.mu.Unlock()
	defer e.notifyMu.Unlock()
	for _, fn := range e.subscribers {
		fn(st)
	}
}

func (e *Engine[T]) do(ctx context.Context, cfg Config) (T, error) {
	var out T

	target, err := e.resolve(cfg)
	if err != nil {
		return out, &Error{Kind: KindNetwork, Method: cfg.Method, URL: cfg.URL, Err: err}
	}

	var body io.Reader
	if cfg.Body != nil {
		data, err := json.Marshal(cfg.Body)
		if err != nil {
			return out, &Error{Kind: KindNetwork, Method: cfg.Method, URL: target, Err: fmt.Errorf("encode body: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, target, body)
	if err != nil {
		return out, &Error{Kind: KindNetwork, Method: cfg.Method, URL: target, Err: err}
	}
	for k, v := range cfg.Header {
		req.Header[k] = v
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.log.Warn("Request failed", zap.String("method", cfg.Method), zap.String("url", target), zap.Error(err))
		return out, &Error{Kind: KindNetwork, Method: cfg.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e.log.Warn("Request rejected",
			zap.String("method", cfg.Method),
			zap.String("url", target),
			zap.Int("status", resp.StatusCode))
		return out, &Error{
			Kind:       KindStatus,
			Method:     cfg.Method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       string(snippet),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		var zero T
		return zero, &Error{Kind: KindDecode, Method: cfg.Method, URL: target, StatusCode: resp.StatusCode, Err: err}
	}
	return out, nil
}

func (e *Engine[T]) resolve(cfg Config) (string, error) {
	ref, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", cfg.URL, err)
	}
	if e.baseURL != "" && !ref.IsAbs() {
		base, err := url.Parse(e.baseURL)
		if err != nil {
			return "", fmt.Errorf("parse base url %q: %w", e.baseURL, err)
		}
		ref = base.ResolveReference(ref)
	}

	if len(cfg.Params) > 0 {
		q := ref.Query()
		for k, v := range cfg.Params {
			q[k] = v
		}
		ref.RawQuery = q.Encode()
	}
	return ref.String(), nil
}
