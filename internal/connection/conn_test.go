package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testMessage struct {
	Type string `json:"type"`
	N    int    `json:"n"`
}

// recorder collects every callback invocation so tests can assert on order
type recorder struct {
	mu       sync.Mutex
	opens    int
	messages []testMessage
	errs     []error
	closes   []CloseEvent

	messageCh chan testMessage
	errCh     chan error
	closeCh   chan CloseEvent
}

func newRecorder() *recorder {
	return &recorder{
		messageCh: make(chan testMessage, 16),
		errCh:     make(chan error, 16),
		closeCh:   make(chan CloseEvent, 4),
	}
}

func (r *recorder) handlers() Handlers[testMessage] {
	return Handlers[testMessage]{
		OnOpen: func() {
			r.mu.Lock()
			r.opens++
			r.mu.Unlock()
		},
		OnMessage: func(m testMessage) {
			r.mu.Lock()
			r.messages = append(r.messages, m)
			r.mu.Unlock()
			r.messageCh <- m
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.errCh <- err
		},
		OnClose: func(ev CloseEvent) {
			r.mu.Lock()
			r.closes = append(r.closes, ev)
			r.mu.Unlock()
			r.closeCh <- ev
		},
	}
}

func (r *recorder) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closes)
}

func recv[T any](t *testing.T, ch <-chan T, within time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		var zero T
		t.Fatalf("timed out waiting for callback")
		return zero
	}
}

// setupSocketServer starts an httptest server that accepts a websocket and
// hands it to serve. The returned URL is a ws:// address.
func setupSocketServer(t *testing.T, serve func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		serve(r.Context(), conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitStatus(t *testing.T, c *Conn[testMessage], want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status() == want }, 2*time.Second, 5*time.Millisecond,
		"expected status %s, got %s", want, c.Status())
}

func TestConn_OpenReceivesMessagesInOrder(t *testing.T) {
	url := setupSocketServer(t, func(ctx context.Context, conn *websocket.Conn) {
		for i := 1; i <= 3; i++ {
			conn.Write(ctx, websocket.MessageText, []byte(`{"type":"tick","n":`+string(rune('0'+i))+`}`))
		}
		conn.Read(ctx) // hold until the client goes away
	})

	rec := newRecorder()
	c := Open(context.Background(), url, rec.handlers(), WithLogger(zaptest.NewLogger(t)))
	defer c.Teardown()

	for i := 1; i <= 3; i++ {
		m := recv(t, rec.messageCh, time.Second)
		assert.Equal(t, i, m.N)
	}
	assert.Equal(t, Connected, c.Status())
	rec.mu.Lock()
	assert.Equal(t, 1, rec.opens)
	rec.mu.Unlock()
}

func TestConn_SendWritesJSONFrame(t *testing.T) {
	got := make(chan string, 1)
	url := setupSocketServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_, data, err := conn.Read(ctx)
		if err == nil {
			got <- string(data)
		}
		conn.Read(ctx)
	})

	rec := newRecorder()
	c := Open(context.Background(), url, rec.handlers())
	defer c.Teardown()
	waitStatus(t, c, Connected)

	err := c.Send(context.Background(), map[string]string{"type": "ready"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ready"}`, recv(t, got, time.Second))
}

func TestConn_PeerNormalClosure(t *testing.T) {
	url := setupSocketServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Close(websocket.StatusNormalClosure, "match over")
	})

	rec := newRecorder()
	c := Open(context.Background(), url, rec.handlers())
	defer c.Teardown()

	ev := recv(t, rec.closeCh, 2*time.Second)
	assert.True(t, ev.Normal())
	assert.Equal(t, ClosedNormal, c.Status())
	assert.NoError(t, c.Err())
}

func TestConn_CloseWithoutStatusIsError(t *testing.T) {
	// 1005 goes on the wire as a close frame with an empty payload
	url := setupSocketServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Close(websocket.StatusNoStatusRcvd, "")
	})

	rec := newRecorder()
	c := Open(context.Background(), url, rec.handlers())
	defer c.Teardown()

	ev := recv(t, rec.closeCh, 2*time.Second)
	assert.Equal(t, websocket.StatusNoStatusRcvd, ev.Code)
	assert.False(t, ev.Normal())
	assert.Equal(t, ClosedError, c.Status())

	var terr *TransportError
	require.ErrorAs(t, c.Err(), &terr)
	assert.Equal(t, websocket.StatusNoStatusRcvd, terr.Code)
}

func TestConn_GoingAwayIsError(t *testing.T) {
	url := setupSocketServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Close(websocket.StatusGoingAway, "restarting")
	})

	rec := newRecorder()
	c := Open(context.Background(), url, rec.handlers())
	defer c.Teardown()

	ev := recv(t, rec.closeCh, 2*time.Second)
	assert.Equal(t, websocket.StatusGoingAway, ev.Code)
	assert.Equal(t, "restarting", ev.Reason)
	assert.Equal(t, ClosedError, c.Status())

	err := recv(t, rec.errCh, time.Second)
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
}

func TestConn_DialFailureIsClosedError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	rec := newRecorder()
	c := Open(context.Background(), url, rec.handlers(), WithDialTimeout(time.Second))
	defer c.Teardown()

	err := recv(t, rec.errCh, 2*time.Second)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "open", terr.Op)

	ev := recv(t, rec.closeCh, time.Second)
	assert.Equal(t, websocket.StatusAbnormalClosure, ev.Code)
	assert.Equal(t, ClosedError, c.Status())
	rec.mu.Lock()
	assert.Zero(t, rec.opens)
	rec.mu.Unlock()
}

func TestConn_SendWhileConnecting(t *testing.T) {
	release := make(chan struct{})
	frames := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release // keep the handshake pending
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx, cancel := context.WithTimeout(r.Context(), 200*time.Millisecond)
		defer cancel()
		if _, data, err := conn.Read(ctx); err == nil {
			frames <- data
		}
	}))
	defer server.Close()
	defer close(release)

	rec := newRecorder()
	c := Open(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"), rec.handlers())
	defer c.Teardown()

	assert.Equal(t, Connecting, c.Status())
	err := c.Send(context.Background(), map[string]string{"type": "ready"})
	assert.ErrorIs(t, err, ErrSendWhileDisconnected)

	reported := recv(t, rec.errCh, time.Second)
	assert.True(t, errors.Is(reported, ErrSendWhileDisconnected))
	assert.Empty(t, frames)
}

func TestConn_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	url := setupSocketServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Write(ctx, websocket.MessageText, []byte("junk"))
		conn.Write(ctx, websocket.MessageBinary, []byte{0x01})
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"after","n":7}`))
		conn.Read(ctx)
	})

	rec := newRecorder()
	c := Open(context.Background(), url, rec.handlers())
	defer c.Teardown()

	var derr *DecodeError
	require.ErrorAs(t, recv(t, rec.errCh, time.Second), &derr)
	assert.Equal(t, []byte("junk"), derr.Frame)
	require.ErrorAs(t, recv(t, rec.errCh, time.Second), &derr)

	m := recv(t, rec.messageCh, time.Second)
	assert.Equal(t, "after", m.Type)
	assert.Equal(t, Connected, c.Status())
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	url := setupSocketServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Read(ctx)
	})

	rec := newRecorder()
	c := Open(context.Background(), url, rec.handlers())
	waitStatus(t, c, Connected)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	ev := recv(t, rec.closeCh, 2*time.Second)
	assert.True(t, ev.Normal())
	assert.Equal(t, ClosedNormal, c.Status())

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}

	// Closing again must not fire OnClose a second time
	require.NoError(t, c.Close())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.closeCount())

	err := c.Send(context.Background(), map[string]string{"type": "ready"})
	assert.ErrorIs(t, err, ErrSendWhileDisconnected)
}

func TestConn_CloseWhileConnecting(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	rec := newRecorder()
	c := Open(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"), rec.handlers())
	require.NoError(t, c.Close())

	ev := recv(t, rec.closeCh, 2*time.Second)
	assert.False(t, ev.Normal())
	assert.Equal(t, websocket.StatusAbnormalClosure, ev.Code)
	waitStatus(t, c, ClosedError)

	var terr *TransportError
	require.True(t, errors.As(c.Err(), &terr))
	assert.Equal(t, "open", terr.Op)
	assert.ErrorIs(t, c.Err(), ErrClosedWhileConnecting)

	err := recv(t, rec.errCh, time.Second)
	assert.ErrorIs(t, err, ErrClosedWhileConnecting)
	assert.Zero(t, rec.opens)
}

func TestConn_ContextCancelIsAbnormal(t *testing.T) {
	url := setupSocketServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Read(ctx)
	})

	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()
	c := Open(ctx, url, rec.handlers())
	waitStatus(t, c, Connected)

	cancel()

	ev := recv(t, rec.closeCh, 2*time.Second)
	assert.Equal(t, websocket.StatusAbnormalClosure, ev.Code)
	waitStatus(t, c, ClosedError)
	assert.ErrorIs(t, c.Err(), context.Canceled)
}

func TestConn_TeardownSilencesCallbacks(t *testing.T) {
	url := setupSocketServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Read(ctx)
	})

	rec := newRecorder()
	c := Open(context.Background(), url, rec.handlers())
	waitStatus(t, c, Connected)

	c.Teardown()
	waitStatus(t, c, ClosedNormal)

	// A send after teardown reports nothing to the released handlers
	_ = c.Send(context.Background(), map[string]string{"type": "move"})
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, rec.closeCount())
	rec.mu.Lock()
	assert.Empty(t, rec.errs)
	rec.mu.Unlock()
}

func TestConn_SetHandlersUsesLatestSet(t *testing.T) {
	send := make(chan struct{})
	url := setupSocketServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"one","n":1}`))
		<-send
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"two","n":2}`))
		conn.Read(ctx)
	})

	first, second := newRecorder(), newRecorder()
	c := Open(context.Background(), url, first.handlers())
	defer c.Teardown()

	recv(t, first.messageCh, time.Second)
	c.SetHandlers(second.handlers())
	close(send)

	m := recv(t, second.messageCh, time.Second)
	assert.Equal(t, "two", m.Type)
	assert.Empty(t, first.messageCh)
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, path, want string
		wantErr          bool
	}{
		{"http://localhost:8080", "/ws/matches/abc", "ws://localhost:8080/ws/matches/abc", false},
		{"https://rps.example.com/", "/ws/matches/abc", "wss://rps.example.com/ws/matches/abc", false},
		{"http://localhost", "wss://other/ws", "wss://other/ws", false},
		{"ftp://localhost", "/ws", "", true},
	}

	for _, tt := range tests {
		got, err := ResolveURL(tt.base, tt.path)
		if tt.wantErr {
			assert.Error(t, err, tt.base)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, canTransition(Connecting, Connected))
	assert.True(t, canTransition(Connecting, ClosedError))
	assert.False(t, canTransition(Connecting, ClosedNormal))
	assert.True(t, canTransition(Connected, ClosedNormal))
	assert.False(t, canTransition(Connected, Connecting))
	assert.False(t, canTransition(ClosedNormal, Connected))
	assert.False(t, canTransition(ClosedError, ClosedNormal))
	assert.True(t, ClosedError.Terminal())
	assert.False(t, Connected.Terminal())
}
