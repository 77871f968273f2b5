package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rps-client/internal/api"
	"rps-client/internal/livematch"
)

func setupTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s := New(zaptest.NewLogger(t), opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createMatch(t *testing.T, ts *httptest.Server, query string) string {
	t.Helper()
	var resp api.NewMatchResponse
	status := getJSON(t, ts.URL+api.NewMatchPath+query, &resp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.MatchID, 32)
	return resp.MatchID
}

func dial(t *testing.T, ts *httptest.Server, matchID, username string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + api.MatchSocketPath + matchID + "?username=" + username
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) livematch.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var ev livematch.ServerEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev.Event
}

func readState(t *testing.T, conn *websocket.Conn) livematch.StateSync {
	t.Helper()
	ev := readEvent(t, conn)
	sync, ok := ev.(livematch.StateSync)
	require.True(t, ok, "expected match_state, got %T", ev)
	return sync
}

func write(t *testing.T, conn *websocket.Conn, msg livematch.ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, data))
}

func TestNewMatch_Validation(t *testing.T) {
	_, ts := setupTestServer(t)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+api.NewMatchPath+"?best_of=4", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+api.NewMatchPath+"?extended=maybe", nil))
	createMatch(t, ts, "?best_of=7&extended=true")
}

func TestSocket_RejectsUnknownMatchAndAnonymous(t *testing.T) {
	_, ts := setupTestServer(t)
	ctx := context.Background()
	base := "ws" + strings.TrimPrefix(ts.URL, "http") + api.MatchSocketPath

	_, resp, err := websocket.Dial(ctx, base+"nope?username=alice", nil)
	assert.Error(t, err)
	if assert.NotNil(t, resp) {
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}

	id := createMatch(t, ts, "")
	_, resp, err = websocket.Dial(ctx, base+id, nil)
	assert.Error(t, err)
	if assert.NotNil(t, resp) {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestSocket_FullMatch(t *testing.T) {
	assert := assert.New(t)
	_, ts := setupTestServer(t)
	id := createMatch(t, ts, "?best_of=1")

	alice := dial(t, ts, id, "alice")
	s := readState(t, alice)
	assert.Equal(1, s.BestOf)
	assert.Nil(s.Opponent)

	bob := dial(t, ts, id, "bob")
	s = readState(t, alice)
	require.NotNil(t, s.Opponent)
	assert.Equal(livematch.PlayerRef{Username: "bob", IsConnected: true}, *s.Opponent)
	s = readState(t, bob)
	assert.Equal("alice", s.Opponent.Username)

	write(t, alice, livematch.ReadyMessage())
	assert.True(readState(t, alice).IsReady)
	write(t, bob, livematch.ReadyMessage())
	assert.True(readState(t, bob).IsReady)

	write(t, alice, livematch.MoveMessage(livematch.Rock))
	s = readState(t, alice)
	require.NotNil(t, s.SelectedMove)
	assert.Equal(livematch.Rock, *s.SelectedMove)

	write(t, bob, livematch.MoveMessage(livematch.Scissors))

	ev := readEvent(t, alice)
	assert.Equal(livematch.GameResult{Game: livematch.GameRecord{
		SelfMove: livematch.Rock, OpponentMove: livematch.Scissors, Outcome: livematch.Win,
	}}, ev)
	s = readState(t, alice)
	require.NotNil(t, s.MatchOutcome)
	assert.Equal(livematch.Win, *s.MatchOutcome)
	assert.False(s.IsReady)

	ev = readEvent(t, bob)
	assert.Equal(livematch.Loss, ev.(livematch.GameResult).Game.Outcome)
	s = readState(t, bob)
	assert.Equal(livematch.Loss, *s.MatchOutcome)

	// A decided match rejects further play
	write(t, alice, livematch.ReadyMessage())
	serr, ok := readEvent(t, alice).(*livematch.ServerError)
	require.True(t, ok)
	assert.Equal(CodeMatchOver, serr.Code)

	var board api.Paginated[api.PlayerSummary]
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+api.PlayersPath, &board))
	assert.Equal(2, board.Count)
	assert.Equal("alice", board.Results[0].Username)
	assert.Equal(1, board.Results[0].MatchWinCount)
	assert.Equal(1, board.Results[1].MatchLossCount)
}

func TestSocket_InvalidMessages(t *testing.T) {
	_, ts := setupTestServer(t)
	id := createMatch(t, ts, "")
	alice := dial(t, ts, id, "alice")
	readState(t, alice)

	require.NoError(t, alice.Write(context.Background(), websocket.MessageText, []byte("{not json")))
	serr := readEvent(t, alice).(*livematch.ServerError)
	assert.Equal(t, CodeInvalidMessage, serr.Code)

	write(t, alice, livematch.ClientMessage{Type: "surrender"})
	serr = readEvent(t, alice).(*livematch.ServerError)
	assert.Equal(t, CodeInvalidMessage, serr.Code)
	assert.Contains(t, serr.Detail, "surrender")

	write(t, alice, livematch.MoveMessage(livematch.Rock))
	serr = readEvent(t, alice).(*livematch.ServerError)
	assert.Equal(t, CodeNotReady, serr.Code)
}

func TestSocket_MatchFull(t *testing.T) {
	_, ts := setupTestServer(t)
	id := createMatch(t, ts, "")

	readState(t, dial(t, ts, id, "alice"))
	readState(t, dial(t, ts, id, "bob"))

	carol := dial(t, ts, id, "carol")
	serr, ok := readEvent(t, carol).(*livematch.ServerError)
	require.True(t, ok)
	assert.Equal(t, CodeMatchFull, serr.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := carol.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestSocket_OpponentDisconnect(t *testing.T) {
	_, ts := setupTestServer(t)
	id := createMatch(t, ts, "")

	alice := dial(t, ts, id, "alice")
	readState(t, alice)
	bob := dial(t, ts, id, "bob")
	readState(t, alice)
	readState(t, bob)

	require.NoError(t, bob.Close(websocket.StatusNormalClosure, "bye"))

	s := readState(t, alice)
	require.NotNil(t, s.Opponent)
	assert.Equal(t, "bob", s.Opponent.Username)
	assert.False(t, s.Opponent.IsConnected)
}

func TestSocket_RateLimited(t *testing.T) {
	_, ts := setupTestServer(t, WithRateLimit(1, time.Minute))
	id := createMatch(t, ts, "")
	alice := dial(t, ts, id, "alice")
	readState(t, alice)

	write(t, alice, livematch.ReadyMessage())
	readState(t, alice)

	write(t, alice, livematch.ReadyMessage())
	serr := readEvent(t, alice).(*livematch.ServerError)
	assert.Equal(t, CodeRateLimited, serr.Code)
}

func TestShutdown_ClosesSockets(t *testing.T) {
	s, ts := setupTestServer(t)
	id := createMatch(t, ts, "")
	alice := dial(t, ts, id, "alice")
	readState(t, alice)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		done <- s.Shutdown(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := alice.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	assert.NoError(t, <-done)

	// New sockets are refused once shutdown has begun
	late := dial(t, ts, id, "bob")
	_, _, err = late.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
