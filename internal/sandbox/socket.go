package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rps-client/internal/livematch"
)

const maxUsernameLen = 150

// playerName takes the username query parameter, falling back to the token
// of an "Authorization: Token <name>" header.
func playerName(r *http.Request) string {
	if name := strings.TrimSpace(r.URL.Query().Get("username")); name != "" {
		return name
	}
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Token "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}

func validateUsername(name string) error {
	if name == "" {
		return errors.New("username is required")
	}
	if len(name) > maxUsernameLen {
		return fmt.Errorf("username too long (max %d characters)", maxUsernameLen)
	}
	return nil
}

func (s *Server) socketHandler(w http.ResponseWriter, r *http.Request) {
	username := playerName(r)
	if err := validateUsername(username); err != nil {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": err.Error()})
		return
	}

	matchID := chi.URLParam(r, "matchID")
	rm := s.room(matchID)
	if rm == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("Websocket accept failed", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	defer ws.CloseNow()

	c := &client{id: uuid.New().String(), ws: ws}
	log := s.log.With(
		zap.String("connection_id", c.id),
		zap.String("match_id", matchID),
		zap.String("username", username))

	if err := s.track(c.id, ws); err != nil {
		ws.Close(websocket.StatusGoingAway, err.Error())
		return
	}
	defer s.untrack(c.id)

	if err := s.join(rm, c, username); err != nil {
		log.Info("Player rejected", zap.Error(err))
		s.send(c, asClientError(err))
		ws.Close(websocket.StatusPolicyViolation, "match is full")
		return
	}
	log.Info("Player connected", zap.Int("slot", c.slot))
	defer func() {
		s.leave(rm, c)
		log.Info("Player disconnected")
	}()

	ctx := r.Context()
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				log.Debug("Socket closed by peer", zap.Stringer("status", status))
			} else {
				log.Info("Socket read failed", zap.Error(err))
			}
			return
		}

		if !s.limiter.Allow(c.id) {
			log.Warn("Rate limited")
			s.send(c, &livematch.ServerError{Code: CodeRateLimited, Detail: "too many messages"})
			continue
		}

		if typ != websocket.MessageText {
			s.send(c, &livematch.ServerError{Code: CodeInvalidMessage, Detail: "expected a text frame"})
			continue
		}

		var msg livematch.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(c, &livematch.ServerError{Code: CodeInvalidMessage, Detail: "invalid JSON"})
			continue
		}

		log.Debug("Message received", zap.String("type", string(msg.Type)))
		s.handleMessage(rm, c, msg)
	}
}

func (s *Server) join(rm *room, c *client, username string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	slot, err := rm.match.connectPlayer(username)
	if err != nil {
		return err
	}
	c.slot = slot

	if prev := rm.clients[slot]; prev != nil {
		go prev.ws.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}
	rm.clients[slot] = c
	s.board.join(username)

	s.broadcastState(rm)
	return nil
}

func (s *Server) leave(rm *room, c *client) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.clients[c.slot] != c {
		return
	}
	rm.clients[c.slot] = nil
	rm.match.disconnectPlayer(c.slot)

	if other := rm.clients[1-c.slot]; other != nil {
		s.send(other, rm.match.stateFor(other.slot))
	}
}

func (s *Server) handleMessage(rm *room, c *client, msg livematch.ClientMessage) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	switch msg.Type {
	case livematch.ClientReady:
		if err := rm.match.setReady(c.slot); err != nil {
			s.send(c, asClientError(err))
			return
		}
		s.send(c, rm.match.stateFor(c.slot))

	case livematch.ClientMove:
		complete, err := rm.match.applyMove(c.slot, msg.Move)
		if err != nil {
			s.send(c, asClientError(err))
			return
		}
		if !complete {
			s.send(c, rm.match.stateFor(c.slot))
			return
		}
		s.completeGame(rm)

	default:
		s.send(c, &livematch.ServerError{
			Code:   CodeInvalidMessage,
			Detail: fmt.Sprintf("unknown message type %q", msg.Type),
		})
	}
}

// completeGame scores the pending game and pushes the result, then the new
// state, to both seats. Called with rm.mu held.
func (s *Server) completeGame(rm *room) {
	g, err := rm.match.processCompleteGame()
	if err != nil {
		s.log.Error("Game completion failed", zap.String("match_id", rm.match.id), zap.Error(err))
		return
	}

	for slot, c := range rm.clients {
		if c != nil {
			s.send(c, livematch.GameResult{Game: g.recordFor(slot)})
		}
	}
	s.broadcastState(rm)

	if rm.match.outcome() == nil {
		return
	}
	s.log.Info("Match decided",
		zap.String("match_id", rm.match.id),
		zap.String("outcome", string(*rm.match.outcome())),
		zap.Int("games", len(rm.match.games)))

	if w := rm.match.winner(); w >= 0 {
		s.board.record(rm.match.seats[w].username, rm.match.seats[1-w].username)
	}
}

// broadcastState sends each connected seat its view. Called with rm.mu held.
func (s *Server) broadcastState(rm *room) {
	for _, c := range rm.clients {
		if c != nil {
			s.send(c, rm.match.stateFor(c.slot))
		}
	}
}

func (s *Server) send(c *client, ev livematch.Event) {
	data, err := json.Marshal(livematch.ServerEvent{Event: ev})
	if err != nil {
		s.log.Error("Failed to encode event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		s.log.Debug("Write failed", zap.String("connection_id", c.id), zap.Error(err))
	}
}
