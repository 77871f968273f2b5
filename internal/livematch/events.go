package livematch

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event is anything the reducer understands: events pushed by the authority
// and local user actions.
type Event interface{ isEvent() }

// StateSync echoes the authority's view of the match. It is also the
// acknowledgement of a ready message. A nil Games means the authority did not
// send a game log; a nil MatchOutcome means the client computes it.
type StateSync struct {
	BestOf       int
	IsReady      bool
	SelectedMove *Move
	Opponent     *PlayerRef
	Games        []GameRecord
	MatchOutcome *Outcome
}

// GameResult reports one finished game.
type GameResult struct {
	Game GameRecord
}

// ServerError is an error reported by the authority over the socket.
type ServerError struct {
	Code   string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (e *ServerError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// ConnectionError carries a local transport or decode failure into the
// match's error list.
type ConnectionError struct {
	Err error
}

// MoveSelected records the local player's move after it has been sent.
type MoveSelected struct {
	Move Move
}

func (StateSync) isEvent()       {}
func (GameResult) isEvent()      {}
func (*ServerError) isEvent()    {}
func (ConnectionError) isEvent() {}
func (MoveSelected) isEvent()    {}

var ErrUnknownEvent = errors.New("unknown event type")

const (
	eventMatchState = "match_state"
	eventGameResult = "game_result"
	eventError      = "error"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type matchStateData struct {
	BestOf       int           `json:"best_of"`
	IsReady      bool          `json:"is_ready"`
	SelectedMove *Move         `json:"selected_move,omitempty"`
	Opponent     *PlayerRef    `json:"opponent,omitempty"`
	Games        *[]GameRecord `json:"games,omitempty"`
	MatchOutcome *Outcome      `json:"match_outcome,omitempty"`
}

// ServerEvent is the wire form of an inbound frame. Decoding picks the
// Event variant from the envelope's type field.
type ServerEvent struct {
	Event Event
}

func (e *ServerEvent) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	data := env.Data
	if len(data) == 0 {
		data = []byte("{}")
	}

	switch env.Type {
	case eventMatchState:
		var d matchStateData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", env.Type, err)
		}
		sync := StateSync{
			BestOf:       d.BestOf,
			IsReady:      d.IsReady,
			SelectedMove: d.SelectedMove,
			Opponent:     d.Opponent,
			MatchOutcome: d.MatchOutcome,
		}
		if d.Games != nil {
			sync.Games = *d.Games
			if sync.Games == nil {
				sync.Games = []GameRecord{}
			}
		}
		if sync.MatchOutcome != nil && !sync.MatchOutcome.Valid() {
			return fmt.Errorf("%s: invalid match outcome %q", env.Type, *sync.MatchOutcome)
		}
		e.Event = sync

	case eventGameResult:
		var g GameRecord
		if err := json.Unmarshal(data, &g); err != nil {
			return fmt.Errorf("%s: %w", env.Type, err)
		}
		if !g.Outcome.Valid() {
			return fmt.Errorf("%s: invalid outcome %q", env.Type, g.Outcome)
		}
		e.Event = GameResult{Game: g}

	case eventError:
		var se ServerError
		if err := json.Unmarshal(data, &se); err != nil {
			return fmt.Errorf("%s: %w", env.Type, err)
		}
		e.Event = &se

	default:
		return fmt.Errorf("%w %q", ErrUnknownEvent, env.Type)
	}
	return nil
}

func (e ServerEvent) MarshalJSON() ([]byte, error) {
	var env struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}

	switch ev := e.Event.(type) {
	case StateSync:
		d := matchStateData{
			BestOf:       ev.BestOf,
			IsReady:      ev.IsReady,
			SelectedMove: ev.SelectedMove,
			Opponent:     ev.Opponent,
			MatchOutcome: ev.MatchOutcome,
		}
		if ev.Games != nil {
			games := ev.Games
			d.Games = &games
		}
		env.Type, env.Data = eventMatchState, d
	case GameResult:
		env.Type, env.Data = eventGameResult, ev.Game
	case *ServerError:
		env.Type, env.Data = eventError, ev
	default:
		return nil, fmt.Errorf("%T is not sent by the authority", e.Event)
	}
	return json.Marshal(env)
}

type ClientMessageType string

const (
	ClientReady ClientMessageType = "ready"
	ClientMove  ClientMessageType = "move"
)

// ClientMessage is the wire form of an outbound frame.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`
	Move Move              `json:"move,omitempty"`
}

// ReadyMessage builds the outbound ready frame.
func ReadyMessage() ClientMessage {
	return ClientMessage{Type: ClientReady}
}

// MoveMessage builds the outbound move frame.
func MoveMessage(m Move) ClientMessage {
	return ClientMessage{Type: ClientMove, Move: m}
}
