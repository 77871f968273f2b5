package connection

import (
	"fmt"

	"github.com/coder/websocket"
)

type Status int32

const (
	Connecting Status = iota
	Connected
	ClosedNormal
	ClosedError
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ClosedNormal:
		return "closed"
	case ClosedError:
		return "closed_error"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == ClosedNormal || s == ClosedError
}

// canTransition encodes Connecting -> {Connected, ClosedError} and
// Connected -> {ClosedNormal, ClosedError}. Nothing leads back to Connecting.
// A channel that never opened cannot close normally.
func canTransition(from, to Status) bool {
	switch from {
	case Connecting:
		return to == Connected || to == ClosedError
	case Connected:
		return to == ClosedNormal || to == ClosedError
	default:
		return false
	}
}

// CloseEvent describes how the channel ended.
type CloseEvent struct {
	Code   websocket.StatusCode
	Reason string
}

// Normal reports whether the closure used the reserved normal closure code.
func (e CloseEvent) Normal() bool {
	return e.Code == websocket.StatusNormalClosure
}
