package connection

import (
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

// ErrSendWhileDisconnected is reported when Send is called while the channel
// is not Connected. Nothing is queued.
var ErrSendWhileDisconnected = errors.New("send called while connection is not open")

// ErrClosedWhileConnecting ends a channel whose owner closed it, or cancelled
// its context, before the handshake completed.
var ErrClosedWhileConnecting = errors.New("connection closed before it was established")

// TransportError means the channel failed to open, failed a write, or closed
// abnormally.
type TransportError struct {
	Op     string
	Code   websocket.StatusCode
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("connection %s failed", e.Op)
	if e.Code > 0 {
		msg += fmt.Sprintf(" (code %d", int(e.Code))
		if e.Reason != "" {
			msg += ": " + e.Reason
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError means an inbound frame was not a well-formed message. The frame
// is dropped and the channel stays open.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode inbound frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
