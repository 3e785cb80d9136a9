package core

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid transition")

type SessionState string

type SessionEvent string

const (
	StateIdle        SessionState = "idle"
	StateNegotiating SessionState = "negotiating"
	StateConnecting  SessionState = "connecting"
	StateLive        SessionState = "live"
	StateClosing     SessionState = "closing"
	StateClosed      SessionState = "closed"
)

const (
	EventStart      SessionEvent = "start"
	EventNegotiated SessionEvent = "negotiated"
	EventConnected  SessionEvent = "connected"
	EventStop       SessionEvent = "stop"
	EventStopped    SessionEvent = "stopped"
	EventDisconnect SessionEvent = "disconnect"
	EventFail       SessionEvent = "fail"
)

// Transition returns the next session state or an error wrapping ErrInvalidTransition.
// A stop while the session is still starting aborts it through closing.
func Transition(current SessionState, event SessionEvent) (SessionState, error) {
	switch current {
	case StateIdle, StateClosed:
		if event == EventStart {
			return StateNegotiating, nil
		}
	case StateNegotiating:
		switch event {
		case EventNegotiated:
			return StateConnecting, nil
		case EventFail:
			return StateClosed, nil
		case EventStop:
			return StateClosing, nil
		}
	case StateConnecting:
		switch event {
		case EventConnected:
			return StateLive, nil
		case EventFail, EventDisconnect:
			return StateClosed, nil
		case EventStop:
			return StateClosing, nil
		}
	case StateLive:
		switch event {
		case EventStop:
			return StateClosing, nil
		case EventDisconnect:
			return StateClosed, nil
		}
	case StateClosing:
		if event == EventStopped {
			return StateClosed, nil
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
	return current, fmt.Errorf("%w: %s --(%s)--> ?", ErrInvalidTransition, current, event)
}
