package session

import (
	"fmt"

	"gasfeed/internal/domain"
)

// State is the lifecycle position of a client connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Event int

const (
	EventAuthSucceeded Event = iota
	EventAuthFailed
	EventActivated
	EventDisconnected
)

func (e Event) String() string {
	switch e {
	case EventAuthSucceeded:
		return "auth_succeeded"
	case EventAuthFailed:
		return "auth_failed"
	case EventActivated:
		return "activated"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Effect is a side effect the manager runs after a transition.
type Effect int

const (
	EffectRegister Effect = iota
	EffectRemoveMemberships
	EffectUnregister
	EffectCloseTransport
)

type transitionKey struct {
	from  State
	event Event
}

type transition struct {
	to      State
	effects []Effect
}

var transitions = map[transitionKey]transition{
	{StateConnecting, EventAuthSucceeded}: {StateAuthenticated, nil},
	{StateConnecting, EventAuthFailed}:    {StateClosed, []Effect{EffectCloseTransport}},
	{StateConnecting, EventDisconnected}:  {StateClosed, []Effect{EffectCloseTransport}},

	{StateAuthenticated, EventActivated}:    {StateActive, []Effect{EffectRegister}},
	{StateAuthenticated, EventDisconnected}: {StateClosed, []Effect{EffectRemoveMemberships, EffectCloseTransport}},

	{StateActive, EventDisconnected}: {StateClosed, []Effect{EffectRemoveMemberships, EffectUnregister, EffectCloseTransport}},

	// closing twice is a no-op
	{StateClosed, EventDisconnected}: {StateClosed, nil},
}

// Transition is the pure state function of a connection.
// Unlisted pairs return domain.ErrInvalidTransition and leave the state unchanged.
func Transition(from State, ev Event) (State, []Effect, error) {
	t, ok := transitions[transitionKey{from, ev}]
	if !ok {
		return from, nil, fmt.Errorf("%w: %s on %s", domain.ErrInvalidTransition, ev, from)
	}
	return t.to, t.effects, nil
}
