package session

import (
	"errors"
	"testing"

	"gasfeed/internal/domain"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    State
		ev      Event
		to      State
		effects []Effect
	}{
		{StateConnecting, EventAuthSucceeded, StateAuthenticated, nil},
		{StateConnecting, EventAuthFailed, StateClosed, []Effect{EffectCloseTransport}},
		{StateConnecting, EventDisconnected, StateClosed, []Effect{EffectCloseTransport}},
		{StateAuthenticated, EventActivated, StateActive, []Effect{EffectRegister}},
		{StateAuthenticated, EventDisconnected, StateClosed, []Effect{EffectRemoveMemberships, EffectCloseTransport}},
		{StateActive, EventDisconnected, StateClosed, []Effect{EffectRemoveMemberships, EffectUnregister, EffectCloseTransport}},
		{StateClosed, EventDisconnected, StateClosed, nil},
	}

	for _, tc := range cases {
		to, effects, err := Transition(tc.from, tc.ev)
		if err != nil {
			t.Fatalf("%s on %s: unexpected error %v", tc.ev, tc.from, err)
		}
		if to != tc.to {
			t.Errorf("%s on %s: got %s want %s", tc.ev, tc.from, to, tc.to)
		}
		if len(effects) != len(tc.effects) {
			t.Fatalf("%s on %s: got effects %v want %v", tc.ev, tc.from, effects, tc.effects)
		}
		for i := range effects {
			if effects[i] != tc.effects[i] {
				t.Errorf("%s on %s: got effects %v want %v", tc.ev, tc.from, effects, tc.effects)
			}
		}
	}
}

func TestTransitionRejectsIllegalEvents(t *testing.T) {
	illegal := []struct {
		from State
		ev   Event
	}{
		{StateConnecting, EventActivated},
		{StateAuthenticated, EventAuthSucceeded},
		{StateAuthenticated, EventAuthFailed},
		{StateActive, EventActivated},
		{StateActive, EventAuthSucceeded},
		{StateClosed, EventActivated},
		{StateClosed, EventAuthSucceeded},
	}

	for _, tc := range illegal {
		to, effects, err := Transition(tc.from, tc.ev)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("%s on %s: expected ErrInvalidTransition, got %v", tc.ev, tc.from, err)
		}
		if to != tc.from || effects != nil {
			t.Errorf("%s on %s: state must not change", tc.ev, tc.from)
		}
	}
}
