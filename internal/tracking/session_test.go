package tracking

import (
	"errors"
	"testing"
)

func TestStatusNext(t *testing.T) {
	cases := []struct {
		from Status
		ev   SessionEvent
		to   Status
		err  error
	}{
		{STARTED, EventPing, IN_PROGRESS, nil},
		{IN_PROGRESS, EventPing, IN_PROGRESS, nil},
		{PAUSED, EventPing, PAUSED, nil},
		{IN_PROGRESS, EventPause, PAUSED, nil},
		{PAUSED, EventResume, IN_PROGRESS, nil},
		{PAUSED, EventFinish, COMPLETED, nil},
		{IN_PROGRESS, EventStop, STOPPED, nil},
		{PAUSED, EventTimeout, FAILED, nil},
		{STARTED, EventPause, STARTED, ErrInvalidTransition},
		{IN_PROGRESS, EventResume, IN_PROGRESS, ErrInvalidTransition},
		{STARTED, EventFinish, STARTED, ErrInvalidTransition},
		{COMPLETED, EventPing, COMPLETED, ErrSessionClosed},
		{STOPPED, EventResume, STOPPED, ErrSessionClosed},
		{FAILED, EventStop, FAILED, ErrSessionClosed},
	}
	for _, c := range cases {
		to, err := c.from.Next(c.ev)
		if to != c.to {
			t.Errorf("%s on %s: got %s want %s", c.ev, c.from, to, c.to)
		}
		if c.err == nil && err != nil {
			t.Errorf("%s on %s: unexpected error %v", c.ev, c.from, err)
		}
		if c.err != nil && !errors.Is(err, c.err) {
			t.Errorf("%s on %s: got error %v want %v", c.ev, c.from, err, c.err)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{COMPLETED, STOPPED, FAILED} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{STARTED, IN_PROGRESS, PAUSED} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
