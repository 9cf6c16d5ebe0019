package tracking

import "fmt"

type Status string

const (
	STARTED     Status = "STARTED"
	IN_PROGRESS Status = "IN_PROGRESS"
	PAUSED      Status = "PAUSED"
	COMPLETED   Status = "COMPLETED"
	STOPPED     Status = "STOPPED"
	FAILED      Status = "FAILED"
)

// Terminal statuses accept no further pings or commands.
func (s Status) Terminal() bool {
	switch s {
	case COMPLETED, STOPPED, FAILED:
		return true
	default:
		return false
	}
}

type SessionEvent int

const (
	EventPing SessionEvent = iota
	EventPause
	EventResume
	EventFinish
	EventStop
	EventTimeout
)

func (e SessionEvent) String() string {
	switch e {
	case EventPing:
		return "ping"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventFinish:
		return "finish"
	case EventStop:
		return "stop"
	case EventTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Next is the session state machine. A ping keeps PAUSED as it is; finish
// completes a running or paused session.
func (s Status) Next(e SessionEvent) (Status, error) {
	if s.Terminal() {
		return s, ErrSessionClosed
	}
	switch e {
	case EventPing:
		if s == STARTED {
			return IN_PROGRESS, nil
		}
		return s, nil
	case EventPause:
		if s == IN_PROGRESS {
			return PAUSED, nil
		}
	case EventResume:
		if s == PAUSED {
			return IN_PROGRESS, nil
		}
	case EventFinish:
		if s == IN_PROGRESS || s == PAUSED {
			return COMPLETED, nil
		}
	case EventStop:
		if s == IN_PROGRESS || s == PAUSED {
			return STOPPED, nil
		}
	case EventTimeout:
		if s == IN_PROGRESS || s == PAUSED {
			return FAILED, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}
