package tracking

import "errors"

var (
	ErrMalformedPing      = errors.New("malformed ping")
	ErrStalePing          = errors.New("stale ping")
	ErrOutlierPing        = errors.New("outlier ping")
	ErrUnknownParticipant = errors.New("unknown participant or course")
	ErrCourseUnavailable  = errors.New("course data unavailable")
	ErrSessionClosed      = errors.New("session closed")
	ErrInvalidTransition  = errors.New("invalid session transition")
)
