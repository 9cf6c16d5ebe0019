package eventbus

import (
	"context"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
	"nuha.dev/racetracker/internal/tracking"
)

const (
	TopicPingAccepted      = "ping.accepted"
	TopicCheckpointCrossed = "checkpoint.crossed"
	TopicSessionChanged    = "session.changed"
)

// Topics lists every topic registered by New.
var Topics = []string{TopicPingAccepted, TopicCheckpointCrossed, TopicSessionChanged}

// epoch for monoton ids, 2026-01-01 UTC in milliseconds
const epoch = uint64(1767225600000)

type PingAccepted struct {
	ParticipantID string            `json:"participant_id"`
	CourseID      string            `json:"course_id"`
	Status        tracking.Status   `json:"status"`
	Distance      float64           `json:"distance"`
	Offset        float64           `json:"offset"`
	Position      tracking.Position `json:"position"`
}

type SessionChanged struct {
	tracking.Transition
	Progress tracking.ParticipantProgress `json:"progress"`
}

// New builds a bus with monotonic event ids. node must be unique per
// running process.
func New(node uint64) (*bus.Bus, error) {
	m, err := monoton.New(sequencer.NewMillisecond(), node, epoch)
	if err != nil {
		return nil, err
	}
	var idGenerator bus.Next = m.Next
	b, err := bus.NewBus(idGenerator)
	if err != nil {
		return nil, err
	}
	b.RegisterTopics(Topics...)
	return b, nil
}

// Handle registers fn for every topic matching the regular expression matcher.
func Handle(b *bus.Bus, key, matcher string, fn func(ctx context.Context, e *bus.Event)) {
	b.RegisterHandler(key, bus.Handler{Handle: func(ctx context.Context, e bus.Event) { fn(ctx, &e) }, Matcher: matcher})
}
