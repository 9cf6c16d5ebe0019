package store

import (
	"context"
	"errors"
	"time"

	"nuha.dev/racetracker/internal/aggregate"
	"nuha.dev/racetracker/internal/course"
	"nuha.dev/racetracker/internal/ranking"
	"nuha.dev/racetracker/internal/tracking"
)

var ErrCourseExists = errors.New("course already exists")

// CourseStore is read-only while tracking.
type CourseStore interface {
	course.Source
	tracking.Roster
}

// HotStore holds current positions and the ranking cache. It is a cache,
// losing it only costs the live view until it is repopulated.
type HotStore interface {
	PutPosition(ctx context.Context, courseID string, p aggregate.Point) error
	Positions(ctx context.Context, courseID string) ([]aggregate.Point, error)
	PutStandings(ctx context.Context, s ranking.Standings) error
	Standings(ctx context.Context, courseID string) (ranking.Standings, bool, error)
}

type PingRecord struct {
	ParticipantID string
	CourseID      string
	Latitude      float64
	Longitude     float64
	Altitude      float64
	Distance      float64
	Offset        float64
	GpsTime       time.Time
	ServerTime    time.Time
}

// ProgressLog is the system of record for participant progress. Put and
// SaveProgress may buffer; LoadProgress returns the latest saved copy per
// participant.
type ProgressLog interface {
	Put(rec PingRecord)
	SaveProgress(p tracking.ParticipantProgress)
	LoadProgress(ctx context.Context) ([]tracking.ParticipantProgress, error)
}
