package tracking

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/phuslu/log"
)

type Ping struct {
	ParticipantID string
	CourseID      string
	Latitude      float64
	Longitude     float64
	Altitude      float64
	Heading       *float64
	Speed         *float64
	Timestamp     time.Time
}

func (p *Ping) MarshalObject(e *log.Entry) {
	e.Str("participant_id", p.ParticipantID).Str("course_id", p.CourseID).Float64("lat", p.Latitude).Float64("lng", p.Longitude).Time("gps_time", p.Timestamp)
}

func (p *Ping) validate() error {
	switch {
	case p.ParticipantID == "" || p.CourseID == "":
		return fmt.Errorf("%w: missing participant or course id", ErrMalformedPing)
	case math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90:
		return fmt.Errorf("%w: latitude %v", ErrMalformedPing, p.Latitude)
	case math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180:
		return fmt.Errorf("%w: longitude %v", ErrMalformedPing, p.Longitude)
	case math.IsNaN(p.Altitude) || math.IsInf(p.Altitude, 0):
		return fmt.Errorf("%w: altitude %v", ErrMalformedPing, p.Altitude)
	case p.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrMalformedPing)
	case p.Heading != nil && (math.IsNaN(*p.Heading) || *p.Heading < 0 || *p.Heading >= 360):
		return fmt.Errorf("%w: heading %v", ErrMalformedPing, *p.Heading)
	case p.Speed != nil && (math.IsNaN(*p.Speed) || *p.Speed < 0):
		return fmt.Errorf("%w: speed %v", ErrMalformedPing, *p.Speed)
	}
	return nil
}

type Position struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Altitude  float64   `json:"alt"`
	Heading   *float64  `json:"heading"`
	Speed     *float64  `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

type Split struct {
	CheckpointIndex int       `json:"checkpoint_index"`
	CrossedAt       time.Time `json:"crossed_at"`
}

type CrossingEvent struct {
	ParticipantID   string    `json:"participant_id"`
	CourseID        string    `json:"course_id"`
	CheckpointIndex int       `json:"checkpoint_index"`
	CheckpointID    string    `json:"checkpoint_id"`
	CrossedAt       time.Time `json:"crossed_at"`
	Terminal        bool      `json:"terminal"`
}

type Participant struct {
	ID        string     `json:"id" yaml:"id" validate:"required"`
	CourseID  string     `json:"course_id" yaml:"course_id"`
	Nickname  string     `json:"nickname" yaml:"nickname"`
	BibNumber int        `json:"bib_number" yaml:"bib_number" validate:"gte=0"`
	StartTime *time.Time `json:"start_time,omitempty" yaml:"start_time"`
}

// Roster resolves who may be tracked on a course.
type Roster interface {
	Participant(ctx context.Context, courseID, participantID string) (Participant, error)
}

// ParticipantProgress is always handed out by value; Splits is copied.
type ParticipantProgress struct {
	ParticipantID    string        `json:"participant_id"`
	CourseID         string        `json:"course_id"`
	Nickname         string        `json:"nickname"`
	BibNumber        int           `json:"bib_number"`
	Status           Status        `json:"status"`
	LastPosition     *Position     `json:"last_position,omitempty"`
	Distance         float64       `json:"distance"`
	Segment          int           `json:"segment"`
	LastCrossedIndex int           `json:"last_crossed_index"`
	LastCrossedAt    time.Time     `json:"last_crossed_at"`
	Splits           []Split       `json:"splits"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	Elapsed          time.Duration `json:"elapsed"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func newProgress(p Participant) ParticipantProgress {
	pr := ParticipantProgress{
		ParticipantID:    p.ID,
		CourseID:         p.CourseID,
		Nickname:         p.Nickname,
		BibNumber:        p.BibNumber,
		Status:           STARTED,
		LastCrossedIndex: -1,
	}
	if p.StartTime != nil {
		pr.StartedAt = *p.StartTime
	}
	return pr
}

func (p ParticipantProgress) clone() ParticipantProgress {
	if p.Splits != nil {
		s := make([]Split, len(p.Splits))
		copy(s, p.Splits)
		p.Splits = s
	}
	if p.LastPosition != nil {
		pos := *p.LastPosition
		p.LastPosition = &pos
	}
	if p.FinishedAt != nil {
		f := *p.FinishedAt
		p.FinishedAt = &f
	}
	return p
}

func (p *ParticipantProgress) MarshalObject(e *log.Entry) {
	e.Str("participant_id", p.ParticipantID).Str("course_id", p.CourseID).Str("status", string(p.Status)).Float64("distance", p.Distance).Int("last_crossed", p.LastCrossedIndex)
}
