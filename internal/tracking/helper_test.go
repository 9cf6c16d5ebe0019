package tracking

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"nuha.dev/racetracker/internal/course"
)

const metersPerDegree = 6371000.0 * math.Pi / 180

var t0 = time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func within(got, want time.Time) bool {
	d := got.Sub(want)
	return d > -time.Millisecond && d < time.Millisecond
}

// northLine is a straight course along longitude 10 with checkpoints at d.
func northLine(id string, d ...float64) course.Definition {
	def := course.Definition{ID: id, Name: id, Discipline: course.DisciplineRun}
	for i, v := range d {
		typ := course.INTERMEDIATE
		if i == 0 {
			typ = course.START
		} else if i == len(d)-1 {
			typ = course.FINISH
		}
		def.Checkpoints = append(def.Checkpoints, course.Checkpoint{
			Index: i, ID: fmt.Sprintf("%s-%d", id, i), Type: typ,
			Latitude: v / metersPerDegree, Longitude: 10, DistanceFromStart: v,
		})
	}
	return def
}

func mustCourse(t *testing.T, def course.Definition) *course.Course {
	t.Helper()
	c, err := course.New(def)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

type fakeSource map[string]course.Definition

func (f fakeSource) LoadCourse(ctx context.Context, id string) (course.Definition, error) {
	d, ok := f[id]
	if !ok {
		return course.Definition{}, course.ErrCourseNotFound
	}
	return d, nil
}

type fakeRoster map[string]Participant

func (f fakeRoster) Participant(ctx context.Context, courseID, participantID string) (Participant, error) {
	p, ok := f[courseID+"/"+participantID]
	if !ok {
		return Participant{}, ErrUnknownParticipant
	}
	return p, nil
}

func newTestTracker(roster fakeRoster, defs ...course.Definition) *Tracker {
	src := fakeSource{}
	for _, d := range defs {
		src[d.ID] = d
	}
	return NewTracker(course.NewCache(src), roster, course.NewMapper(course.DefaultMapperConfig()),
		Config{Hysteresis: 3, SilenceTimeout: 10 * time.Minute})
}

func pingAt(pid, cid string, distance, sec float64) Ping {
	return Ping{ParticipantID: pid, CourseID: cid, Latitude: distance / metersPerDegree, Longitude: 10, Timestamp: at(sec)}
}
