package tracking

import (
	"math"
	"time"

	"nuha.dev/racetracker/internal/course"
)

// Sample is a (distance, time) observation used to bracket crossings.
type Sample struct {
	Distance  float64
	Timestamp time.Time
}

// Detect returns the crossings between prev and cur for a participant whose
// last crossed checkpoint is lastCrossed (-1 for none). A checkpoint counts
// as crossed once distance reaches its threshold plus hysteresis; the
// reported time is interpolated at the threshold itself. The band never
// reaches past the end of the course, so the terminal checkpoint needs no
// overshoot. prev is nil when there is no earlier accepted sample, in which
// case crossings carry cur's time.
func Detect(c *course.Course, lastCrossed int, prev *Sample, cur Sample, hysteresis float64) []CrossingEvent {
	var out []CrossingEvent
	for next := lastCrossed + 1; next < c.Len(); next++ {
		cp := c.Checkpoint(next)
		threshold := math.Min(cp.DistanceFromStart+hysteresis, c.Length())
		if cur.Distance < threshold {
			break
		}
		out = append(out, CrossingEvent{
			CourseID:        c.ID(),
			CheckpointIndex: cp.Index,
			CheckpointID:    cp.ID,
			CrossedAt:       interpolate(prev, cur, cp.DistanceFromStart),
			Terminal:        next == c.Len()-1,
		})
	}
	return out
}

// interpolate computes t0 + (t1-t0) * (target-d0) / (d1-d0), clamped to [t0,t1].
func interpolate(prev *Sample, cur Sample, target float64) time.Time {
	if prev == nil || cur.Distance <= prev.Distance {
		return cur.Timestamp
	}
	frac := (target - prev.Distance) / (cur.Distance - prev.Distance)
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	span := cur.Timestamp.Sub(prev.Timestamp)
	return prev.Timestamp.Add(time.Duration(float64(span) * frac))
}
