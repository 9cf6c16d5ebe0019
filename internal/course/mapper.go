package course

import (
	"errors"
	"math"
	"time"
)

var (
	ErrOffCourse        = errors.New("position too far from course")
	ErrImplausibleSpeed = errors.New("implied speed above discipline limit")
)

type MapperConfig struct {
	MaxOffset    float64 // meters
	WindowBehind int     // segments searched behind the hint
	WindowAhead  int     // segments searched ahead of the hint
	MaxWindow    int     // hard cap on segments searched ahead
	MaxSpeedKmh  map[Discipline]float64
}

func DefaultMapperConfig() MapperConfig {
	return MapperConfig{
		MaxOffset:    100,
		WindowBehind: 2,
		WindowAhead:  8,
		MaxWindow:    64,
		MaxSpeedKmh: map[Discipline]float64{
			DisciplineRun:       40,
			DisciplineWalk:      15,
			DisciplineSwim:      10,
			DisciplineBike:      100,
			DisciplineTriathlon: 100,
			DisciplineOther:     60,
		},
	}
}

// Fix is the last accepted course-relative position of a participant.
type Fix struct {
	Latitude  float64
	Longitude float64
	Distance  float64
	Segment   int
	Timestamp time.Time
}

type Position struct {
	Distance float64 // along course, meters from start
	Offset   float64 // perpendicular, meters
	Segment  int
	// Speed is the implied speed in km/h since the previous fix, zero on the first fix.
	Speed float64
}

// Mapper is the course position mapper. It holds no per-participant state.
type Mapper struct {
	config MapperConfig
}

func NewMapper(config MapperConfig) *Mapper {
	if config.MaxSpeedKmh == nil {
		config.MaxSpeedKmh = DefaultMapperConfig().MaxSpeedKmh
	}
	return &Mapper{config: config}
}

func (m *Mapper) MaxSpeed(d Discipline) float64 {
	if v, ok := m.config.MaxSpeedKmh[d]; ok {
		return v
	}
	return m.config.MaxSpeedKmh[DisciplineOther]
}

// Resolve snaps a point onto c. prev is nil for the first ping of a
// participant. The caller is responsible for rejecting stale timestamps
// before calling Resolve; Resolve assumes t is after prev.Timestamp.
func (m *Mapper) Resolve(c *Course, lat, lon float64, t time.Time, prev *Fix) (Position, error) {
	var pos Position
	if prev != nil {
		dt := t.Sub(prev.Timestamp).Hours()
		if dt > 0 {
			pos.Speed = Haversine(prev.Latitude, prev.Longitude, lat, lon) / 1000 / dt
			if max := m.MaxSpeed(c.Discipline()); max > 0 && pos.Speed > max {
				return pos, ErrImplausibleSpeed
			}
		}
	}

	lo, hi := m.window(c, t, prev)
	best := -1
	bestOffset := math.MaxFloat64
	bestDist := 0.0
	for i := lo; i <= hi; i++ {
		a := c.checkpoints[i]
		b := c.checkpoints[i+1]
		frac, offset := project(a.Latitude, a.Longitude, b.Latitude, b.Longitude, lat, lon)
		d := a.DistanceFromStart + frac*(b.DistanceFromStart-a.DistanceFromStart)
		if offset < bestOffset || (offset == bestOffset && prev != nil && math.Abs(d-prev.Distance) < math.Abs(bestDist-prev.Distance)) {
			best, bestOffset, bestDist = i, offset, d
		}
	}
	pos.Segment = best
	pos.Offset = bestOffset
	pos.Distance = bestDist
	if best < 0 || bestOffset > m.config.MaxOffset {
		return pos, ErrOffCourse
	}
	return pos, nil
}

// window returns the inclusive segment range to search. Without a previous
// fix there is no segment to search around, so the whole course is scanned
// once. Otherwise the forward edge grows with the distance reachable at the
// discipline speed limit since the previous fix, never past MaxWindow
// segments.
func (m *Mapper) window(c *Course, t time.Time, prev *Fix) (int, int) {
	last := c.Segments() - 1
	if prev == nil {
		return 0, last
	}
	hint := prev.Segment
	lo := hint - m.config.WindowBehind
	if lo < 0 {
		lo = 0
	}
	hi := hint + m.config.WindowAhead
	reach := prev.Distance + m.MaxSpeed(c.Discipline())/3.6*t.Sub(prev.Timestamp).Seconds() + m.config.MaxOffset
	if s := c.segmentAt(reach); s > hi {
		hi = s
	}
	if m.config.MaxWindow > 0 && hi > hint+m.config.MaxWindow {
		hi = hint + m.config.MaxWindow
	}
	if hi > last {
		hi = last
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}
