package course

import (
	"errors"
	"fmt"
	"sort"
)

type CheckpointType string

const (
	START        CheckpointType = "start"
	SWIM         CheckpointType = "swim"
	TRANSITION   CheckpointType = "transition"
	BIKE         CheckpointType = "bike"
	RUN          CheckpointType = "run"
	FINISH       CheckpointType = "finish"
	INTERMEDIATE CheckpointType = "intermediate"
)

func (t CheckpointType) Valid() bool {
	switch t {
	case START, SWIM, TRANSITION, BIKE, RUN, FINISH, INTERMEDIATE:
		return true
	default:
		return false
	}
}

type Discipline string

const (
	DisciplineRun       Discipline = "run"
	DisciplineWalk      Discipline = "walk"
	DisciplineSwim      Discipline = "swim"
	DisciplineBike      Discipline = "bike"
	DisciplineTriathlon Discipline = "triathlon"
	DisciplineOther     Discipline = "other"
)

var (
	ErrEmptyCourse         = errors.New("course has fewer than two checkpoints")
	ErrCheckpointOrder     = errors.New("checkpoint order violated")
	ErrDuplicateCheckpoint = errors.New("duplicate checkpoint")
	ErrCheckpointType      = errors.New("unknown checkpoint type")
	ErrCourseNotFound      = errors.New("course not found")
)

type Checkpoint struct {
	Index             int            `json:"index" yaml:"index" validate:"gte=0"`
	ID                string         `json:"id" yaml:"id" validate:"required"`
	Type              CheckpointType `json:"type" yaml:"type" validate:"required"`
	Latitude          float64        `json:"latitude" yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude         float64        `json:"longitude" yaml:"longitude" validate:"gte=-180,lte=180"`
	Altitude          float64        `json:"altitude" yaml:"altitude"`
	DistanceFromStart float64        `json:"distance_from_start" yaml:"distance_from_start" validate:"gte=0"`
}

// Definition is the raw shape a course store returns.
type Definition struct {
	ID          string
	Name        string
	Discipline  Discipline
	Checkpoints []Checkpoint
}

// Course is immutable after New and safe to share between goroutines.
type Course struct {
	id          string
	name        string
	discipline  Discipline
	checkpoints []Checkpoint
	distances   []float64
}

func New(def Definition) (*Course, error) {
	if len(def.Checkpoints) < 2 {
		return nil, fmt.Errorf("course %s: %w", def.ID, ErrEmptyCourse)
	}
	cps := make([]Checkpoint, len(def.Checkpoints))
	copy(cps, def.Checkpoints)
	sort.SliceStable(cps, func(i, j int) bool { return cps[i].Index < cps[j].Index })

	ids := make(map[string]bool, len(cps))
	for i, cp := range cps {
		if !cp.Type.Valid() {
			return nil, fmt.Errorf("course %s checkpoint %q: %w", def.ID, cp.Type, ErrCheckpointType)
		}
		if cp.ID == "" || ids[cp.ID] {
			return nil, fmt.Errorf("course %s checkpoint id %q: %w", def.ID, cp.ID, ErrDuplicateCheckpoint)
		}
		ids[cp.ID] = true
		if i > 0 && cp.Index == cps[i-1].Index {
			return nil, fmt.Errorf("course %s index %d: %w", def.ID, cp.Index, ErrDuplicateCheckpoint)
		}
		// indices are dense so the index doubles as the position in the course
		if cp.Index != i {
			return nil, fmt.Errorf("course %s index %d at position %d: %w", def.ID, cp.Index, i, ErrCheckpointOrder)
		}
		if i == 0 {
			continue
		}
		prev := cps[i-1]
		if cp.DistanceFromStart < prev.DistanceFromStart {
			return nil, fmt.Errorf("course %s index %d distance %.1f < %.1f: %w", def.ID, cp.Index, cp.DistanceFromStart, prev.DistanceFromStart, ErrCheckpointOrder)
		}
	}

	c := &Course{id: def.ID, name: def.Name, discipline: def.Discipline, checkpoints: cps}
	if c.discipline == "" {
		c.discipline = DisciplineOther
	}
	c.distances = make([]float64, len(cps))
	for i, cp := range cps {
		c.distances[i] = cp.DistanceFromStart
	}
	return c, nil
}

func (c *Course) ID() string             { return c.id }
func (c *Course) Name() string           { return c.name }
func (c *Course) Discipline() Discipline { return c.discipline }
func (c *Course) Len() int               { return len(c.checkpoints) }

// Segments is the number of checkpoint-to-checkpoint segments.
func (c *Course) Segments() int { return len(c.checkpoints) - 1 }

// Checkpoint returns the checkpoint at position i in course order.
func (c *Course) Checkpoint(i int) Checkpoint { return c.checkpoints[i] }

func (c *Course) Checkpoints() []Checkpoint {
	out := make([]Checkpoint, len(c.checkpoints))
	copy(out, c.checkpoints)
	return out
}

func (c *Course) Terminal() Checkpoint { return c.checkpoints[len(c.checkpoints)-1] }

func (c *Course) Length() float64 { return c.Terminal().DistanceFromStart }

// FirstCheckpointBeyond returns the position of the first checkpoint whose
// distance from start is strictly greater than distance.
func (c *Course) FirstCheckpointBeyond(distance float64) (int, bool) {
	i := sort.Search(len(c.distances), func(i int) bool { return c.distances[i] > distance })
	if i == len(c.distances) {
		return 0, false
	}
	return i, true
}

// segmentAt returns the segment whose start distance is the last one <= distance.
func (c *Course) segmentAt(distance float64) int {
	i := sort.Search(len(c.distances), func(i int) bool { return c.distances[i] > distance }) - 1
	if i < 0 {
		return 0
	}
	if i > c.Segments()-1 {
		return c.Segments() - 1
	}
	return i
}
