package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"gopkg.in/yaml.v3"
	"nuha.dev/racetracker/internal/course"
	"nuha.dev/racetracker/internal/tracking"
)

// CourseFile is one course with its roster, stored as <dir>/<id>.yaml.
type CourseFile struct {
	ID           string                 `yaml:"id" validate:"required"`
	Name         string                 `yaml:"name"`
	Discipline   course.Discipline      `yaml:"discipline" validate:"omitempty,oneof=run walk swim bike triathlon other"`
	Checkpoints  []course.Checkpoint    `yaml:"checkpoints" validate:"required,min=2,dive"`
	Participants []tracking.Participant `yaml:"participants" validate:"dive"`
}

func (f *CourseFile) Definition() course.Definition {
	cps := make([]course.Checkpoint, len(f.Checkpoints))
	copy(cps, f.Checkpoints)
	return course.Definition{ID: f.ID, Name: f.Name, Discipline: f.Discipline, Checkpoints: cps}
}

var validate = validator.New()

// ReadCourseFile decodes and validates a course file.
func ReadCourseFile(path string) (*CourseFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f CourseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i := range f.Participants {
		f.Participants[i].CourseID = f.ID
	}
	return &f, nil
}

type Store struct {
	dir string
	log log.Logger

	mu      sync.Mutex
	rosters map[string]map[string]tracking.Participant
}

func New(dir string) *Store {
	s := &Store{dir: dir, rosters: make(map[string]map[string]tracking.Participant)}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "filestore").Value()
	return s
}

func (s *Store) read(courseID string) (*CourseFile, error) {
	if courseID == "" || filepath.Base(courseID) != courseID {
		return nil, fmt.Errorf("%w: %q", course.ErrCourseNotFound, courseID)
	}
	f, err := ReadCourseFile(filepath.Join(s.dir, courseID+".yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", course.ErrCourseNotFound, courseID)
		}
		s.log.Error().Err(err).Str("course_id", courseID).Msg("error reading course file")
		return nil, err
	}
	if f.ID != courseID {
		return nil, fmt.Errorf("course file %s declares id %s", courseID, f.ID)
	}
	return f, nil
}

func (s *Store) LoadCourse(ctx context.Context, courseID string) (course.Definition, error) {
	f, err := s.read(courseID)
	if err != nil {
		return course.Definition{}, err
	}
	s.mu.Lock()
	s.rosters[courseID] = roster(f)
	s.mu.Unlock()
	return f.Definition(), nil
}

func roster(f *CourseFile) map[string]tracking.Participant {
	m := make(map[string]tracking.Participant, len(f.Participants))
	for _, p := range f.Participants {
		m[p.ID] = p
	}
	return m
}

func (s *Store) Participant(ctx context.Context, courseID, participantID string) (tracking.Participant, error) {
	s.mu.Lock()
	r, ok := s.rosters[courseID]
	s.mu.Unlock()
	if !ok {
		f, err := s.read(courseID)
		if err != nil {
			return tracking.Participant{}, fmt.Errorf("%w: %v", tracking.ErrUnknownParticipant, err)
		}
		r = roster(f)
		s.mu.Lock()
		s.rosters[courseID] = r
		s.mu.Unlock()
	}
	p, ok := r[participantID]
	if !ok {
		return tracking.Participant{}, fmt.Errorf("%w: %s on %s", tracking.ErrUnknownParticipant, participantID, courseID)
	}
	return p, nil
}

// Participants lists the roster of a course ordered as in the file.
func (s *Store) Participants(ctx context.Context, courseID string) ([]tracking.Participant, error) {
	f, err := s.read(courseID)
	if err != nil {
		return nil, err
	}
	return f.Participants, nil
}

func (s *Store) ParticipantByBib(ctx context.Context, courseID string, bib int) (tracking.Participant, error) {
	list, err := s.Participants(ctx, courseID)
	if err != nil {
		return tracking.Participant{}, fmt.Errorf("%w: %v", tracking.ErrUnknownParticipant, err)
	}
	for _, p := range list {
		if p.BibNumber == bib {
			return p, nil
		}
	}
	return tracking.Participant{}, fmt.Errorf("%w: bib %d on %s", tracking.ErrUnknownParticipant, bib, courseID)
}
