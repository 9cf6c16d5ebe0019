package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/course"
	"nuha.dev/racetracker/internal/store"
	"nuha.dev/racetracker/internal/tracking"
)

// CourseStore serves course geometry and rosters from PostgreSQL.
type CourseStore struct {
	db  *pgxpool.Pool
	log log.Logger
}

func NewCourseStore(db *pgxpool.Pool) *CourseStore {
	s := &CourseStore{db: db}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "course_store").Value()
	return s
}

func (s *CourseStore) LoadCourse(ctx context.Context, courseID string) (course.Definition, error) {
	def := course.Definition{ID: courseID}
	var discipline string
	err := s.db.QueryRow(ctx, `SELECT name, discipline FROM course WHERE id = $1`, courseID).Scan(&def.Name, &discipline)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return def, fmt.Errorf("%w: %s", course.ErrCourseNotFound, courseID)
		}
		s.log.Error().Err(err).Str("course_id", courseID).Msg("error querying course")
		return def, err
	}
	def.Discipline = course.Discipline(discipline)

	rows, err := s.db.Query(ctx, `SELECT idx, id, type, latitude, longitude, altitude, distance_from_start FROM checkpoint WHERE course_id = $1 ORDER BY idx`, courseID)
	if err != nil {
		return def, err
	}
	defer rows.Close()
	for rows.Next() {
		var cp course.Checkpoint
		var typ string
		if err := rows.Scan(&cp.Index, &cp.ID, &typ, &cp.Latitude, &cp.Longitude, &cp.Altitude, &cp.DistanceFromStart); err != nil {
			return def, err
		}
		cp.Type = course.CheckpointType(typ)
		def.Checkpoints = append(def.Checkpoints, cp)
	}
	return def, rows.Err()
}

func (s *CourseStore) Participant(ctx context.Context, courseID, participantID string) (tracking.Participant, error) {
	p := tracking.Participant{ID: participantID, CourseID: courseID}
	err := s.db.QueryRow(ctx, `SELECT nickname, bib_number, start_time FROM participant WHERE course_id = $1 AND id = $2`, courseID, participantID).
		Scan(&p.Nickname, &p.BibNumber, &p.StartTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, fmt.Errorf("%w: %s on %s", tracking.ErrUnknownParticipant, participantID, courseID)
		}
		return p, err
	}
	return p, nil
}

// ParticipantByBib resolves a follow code back to a participant.
func (s *CourseStore) ParticipantByBib(ctx context.Context, courseID string, bib int) (tracking.Participant, error) {
	p := tracking.Participant{CourseID: courseID, BibNumber: bib}
	err := s.db.QueryRow(ctx, `SELECT id, nickname, start_time FROM participant WHERE course_id = $1 AND bib_number = $2`, courseID, bib).
		Scan(&p.ID, &p.Nickname, &p.StartTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, fmt.Errorf("%w: bib %d on %s", tracking.ErrUnknownParticipant, bib, courseID)
	}
	return p, err
}

// ImportCourse writes the course, its checkpoints and its roster in one
// transaction. The definition is validated first.
func (s *CourseStore) ImportCourse(ctx context.Context, def course.Definition, participants []tracking.Participant) error {
	c, err := course.New(def)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO course (id, name, discipline) VALUES ($1, $2, $3)`, c.ID(), c.Name(), string(c.Discipline()))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", store.ErrCourseExists, c.ID())
		}
		return err
	}

	cps := c.Checkpoints()
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"checkpoint"},
		[]string{"course_id", "idx", "id", "type", "latitude", "longitude", "altitude", "distance_from_start"},
		pgx.CopyFromSlice(len(cps), func(i int) ([]interface{}, error) {
			cp := cps[i]
			return []interface{}{c.ID(), cp.Index, cp.ID, string(cp.Type), cp.Latitude, cp.Longitude, cp.Altitude, cp.DistanceFromStart}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy checkpoints: %w", err)
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"participant"},
		[]string{"course_id", "id", "nickname", "bib_number", "start_time"},
		pgx.CopyFromSlice(len(participants), func(i int) ([]interface{}, error) {
			p := participants[i]
			var start *time.Time
			if p.StartTime != nil {
				t := p.StartTime.UTC()
				start = &t
			}
			return []interface{}{c.ID(), p.ID, p.Nickname, p.BibNumber, start}, nil
		}))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("duplicate participant in %s: %w", c.ID(), err)
		}
		return fmt.Errorf("copy participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info().Str("course_id", c.ID()).Int("checkpoints", len(cps)).Int("participants", len(participants)).Msg("course imported")
	return nil
}
