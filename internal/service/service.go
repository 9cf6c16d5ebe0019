package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/aggregate"
	"nuha.dev/racetracker/internal/eventbus"
	"nuha.dev/racetracker/internal/ranking"
	"nuha.dev/racetracker/internal/store"
	"nuha.dev/racetracker/internal/tracking"
	"nuha.dev/racetracker/internal/util"
)

var ErrInvalidArgument = errors.New("invalid argument")

// BibLookup is implemented by course stores that can resolve a bib number.
type BibLookup interface {
	ParticipantByBib(ctx context.Context, courseID string, bib int) (tracking.Participant, error)
}

type Config struct {
	SweepInterval time.Duration
}

// Deps are the collaborators of a RaceService. Bibs is optional.
type Deps struct {
	Tracker *tracking.Tracker
	Roster  tracking.Roster
	Ranking *ranking.Engine
	Agg     *aggregate.Aggregator
	Hot     store.HotStore
	History store.ProgressLog
	Bus     *bus.Bus
	Follow  *util.FollowCodec
	Bibs    BibLookup
}

// RaceService is the query and command surface over the tracker. It fans
// every accepted change out to the hot store, the progress log and the bus.
type RaceService struct {
	Deps
	config Config
	log    log.Logger
	now    func() time.Time
}

func New(deps Deps, config Config) *RaceService {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}
	s := &RaceService{Deps: deps, config: config, now: time.Now}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "service").Value()
	eventbus.Handle(s.Bus, "ranking", "^(checkpoint\\.crossed|session\\.changed)$", s.recompute)
	return s
}

func (s *RaceService) recompute(ctx context.Context, e *bus.Event) {
	var courseID string
	switch v := e.Data.(type) {
	case *tracking.CrossingEvent:
		courseID = v.CourseID
	case *eventbus.SessionChanged:
		courseID = v.CourseID
	default:
		return
	}
	st := s.Ranking.Recompute(courseID)
	if err := s.Hot.PutStandings(ctx, st); err != nil {
		s.log.Error().Err(err).Str("course_id", courseID).Msg("error caching standings")
	}
}

func (s *RaceService) emit(ctx context.Context, topic string, data interface{}) {
	if err := s.Bus.Emit(ctx, topic, data); err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("error emitting event")
	}
}

// CheckParticipant resolves the course and the roster entry a device logs
// in as. Course failures are classified as the tracker classifies them.
func (s *RaceService) CheckParticipant(ctx context.Context, courseID, participantID string) error {
	if _, err := s.Tracker.Course(ctx, courseID); err != nil {
		return err
	}
	if _, err := s.Roster.Participant(ctx, courseID, participantID); err != nil {
		if errors.Is(err, tracking.ErrUnknownParticipant) {
			return err
		}
		return fmt.Errorf("roster lookup: %w", err)
	}
	return nil
}

// IngestPing applies a ping and, when it is accepted, publishes the result.
func (s *RaceService) IngestPing(ctx context.Context, ping tracking.Ping) (tracking.Result, error) {
	res, err := s.Tracker.ApplyPing(ctx, ping)
	if err != nil || res.Outcome != tracking.Accepted {
		return res, err
	}
	p := res.Progress
	if pt, ok := aggregate.PointOf(p); ok {
		if err := s.Hot.PutPosition(ctx, p.CourseID, pt); err != nil {
			s.log.Error().Err(err).EmbedObject(&p).Msg("error caching position")
		}
	}
	s.History.Put(store.PingRecord{
		ParticipantID: ping.ParticipantID,
		CourseID:      ping.CourseID,
		Latitude:      ping.Latitude,
		Longitude:     ping.Longitude,
		Altitude:      ping.Altitude,
		Distance:      p.Distance,
		Offset:        res.Offset,
		GpsTime:       ping.Timestamp,
		ServerTime:    s.now(),
	})
	s.History.SaveProgress(p)

	s.emit(ctx, eventbus.TopicPingAccepted, &eventbus.PingAccepted{
		ParticipantID: p.ParticipantID,
		CourseID:      p.CourseID,
		Status:        p.Status,
		Distance:      p.Distance,
		Offset:        res.Offset,
		Position:      *p.LastPosition,
	})
	for i := range res.Crossings {
		c := res.Crossings[i]
		s.emit(ctx, eventbus.TopicCheckpointCrossed, &c)
	}
	if res.Transition != nil {
		s.emit(ctx, eventbus.TopicSessionChanged, &eventbus.SessionChanged{Transition: *res.Transition, Progress: p})
	}
	return res, nil
}

// RealtimeView builds the map view of a course at a zoom level in
// [aggregate.MinZoom, aggregate.MaxZoom].
func (s *RaceService) RealtimeView(ctx context.Context, courseID string, zoom int) (aggregate.View, error) {
	if zoom < aggregate.MinZoom || zoom > aggregate.MaxZoom {
		return aggregate.View{}, fmt.Errorf("%w: zoom %d outside [%d,%d]", ErrInvalidArgument, zoom, aggregate.MinZoom, aggregate.MaxZoom)
	}
	if _, err := s.Tracker.Course(ctx, courseID); err != nil {
		return aggregate.View{}, err
	}
	points, err := s.Hot.Positions(ctx, courseID)
	if err != nil || len(points) == 0 {
		if err != nil {
			s.log.Warn().Err(err).Str("course_id", courseID).Msg("hot store unavailable, using tracker snapshots")
		}
		points = s.points(courseID)
	}
	return s.Agg.View(courseID, zoom, points, s.standings(ctx, courseID), s.now()), nil
}

func (s *RaceService) points(courseID string) []aggregate.Point {
	snaps := s.Tracker.SnapshotAll(courseID)
	out := make([]aggregate.Point, 0, len(snaps))
	for _, p := range snaps {
		if pt, ok := aggregate.PointOf(p); ok {
			out = append(out, pt)
		}
	}
	return out
}

func (s *RaceService) standings(ctx context.Context, courseID string) ranking.Standings {
	if st, ok, err := s.Hot.Standings(ctx, courseID); err == nil && ok {
		s.Ranking.Set(st)
	}
	return s.Ranking.Standings(courseID)
}

func (s *RaceService) Standings(ctx context.Context, courseID string) (ranking.Standings, error) {
	if _, err := s.Tracker.Course(ctx, courseID); err != nil {
		return ranking.Standings{}, err
	}
	return s.standings(ctx, courseID), nil
}

func (s *RaceService) Progress(ctx context.Context, courseID, participantID string) (tracking.ParticipantProgress, error) {
	return s.Tracker.Snapshot(courseID, participantID)
}

func (s *RaceService) changed(ctx context.Context, tr tracking.Transition) {
	p, err := s.Tracker.Snapshot(tr.CourseID, tr.ParticipantID)
	if err != nil {
		s.log.Error().Err(err).Str("participant_id", tr.ParticipantID).Msg("session vanished after transition")
		return
	}
	s.History.SaveProgress(p)
	s.emit(ctx, eventbus.TopicSessionChanged, &eventbus.SessionChanged{Transition: tr, Progress: p})
}

// Start opens a session ahead of the first ping. A zero at keeps the
// roster start time.
func (s *RaceService) Start(ctx context.Context, courseID, participantID string, at time.Time) (tracking.ParticipantProgress, error) {
	p, err := s.Tracker.Start(ctx, courseID, participantID, at)
	if err != nil {
		return p, err
	}
	s.changed(ctx, tracking.Transition{ParticipantID: participantID, CourseID: courseID, To: tracking.STARTED, At: s.now()})
	return p, nil
}

func (s *RaceService) Pause(ctx context.Context, courseID, participantID string) (tracking.Transition, error) {
	return s.command(ctx, courseID, participantID, s.Tracker.Pause)
}

func (s *RaceService) Resume(ctx context.Context, courseID, participantID string) (tracking.Transition, error) {
	return s.command(ctx, courseID, participantID, s.Tracker.Resume)
}

func (s *RaceService) Stop(ctx context.Context, courseID, participantID string) (tracking.Transition, error) {
	return s.command(ctx, courseID, participantID, s.Tracker.Stop)
}

func (s *RaceService) command(ctx context.Context, courseID, participantID string, f func(context.Context, string, string) (tracking.Transition, error)) (tracking.Transition, error) {
	tr, err := f(ctx, courseID, participantID)
	if err != nil {
		return tr, err
	}
	s.changed(ctx, tr)
	return tr, nil
}

// Sweep fails silent sessions and publishes each timeout.
func (s *RaceService) Sweep(ctx context.Context) int {
	list := s.Tracker.Sweep(s.now())
	for _, tr := range list {
		s.changed(ctx, tr)
	}
	return len(list)
}

func (s *RaceService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.log.Info().Int("failed", n).Msg("silent sessions failed")
			}
		}
	}
}

func (s *RaceService) FollowCode(ctx context.Context, courseID, participantID string) (string, error) {
	p, err := s.Roster.Participant(ctx, courseID, participantID)
	if err != nil {
		return "", err
	}
	return s.Follow.Encode(courseID, p.BibNumber)
}

// FollowParticipant resolves a spectator follow code to live progress.
func (s *RaceService) FollowParticipant(ctx context.Context, courseID, code string) (tracking.ParticipantProgress, error) {
	bib, err := s.Follow.Decode(courseID, code)
	if err != nil {
		return tracking.ParticipantProgress{}, err
	}
	if s.Bibs != nil {
		p, err := s.Bibs.ParticipantByBib(ctx, courseID, bib)
		if err != nil {
			return tracking.ParticipantProgress{}, err
		}
		return s.Tracker.Snapshot(courseID, p.ID)
	}
	for _, p := range s.Tracker.SnapshotAll(courseID) {
		if p.BibNumber == bib {
			return p, nil
		}
	}
	return tracking.ParticipantProgress{}, fmt.Errorf("%w: bib %d on %s", tracking.ErrUnknownParticipant, bib, courseID)
}

// Restore loads saved progress into the tracker and rebuilds the hot store
// from it.
func (s *RaceService) Restore(ctx context.Context) error {
	list, err := s.History.LoadProgress(ctx)
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}
	n := s.Tracker.Restore(list)
	courses := make(map[string]bool)
	for _, p := range list {
		courses[p.CourseID] = true
	}
	for id := range courses {
		for _, pt := range s.points(id) {
			if err := s.Hot.PutPosition(ctx, id, pt); err != nil {
				return fmt.Errorf("repopulate hot store: %w", err)
			}
		}
		if err := s.Hot.PutStandings(ctx, s.Ranking.Recompute(id)); err != nil {
			return fmt.Errorf("repopulate hot store: %w", err)
		}
	}
	s.log.Info().Int("restored", n).Int("courses", len(courses)).Msg("progress restored")
	return nil
}
