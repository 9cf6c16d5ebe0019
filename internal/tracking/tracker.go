package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/course"
)

type Config struct {
	Hysteresis     float64 // meters past a checkpoint before it counts as crossed
	SilenceTimeout time.Duration
}

type Outcome int

const (
	Accepted Outcome = iota
	Dropped
)

func (o Outcome) String() string {
	if o == Accepted {
		return "accepted"
	}
	return "dropped"
}

type Transition struct {
	ParticipantID string    `json:"participant_id"`
	CourseID      string    `json:"course_id"`
	From          Status    `json:"from"`
	To            Status    `json:"to"`
	At            time.Time `json:"at"`
}

type Result struct {
	Outcome    Outcome
	Crossings  []CrossingEvent
	Progress   ParticipantProgress
	Offset     float64
	Transition *Transition
}

type key struct {
	course      string
	participant string
}

type record struct {
	mu       sync.Mutex
	created  bool
	lastSeen time.Time // server clock, drives the silence timeout
	progress ParticipantProgress
}

// Tracker is the progress tracker. Updates for one participant are
// serialized by that participant's record lock; there is no global lock on
// the ping path beyond the map lookup.
type Tracker struct {
	log     log.Logger
	config  Config
	courses *course.Cache
	roster  Roster
	mapper  *course.Mapper
	now     func() time.Time

	mu   sync.RWMutex
	list map[key]*record
}

func NewTracker(courses *course.Cache, roster Roster, mapper *course.Mapper, config Config) *Tracker {
	t := &Tracker{config: config, courses: courses, roster: roster, mapper: mapper, now: time.Now}
	t.log = log.DefaultLogger
	t.log.Context = log.NewContext(nil).Str("module", "tracker").Value()
	t.list = make(map[key]*record)
	return t
}

// Course resolves a course through the shared cache, classifying failures.
func (t *Tracker) Course(ctx context.Context, courseID string) (*course.Course, error) {
	c, err := t.courses.Get(ctx, courseID)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, course.ErrCourseNotFound) {
		return nil, fmt.Errorf("%w: course %s", ErrUnknownParticipant, courseID)
	}
	return nil, fmt.Errorf("%w: %v", ErrCourseUnavailable, err)
}

func (t *Tracker) lookup(k key) (*record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.list[k]
	return r, ok
}

func (t *Tracker) record(ctx context.Context, courseID, participantID string) (*record, error) {
	k := key{courseID, participantID}
	if r, ok := t.lookup(k); ok {
		return r, nil
	}
	p, err := t.roster.Participant(ctx, courseID, participantID)
	if err != nil {
		if errors.Is(err, ErrUnknownParticipant) {
			return nil, err
		}
		return nil, fmt.Errorf("roster lookup: %w", err)
	}
	p.ID, p.CourseID = participantID, courseID
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.list[k]
	if !ok {
		r = &record{progress: newProgress(p)}
		t.list[k] = r
	}
	return r, nil
}

// ApplyPing applies one ping atomically. Stale pings return Dropped with a
// nil error; every other rejection leaves the record untouched.
func (t *Tracker) ApplyPing(ctx context.Context, ping Ping) (Result, error) {
	if err := ping.validate(); err != nil {
		return Result{}, err
	}
	c, err := t.Course(ctx, ping.CourseID)
	if err != nil {
		return Result{}, err
	}
	r, err := t.record(ctx, ping.CourseID, ping.ParticipantID)
	if err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.progress
	if cur.Status.Terminal() {
		return Result{Progress: cur.clone()}, fmt.Errorf("%w: %s is %s", ErrSessionClosed, ping.ParticipantID, cur.Status)
	}

	var prevFix *course.Fix
	var prevSample *Sample
	if last := cur.LastPosition; last != nil {
		if !ping.Timestamp.After(last.Timestamp) {
			t.log.Trace().EmbedObject(&ping).Time("last_accepted", last.Timestamp).Msg("stale ping dropped")
			return Result{Outcome: Dropped, Progress: cur.clone()}, nil
		}
		prevFix = &course.Fix{Latitude: last.Latitude, Longitude: last.Longitude, Distance: cur.Distance, Segment: cur.Segment, Timestamp: last.Timestamp}
		prevSample = &Sample{Distance: cur.Distance, Timestamp: last.Timestamp}
	}

	pos, err := t.mapper.Resolve(c, ping.Latitude, ping.Longitude, ping.Timestamp, prevFix)
	if err != nil {
		t.log.Warn().EmbedObject(&ping).Err(err).Float64("offset", pos.Offset).Float64("speed_kmh", pos.Speed).Msg("outlier ping rejected")
		return Result{Progress: cur.clone(), Offset: pos.Offset}, fmt.Errorf("%w: %v", ErrOutlierPing, err)
	}

	next := cur.clone()
	status, err := next.Status.Next(EventPing)
	if err != nil {
		return Result{Progress: cur.clone()}, err
	}
	if next.StartedAt.IsZero() {
		next.StartedAt = ping.Timestamp
	}
	// backward movement is a position update only
	if pos.Distance > next.Distance {
		next.Distance = pos.Distance
	}
	crossings := Detect(c, next.LastCrossedIndex, prevSample, Sample{Distance: next.Distance, Timestamp: ping.Timestamp}, t.config.Hysteresis)
	for i := range crossings {
		ev := &crossings[i]
		ev.ParticipantID = ping.ParticipantID
		next.LastCrossedIndex = ev.CheckpointIndex
		next.LastCrossedAt = ev.CrossedAt
		next.Splits = append(next.Splits, Split{CheckpointIndex: ev.CheckpointIndex, CrossedAt: ev.CrossedAt})
		if ev.Terminal {
			if status, err = status.Next(EventFinish); err != nil {
				return Result{Progress: cur.clone()}, err
			}
			finished := ev.CrossedAt
			next.FinishedAt = &finished
			next.Elapsed = finished.Sub(next.StartedAt)
			if next.Elapsed < 0 {
				next.Elapsed = 0
			}
		}
	}
	next.Status = status
	next.Segment = pos.Segment
	next.LastPosition = &Position{Latitude: ping.Latitude, Longitude: ping.Longitude, Altitude: ping.Altitude, Heading: ping.Heading, Speed: ping.Speed, Timestamp: ping.Timestamp}
	next.UpdatedAt = ping.Timestamp

	r.progress = next
	r.created = true
	r.lastSeen = t.now()

	res := Result{Outcome: Accepted, Crossings: crossings, Progress: next.clone(), Offset: pos.Offset}
	if status != cur.Status {
		res.Transition = &Transition{ParticipantID: ping.ParticipantID, CourseID: ping.CourseID, From: cur.Status, To: status, At: ping.Timestamp}
		t.log.Info().EmbedObject(&next).Str("from", string(cur.Status)).Msg("session transition")
	}
	return res, nil
}

// Start opens a session before the first ping. A zero at keeps the roster
// start time, or the first ping time when the roster has none.
func (t *Tracker) Start(ctx context.Context, courseID, participantID string, at time.Time) (ParticipantProgress, error) {
	if _, err := t.Course(ctx, courseID); err != nil {
		return ParticipantProgress{}, err
	}
	r, err := t.record(ctx, courseID, participantID)
	if err != nil {
		return ParticipantProgress{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.created {
		if r.progress.Status.Terminal() {
			return r.progress.clone(), ErrSessionClosed
		}
		return r.progress.clone(), fmt.Errorf("%w: %s already %s", ErrInvalidTransition, participantID, r.progress.Status)
	}
	if !at.IsZero() {
		r.progress.StartedAt = at
	}
	r.created = true
	r.lastSeen = t.now()
	t.log.Info().EmbedObject(&r.progress).Msg("session started")
	return r.progress.clone(), nil
}

func (t *Tracker) Pause(ctx context.Context, courseID, participantID string) (Transition, error) {
	return t.command(courseID, participantID, EventPause)
}

func (t *Tracker) Resume(ctx context.Context, courseID, participantID string) (Transition, error) {
	return t.command(courseID, participantID, EventResume)
}

func (t *Tracker) Stop(ctx context.Context, courseID, participantID string) (Transition, error) {
	return t.command(courseID, participantID, EventStop)
}

func (t *Tracker) command(courseID, participantID string, ev SessionEvent) (Transition, error) {
	r, ok := t.lookup(key{courseID, participantID})
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s on %s", ErrUnknownParticipant, participantID, courseID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.created {
		return Transition{}, fmt.Errorf("%w: %s has no session", ErrUnknownParticipant, participantID)
	}
	from := r.progress.Status
	to, err := from.Next(ev)
	if err != nil {
		return Transition{}, err
	}
	now := t.now()
	r.progress.Status = to
	if ev == EventResume {
		r.lastSeen = now
	}
	t.log.Info().EmbedObject(&r.progress).Str("from", string(from)).Str("event", ev.String()).Msg("session transition")
	return Transition{ParticipantID: participantID, CourseID: courseID, From: from, To: to, At: now}, nil
}

// Sweep fails running or paused sessions that have been silent longer than
// the configured timeout.
func (t *Tracker) Sweep(now time.Time) []Transition {
	if t.config.SilenceTimeout <= 0 {
		return nil
	}
	t.mu.RLock()
	recs := make([]*record, 0, len(t.list))
	for _, r := range t.list {
		recs = append(recs, r)
	}
	t.mu.RUnlock()

	var out []Transition
	for _, r := range recs {
		r.mu.Lock()
		st := r.progress.Status
		if r.created && (st == IN_PROGRESS || st == PAUSED) && now.Sub(r.lastSeen) > t.config.SilenceTimeout {
			to, err := st.Next(EventTimeout)
			if err == nil {
				r.progress.Status = to
				out = append(out, Transition{ParticipantID: r.progress.ParticipantID, CourseID: r.progress.CourseID, From: st, To: to, At: now})
				t.log.Info().EmbedObject(&r.progress).Dur("silence", now.Sub(r.lastSeen)).Msg("session timed out")
			}
		}
		r.mu.Unlock()
	}
	return out
}

func (t *Tracker) Snapshot(courseID, participantID string) (ParticipantProgress, error) {
	r, ok := t.lookup(key{courseID, participantID})
	if !ok {
		return ParticipantProgress{}, fmt.Errorf("%w: %s on %s", ErrUnknownParticipant, participantID, courseID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.created {
		return ParticipantProgress{}, fmt.Errorf("%w: %s has no session", ErrUnknownParticipant, participantID)
	}
	return r.progress.clone(), nil
}

// SnapshotAll returns point-in-time copies of every session on a course,
// ordered by participant id.
func (t *Tracker) SnapshotAll(courseID string) []ParticipantProgress {
	t.mu.RLock()
	recs := make([]*record, 0)
	for k, r := range t.list {
		if k.course == courseID {
			recs = append(recs, r)
		}
	}
	t.mu.RUnlock()

	out := make([]ParticipantProgress, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		if r.created {
			out = append(out, r.progress.clone())
		}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// Restore loads authoritative progress, keeping whichever copy is newer.
func (t *Tracker) Restore(list []ParticipantProgress) int {
	n := 0
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range list {
		k := key{p.CourseID, p.ParticipantID}
		r, ok := t.list[k]
		if !ok {
			r = &record{}
			t.list[k] = r
		}
		r.mu.Lock()
		if !r.created || p.UpdatedAt.After(r.progress.UpdatedAt) {
			r.progress = p.clone()
			r.created = true
			r.lastSeen = now
			n++
		}
		r.mu.Unlock()
	}
	return n
}
