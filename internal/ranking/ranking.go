package ranking

import (
	"sort"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/tracking"
)

type Entry struct {
	Rank             int             `json:"rank"`
	ParticipantID    string          `json:"id"`
	Nickname         string          `json:"nickname"`
	BibNumber        int             `json:"bib_number"`
	Status           tracking.Status `json:"status"`
	Finished         bool            `json:"finished"`
	Elapsed          time.Duration   `json:"elapsed"`
	Distance         float64         `json:"distance"`
	LastCrossedIndex int             `json:"last_crossed_index"`
	LastCrossedAt    time.Time       `json:"last_crossed_at"`
}

type Standings struct {
	CourseID   string    `json:"course_id"`
	Entries    []Entry   `json:"entries"`
	ComputedAt time.Time `json:"computed_at"`
}

// Top returns at most n leading entries.
func (s Standings) Top(n int) []Entry {
	if n > len(s.Entries) {
		n = len(s.Entries)
	}
	out := make([]Entry, n)
	copy(out, s.Entries[:n])
	return out
}

func ranked(s tracking.Status) bool {
	switch s {
	case tracking.COMPLETED, tracking.IN_PROGRESS, tracking.PAUSED:
		return true
	}
	return false
}

// less orders finishers before everyone still on course.
func less(a, b *tracking.ParticipantProgress) bool {
	af, bf := a.Status == tracking.COMPLETED, b.Status == tracking.COMPLETED
	if af != bf {
		return af
	}
	if af {
		if a.Elapsed != b.Elapsed {
			return a.Elapsed < b.Elapsed
		}
	} else {
		if a.Distance != b.Distance {
			return a.Distance > b.Distance
		}
		if a.LastCrossedIndex != b.LastCrossedIndex {
			return a.LastCrossedIndex > b.LastCrossedIndex
		}
	}
	// earlier crossing at the furthest checkpoint, a missing crossing loses
	if !a.LastCrossedAt.Equal(b.LastCrossedAt) {
		if a.LastCrossedAt.IsZero() || b.LastCrossedAt.IsZero() {
			return b.LastCrossedAt.IsZero()
		}
		return a.LastCrossedAt.Before(b.LastCrossedAt)
	}
	return a.ParticipantID < b.ParticipantID
}

// Rank is a pure function of the snapshots. DNS and DNF sessions get no rank.
func Rank(snaps []tracking.ParticipantProgress) []Entry {
	list := make([]*tracking.ParticipantProgress, 0, len(snaps))
	for i := range snaps {
		if ranked(snaps[i].Status) {
			list = append(list, &snaps[i])
		}
	}
	sort.Slice(list, func(i, j int) bool { return less(list[i], list[j]) })
	out := make([]Entry, len(list))
	for i, p := range list {
		out[i] = Entry{
			Rank:             i + 1,
			ParticipantID:    p.ParticipantID,
			Nickname:         p.Nickname,
			BibNumber:        p.BibNumber,
			Status:           p.Status,
			Finished:         p.Status == tracking.COMPLETED,
			Elapsed:          p.Elapsed,
			Distance:         p.Distance,
			LastCrossedIndex: p.LastCrossedIndex,
			LastCrossedAt:    p.LastCrossedAt,
		}
	}
	return out
}

type SnapshotSource interface {
	SnapshotAll(courseID string) []tracking.ParticipantProgress
}

// Engine keeps the last computed standings per course. Reads never trigger
// a recompute.
type Engine struct {
	log  log.Logger
	src  SnapshotSource
	now  func() time.Time
	mu   sync.RWMutex
	list map[string]Standings
}

func NewEngine(src SnapshotSource) *Engine {
	e := &Engine{src: src, now: time.Now, list: make(map[string]Standings)}
	e.log = log.DefaultLogger
	e.log.Context = log.NewContext(nil).Str("module", "ranking").Value()
	return e
}

func (e *Engine) Recompute(courseID string) Standings {
	s := Standings{CourseID: courseID, Entries: Rank(e.src.SnapshotAll(courseID)), ComputedAt: e.now()}
	e.mu.Lock()
	e.list[courseID] = s
	e.mu.Unlock()
	e.log.Debug().Str("course_id", courseID).Int("ranked", len(s.Entries)).Msg("standings recomputed")
	return s
}

// Standings returns the most recent standings, computing them on first use.
func (e *Engine) Standings(courseID string) Standings {
	e.mu.RLock()
	s, ok := e.list[courseID]
	e.mu.RUnlock()
	if !ok {
		return e.Recompute(courseID)
	}
	return s
}

// Set installs standings restored from elsewhere, such as the hot store.
func (e *Engine) Set(s Standings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.list[s.CourseID]; ok && cur.ComputedAt.After(s.ComputedAt) {
		return
	}
	e.list[s.CourseID] = s
}
