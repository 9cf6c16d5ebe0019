package ranking

import (
	"testing"
	"time"

	"nuha.dev/racetracker/internal/tracking"
)

var t0 = time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)

func snap(id string, st tracking.Status, distance float64, elapsed time.Duration, crossed int, crossedAt time.Time) tracking.ParticipantProgress {
	return tracking.ParticipantProgress{ParticipantID: id, CourseID: "c", Status: st, Distance: distance, Elapsed: elapsed, LastCrossedIndex: crossed, LastCrossedAt: crossedAt}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ParticipantID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRankOrdering(t *testing.T) {
	snaps := []tracking.ParticipantProgress{
		snap("runner-far", tracking.IN_PROGRESS, 9000, 0, 1, t0.Add(30*time.Minute)),
		snap("fast", tracking.COMPLETED, 10000, 40*time.Minute, 2, t0.Add(40*time.Minute)),
		snap("slow", tracking.COMPLETED, 10000, 50*time.Minute, 2, t0.Add(50*time.Minute)),
		snap("paused", tracking.PAUSED, 7000, 0, 1, t0.Add(35*time.Minute)),
		snap("dns", tracking.STARTED, 0, 0, -1, time.Time{}),
		snap("dnf", tracking.STOPPED, 9500, 0, 1, t0.Add(31*time.Minute)),
		snap("failed", tracking.FAILED, 9800, 0, 1, t0.Add(31*time.Minute)),
	}
	got := Rank(snaps)
	want := []string{"fast", "slow", "runner-far", "paused"}
	if !equal(ids(got), want) {
		t.Fatalf("got %v want %v", ids(got), want)
	}
	for i, e := range got {
		if e.Rank != i+1 {
			t.Errorf("%s has rank %d", e.ParticipantID, e.Rank)
		}
	}
	if !got[0].Finished || got[2].Finished {
		t.Errorf("finished flag wrong: %+v", got)
	}
}

func TestRankTieBreaks(t *testing.T) {
	snaps := []tracking.ParticipantProgress{
		snap("b-late", tracking.COMPLETED, 10000, 45*time.Minute, 2, t0.Add(46*time.Minute)),
		snap("a-early", tracking.COMPLETED, 10000, 45*time.Minute, 2, t0.Add(45*time.Minute)),
		snap("d-same", tracking.IN_PROGRESS, 5000, 0, -1, time.Time{}),
		snap("c-same", tracking.IN_PROGRESS, 5000, 0, -1, time.Time{}),
		snap("e-later", tracking.IN_PROGRESS, 6000, 0, 1, t0.Add(21*time.Minute)),
		snap("f-earlier", tracking.IN_PROGRESS, 6000, 0, 1, t0.Add(20*time.Minute)),
	}
	got := ids(Rank(snaps))
	want := []string{"a-early", "b-late", "f-earlier", "e-later", "c-same", "d-same"}
	if !equal(got, want) {
		t.Errorf("got %v want %v", got, want)
	}
}

// finished participants keep their place even when someone on course is further along
func TestRankFinishedOutranksInProgress(t *testing.T) {
	snaps := []tracking.ParticipantProgress{
		snap("on-course", tracking.IN_PROGRESS, 10000, 0, 1, t0),
		snap("done", tracking.COMPLETED, 9999, 2*time.Hour, 2, t0.Add(2*time.Hour)),
	}
	if got := ids(Rank(snaps)); !equal(got, []string{"done", "on-course"}) {
		t.Errorf("got %v", got)
	}
}

func TestRankIsDeterministic(t *testing.T) {
	a := []tracking.ParticipantProgress{
		snap("x", tracking.IN_PROGRESS, 100, 0, 0, t0),
		snap("y", tracking.IN_PROGRESS, 100, 0, 0, t0),
		snap("z", tracking.IN_PROGRESS, 100, 0, 0, t0),
	}
	b := []tracking.ParticipantProgress{a[2], a[0], a[1]}
	if !equal(ids(Rank(a)), ids(Rank(b))) {
		t.Errorf("order depends on input order")
	}
}

type fixed []tracking.ParticipantProgress

func (f *fixed) SnapshotAll(courseID string) []tracking.ParticipantProgress { return *f }

func TestEngineServesCached(t *testing.T) {
	src := &fixed{snap("a", tracking.IN_PROGRESS, 100, 0, 0, t0)}
	e := NewEngine(src)
	if got := e.Standings("c"); len(got.Entries) != 1 {
		t.Fatalf("got %d entries", len(got.Entries))
	}
	*src = append(*src, snap("b", tracking.IN_PROGRESS, 200, 0, 0, t0))
	if got := e.Standings("c"); len(got.Entries) != 1 {
		t.Errorf("standings recomputed on read")
	}
	e.Recompute("c")
	s := e.Standings("c")
	if len(s.Entries) != 2 || s.Entries[0].ParticipantID != "b" {
		t.Errorf("unexpected standings %+v", s.Entries)
	}
	if top := s.Top(3); len(top) != 2 {
		t.Errorf("top 3 of 2 returned %d", len(top))
	}

	old := Standings{CourseID: "c", ComputedAt: s.ComputedAt.Add(-time.Hour)}
	e.Set(old)
	if len(e.Standings("c").Entries) != 2 {
		t.Errorf("older standings replaced newer")
	}
}
