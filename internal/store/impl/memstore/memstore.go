package memstore

import (
	"context"
	"sort"
	"sync"

	"nuha.dev/racetracker/internal/aggregate"
	"nuha.dev/racetracker/internal/ranking"
)

type courseState struct {
	positions map[string]aggregate.Point
	standings *ranking.Standings
}

// HotStore keeps live positions and standings in process memory.
type HotStore struct {
	mu   sync.RWMutex
	list map[string]*courseState
}

func New() *HotStore {
	return &HotStore{list: make(map[string]*courseState)}
}

func (h *HotStore) state(courseID string) *courseState {
	s, ok := h.list[courseID]
	if !ok {
		s = &courseState{positions: make(map[string]aggregate.Point)}
		h.list[courseID] = s
	}
	return s
}

// PutPosition only moves a participant's point forward in time.
func (h *HotStore) PutPosition(ctx context.Context, courseID string, p aggregate.Point) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.state(courseID)
	if cur, ok := s.positions[p.ParticipantID]; ok && !p.Timestamp.After(cur.Timestamp) {
		return nil
	}
	s.positions[p.ParticipantID] = p
	return nil
}

func (h *HotStore) Positions(ctx context.Context, courseID string) ([]aggregate.Point, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.list[courseID]
	if !ok {
		return nil, nil
	}
	out := make([]aggregate.Point, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

func (h *HotStore) PutStandings(ctx context.Context, st ranking.Standings) error {
	cp := st
	cp.Entries = make([]ranking.Entry, len(st.Entries))
	copy(cp.Entries, st.Entries)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state(st.CourseID).standings = &cp
	return nil
}

func (h *HotStore) Standings(ctx context.Context, courseID string) (ranking.Standings, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.list[courseID]
	if !ok || s.standings == nil {
		return ranking.Standings{}, false, nil
	}
	return *s.standings, true, nil
}

// Reset drops everything, as a restarted cache would.
func (h *HotStore) Reset() {
	h.mu.Lock()
	h.list = make(map[string]*courseState)
	h.mu.Unlock()
}
