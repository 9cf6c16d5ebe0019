package logstore

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/racetracker/internal/store"
	"nuha.dev/racetracker/internal/tracking"
)

// LogStore is a progress log for running without a database. Pings go to the
// log only; the latest progress per participant is kept in memory.
type LogStore struct {
	logger   zerolog.Logger
	mu       sync.Mutex
	progress map[string]tracking.ParticipantProgress
}

func NewStore() *LogStore {
	return &LogStore{
		logger:   log.With().Str("module", "logstore").Logger(),
		progress: make(map[string]tracking.ParticipantProgress),
	}
}

func (l *LogStore) Put(rec store.PingRecord) {
	l.logger.Debug().Str("course_id", rec.CourseID).Str("participant_id", rec.ParticipantID).
		Float64("lat", rec.Latitude).Float64("lng", rec.Longitude).Float64("alt", rec.Altitude).
		Float64("distance", rec.Distance).Time("gpstime", rec.GpsTime).Msg("ping")
}

func (l *LogStore) SaveProgress(p tracking.ParticipantProgress) {
	l.mu.Lock()
	cur, ok := l.progress[p.CourseID+"/"+p.ParticipantID]
	if !ok || !cur.UpdatedAt.After(p.UpdatedAt) {
		l.progress[p.CourseID+"/"+p.ParticipantID] = p
	}
	l.mu.Unlock()
	l.logger.Debug().Str("course_id", p.CourseID).Str("participant_id", p.ParticipantID).
		Str("status", string(p.Status)).Float64("distance", p.Distance).Msg("progress")
}

func (l *LogStore) LoadProgress(ctx context.Context) ([]tracking.ParticipantProgress, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]tracking.ParticipantProgress, 0, len(l.progress))
	for _, p := range l.progress {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CourseID != out[j].CourseID {
			return out[i].CourseID < out[j].CourseID
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out, nil
}
