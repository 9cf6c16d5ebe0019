package aggregate

import (
	"math"
	"sort"
	"time"

	"nuha.dev/racetracker/internal/ranking"
	"nuha.dev/racetracker/internal/tracking"
)

const (
	MinZoom = 1
	MaxZoom = 20
)

type Config struct {
	CellsPerTile     int // grid cells across one map tile edge
	FullFidelityZoom int // at or above this zoom every participant is returned
	TopN             int
}

func DefaultConfig() Config {
	return Config{CellsPerTile: 4, FullFidelityZoom: 16, TopN: 3}
}

type Point struct {
	ParticipantID string    `json:"id"`
	Nickname      string    `json:"nickname"`
	Lat           float64   `json:"lat"`
	Lng           float64   `json:"lng"`
	Alt           float64   `json:"alt"`
	Heading       *float64  `json:"heading"`
	Speed         *float64  `json:"speed"`
	Timestamp     time.Time `json:"timestamp"`
	Count         int       `json:"count"` // participants represented, 1 when unclustered
}

// PointOf converts a progress snapshot to a map point.
func PointOf(p tracking.ParticipantProgress) (Point, bool) {
	if p.LastPosition == nil {
		return Point{}, false
	}
	pos := p.LastPosition
	return Point{
		ParticipantID: p.ParticipantID,
		Nickname:      p.Nickname,
		Lat:           pos.Latitude,
		Lng:           pos.Longitude,
		Alt:           pos.Altitude,
		Heading:       pos.Heading,
		Speed:         pos.Speed,
		Timestamp:     pos.Timestamp,
		Count:         1,
	}, true
}

type TopEntry struct {
	Rank        int     `json:"rank"`
	ID          string  `json:"id"`
	Nickname    string  `json:"nickname"`
	BibNumber   int     `json:"bib_number"`
	ElapsedTime float64 `json:"elapsed_time"` // seconds, zero until finished
	Distance    float64 `json:"distance"`
	Finished    bool    `json:"finished"`
}

type View struct {
	CourseID     string     `json:"course_id"`
	Zoom         int        `json:"zoom"`
	Clustered    bool       `json:"clustered"`
	Participants []Point    `json:"participants"`
	Top3         []TopEntry `json:"top3"`
	GeneratedAt  time.Time  `json:"generated_at"`
}

type Aggregator struct {
	config Config
}

func New(config Config) *Aggregator {
	d := DefaultConfig()
	if config.CellsPerTile <= 0 {
		config.CellsPerTile = d.CellsPerTile
	}
	if config.FullFidelityZoom <= 0 {
		config.FullFidelityZoom = d.FullFidelityZoom
	}
	if config.TopN <= 0 {
		config.TopN = d.TopN
	}
	return &Aggregator{config: config}
}

// CellSize returns the grid cell edge in degrees for a zoom level.
func (a *Aggregator) CellSize(zoom int) float64 {
	return 360 / math.Exp2(float64(zoom)) / float64(a.config.CellsPerTile)
}

type cell struct {
	row, col int64
}

// Cluster buckets points into a zoom dependent grid and keeps the most recent
// point of each non-empty cell. The zoom is expected to be validated already.
func (a *Aggregator) Cluster(points []Point, zoom int) ([]Point, bool) {
	if zoom >= a.config.FullFidelityZoom {
		out := make([]Point, len(points))
		copy(out, points)
		for i := range out {
			out[i].Count = 1
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
		return out, false
	}

	size := a.CellSize(zoom)
	buckets := make(map[cell]Point)
	for _, p := range points {
		k := cell{int64(math.Floor((p.Lat + 90) / size)), int64(math.Floor((p.Lng + 180) / size))}
		cur, ok := buckets[k]
		if !ok {
			p.Count = 1
			buckets[k] = p
			continue
		}
		n := cur.Count + 1
		if p.Timestamp.After(cur.Timestamp) || (p.Timestamp.Equal(cur.Timestamp) && p.ParticipantID < cur.ParticipantID) {
			cur = p
		}
		cur.Count = n
		buckets[k] = cur
	}
	out := make([]Point, 0, len(buckets))
	for _, p := range buckets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, true
}

func (a *Aggregator) Top(s ranking.Standings) []TopEntry {
	top := s.Top(a.config.TopN)
	out := make([]TopEntry, len(top))
	for i, e := range top {
		out[i] = TopEntry{
			Rank:        e.Rank,
			ID:          e.ParticipantID,
			Nickname:    e.Nickname,
			BibNumber:   e.BibNumber,
			ElapsedTime: e.Elapsed.Seconds(),
			Distance:    e.Distance,
			Finished:    e.Finished,
		}
	}
	return out
}

func (a *Aggregator) View(courseID string, zoom int, points []Point, standings ranking.Standings, now time.Time) View {
	pts, clustered := a.Cluster(points, zoom)
	return View{
		CourseID:     courseID,
		Zoom:         zoom,
		Clustered:    clustered,
		Participants: pts,
		Top3:         a.Top(standings),
		GeneratedAt:  now,
	}
}
