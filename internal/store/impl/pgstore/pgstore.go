package pgstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/store"
	"nuha.dev/racetracker/internal/tracking"
)

type WriterConfig struct {
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

type progressKey struct {
	course      string
	participant string
}

// buffer collects pings and the newest progress per participant between flushes.
type buffer struct {
	seq      uint64
	t1       time.Time
	t2       time.Time
	pings    []store.PingRecord
	progress map[progressKey]tracking.ParticipantProgress
}

func newBuffer(seq uint64, len int) buffer {
	return buffer{seq: seq, pings: make([]store.PingRecord, 0, len), progress: make(map[progressKey]tracking.ParticipantProgress)}
}

func (b *buffer) empty() bool {
	return len(b.pings) == 0 && len(b.progress) == 0
}

// ProgressWriter is the PostgreSQL progress log. Writes are double
// buffered: callers append under wlock, a single flusher goroutine drains
// full or aged buffers into the database.
type ProgressWriter struct {
	config *WriterConfig
	cond   *sync.Cond
	wlock  *sync.Mutex
	queue  []buffer // guarded by cond.L
	closed bool     // guarded by cond.L
	wbuf   buffer
	dbp    *pgxpool.Pool
	log    log.Logger
	write  func(ctx context.Context, b buffer) error
	done   chan struct{}
}

func NewProgressWriter(db *pgxpool.Pool, config *WriterConfig) *ProgressWriter {
	w := newWriter(config)
	w.dbp = db
	w.write = w.writeDB
	return w
}

func newWriter(config *WriterConfig) *ProgressWriter {
	w := &ProgressWriter{}
	w.config = config
	if w.config.BufSize <= 0 {
		w.config.BufSize = 500
	}
	if w.config.TickerDur <= 0 {
		w.config.TickerDur = time.Second
	}
	w.log = log.DefaultLogger
	w.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	w.wbuf = newBuffer(0, w.config.BufSize)
	w.wlock = &sync.Mutex{}
	w.cond = sync.NewCond(&sync.Mutex{})
	w.done = make(chan struct{})
	return w
}

// Run starts the flusher. When ctx ends the pending buffer is flushed and
// Done is closed once everything queued has been written.
func (w *ProgressWriter) Run(ctx context.Context) {
	go w.timerFlusher(ctx)
	go w.handle()
}

func (w *ProgressWriter) Done() <-chan struct{} { return w.done }

func (w *ProgressWriter) timerFlusher(ctx context.Context) {
	ticker := time.NewTicker(w.config.TickerDur)
	defer ticker.Stop()
	for {
		select {
		case t := <-ticker.C:
			w.wlock.Lock()
			if !w.wbuf.empty() && t.Sub(w.wbuf.t1) > w.config.MaxAgeFlush {
				w.flush()
			}
			w.wlock.Unlock()
		case <-ctx.Done():
			w.wlock.Lock()
			if !w.wbuf.empty() {
				w.flush()
			}
			w.wlock.Unlock()
			w.cond.L.Lock()
			w.closed = true
			w.cond.L.Unlock()
			w.cond.Signal()
			return
		}
	}
}

func (w *ProgressWriter) touch() {
	if w.wbuf.empty() {
		w.wbuf.t1 = time.Now().UTC()
	}
}

func (w *ProgressWriter) Put(rec store.PingRecord) {
	w.wlock.Lock()
	w.touch()
	w.wbuf.pings = append(w.wbuf.pings, rec)
	if len(w.wbuf.pings) >= w.config.BufSize {
		w.flush()
	}
	w.wlock.Unlock()
}

// SaveProgress keeps only the newest copy per participant until the next
// flush. Copies arrive in any order; an older UpdatedAt never replaces a
// newer one.
func (w *ProgressWriter) SaveProgress(p tracking.ParticipantProgress) {
	w.wlock.Lock()
	w.touch()
	k := progressKey{p.CourseID, p.ParticipantID}
	if cur, ok := w.wbuf.progress[k]; !ok || !cur.UpdatedAt.After(p.UpdatedAt) {
		w.wbuf.progress[k] = p
	}
	if len(w.wbuf.progress) >= w.config.BufSize {
		w.flush()
	}
	w.wlock.Unlock()
}

// flush must be called with wlock held.
func (w *ProgressWriter) flush() {
	next := w.wbuf.seq + 1
	w.wbuf.t2 = time.Now().UTC()
	w.cond.L.Lock()
	w.queue = append(w.queue, w.wbuf)
	w.cond.L.Unlock()
	w.cond.Signal()
	w.wbuf = newBuffer(next, w.config.BufSize)
}

func (w *ProgressWriter) handle() {
	defer close(w.done)
	w.log.Info().Msg("starting flusher task")
	for {
		w.cond.L.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 && w.closed {
			w.cond.L.Unlock()
			w.log.Info().Msg("flusher task stopped")
			return
		}
		buf := w.queue[0]
		w.queue = w.queue[1:]
		w.cond.L.Unlock()

		t1 := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := w.write(ctx, buf)
		cancel()
		if err != nil {
			w.log.Error().Err(err).Uint64("seq", buf.seq).Int("pings", len(buf.pings)).Int("progress", len(buf.progress)).Msg("flush error")
		} else {
			w.log.Debug().Str("action", "flush").Uint64("seq", buf.seq).Int("pings", len(buf.pings)).Int("progress", len(buf.progress)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
		}
	}
}

const upsertProgress = `INSERT INTO participant_progress (course_id, participant_id, status, progress, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (course_id, participant_id) DO UPDATE
SET status = EXCLUDED.status, progress = EXCLUDED.progress, updated_at = EXCLUDED.updated_at
WHERE participant_progress.updated_at <= EXCLUDED.updated_at`

func (w *ProgressWriter) writeDB(ctx context.Context, buf buffer) error {
	if len(buf.pings) > 0 {
		_, err := w.dbp.CopyFrom(ctx,
			pgx.Identifier{"ping_history"},
			[]string{"course_id", "participant_id", "latitude", "longitude", "altitude", "distance", "course_offset", "gps_time", "server_time"},
			pgx.CopyFromSlice(len(buf.pings), func(i int) ([]interface{}, error) {
				d := buf.pings[i]
				return []interface{}{d.CourseID, d.ParticipantID, d.Latitude, d.Longitude, d.Altitude, d.Distance, d.Offset, d.GpsTime, d.ServerTime}, nil
			}))
		if err != nil {
			return err
		}
	}
	if len(buf.progress) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, p := range buf.progress {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		b.Queue(upsertProgress, p.CourseID, p.ParticipantID, string(p.Status), data, p.UpdatedAt)
	}
	br := w.dbp.SendBatch(ctx, b)
	defer br.Close()
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadProgress reads back the latest saved progress of every participant.
func (w *ProgressWriter) LoadProgress(ctx context.Context) ([]tracking.ParticipantProgress, error) {
	rows, err := w.dbp.Query(ctx, `SELECT progress FROM participant_progress`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tracking.ParticipantProgress
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p tracking.ParticipantProgress
		if err := json.Unmarshal(data, &p); err != nil {
			w.log.Error().Err(err).Msg("skipping undecodable progress row")
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
