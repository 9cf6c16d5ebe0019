package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/racetracker/internal/tracking"
)

// Broker is a raw TCP feed of checkpoint crossings for timing displays.
// A client sends one line naming the course it wants, or "*" for all, and
// then receives one JSON object per line. The feed is lossy: only the latest
// flushed batch is held, so a client still writing when two more batches are
// flushed misses the one in between. Missed batches are logged and counted.
type Broker struct {
	skipped uint64 // batches missed by slow clients, atomic
	logger  zerolog.Logger
	config  BrokerConfig
	rbuf    buffer
	wbuf    buffer
	wlock   *sync.Mutex

	cond  *sync.Cond
	rlock *sync.RWMutex
}

type BrokerConfig struct {
	Addr     string
	BufSize  int
	TimerDur time.Duration
}

type item struct {
	course string
	data   []byte
}

type buffer struct {
	seq uint64
	t1  time.Time
	t2  time.Time
	buf []item
}

func newBuffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]item, 0, len)}
}

func NewBroker(config *BrokerConfig) *Broker {
	br := &Broker{}
	br.config = *config
	if br.config.BufSize <= 0 {
		br.config.BufSize = 64
	}
	if br.config.TimerDur <= 0 {
		br.config.TimerDur = time.Second
	}
	br.logger = log.With().Str("module", "broker").Logger()
	br.rlock = &sync.RWMutex{}
	br.cond = sync.NewCond(br.rlock.RLocker())
	br.wbuf = newBuffer(1, br.config.BufSize)
	br.wlock = &sync.Mutex{}
	return br
}

func (br *Broker) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", br.config.Addr)
	if err != nil {
		br.logger.Err(err).Msg("unable to listen")
		return err
	}
	return br.Serve(ctx, ln)
}

func (br *Broker) Serve(ctx context.Context, ln net.Listener) error {
	go br.timerFlusher(ctx)
	go func() {
		<-ctx.Done()
		ln.Close()
		br.cond.Broadcast()
	}()
	br.logger.Info().Str("addr", ln.Addr().String()).Msg("crossing feed listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			br.logger.Err(err).Msg("failed to accept new connection")
			return err
		}
		bconn := brokerConn{br: br, c: conn, logger: br.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()}
		go bconn.handle(ctx)
	}
}

func (br *Broker) timerFlusher(ctx context.Context) {
	ticker := time.NewTicker(br.config.TimerDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			br.wlock.Lock()
			if len(br.wbuf.buf) != 0 && t.Sub(br.wbuf.t1) >= br.config.TimerDur {
				br.flush()
			}
			br.wlock.Unlock()
		}
	}
}

// Broadcast queues one line for course subscribers.
func (br *Broker) Broadcast(courseID string, data []byte) {
	br.wlock.Lock()
	if len(br.wbuf.buf) == 0 {
		br.wbuf.t1 = time.Now()
	}
	br.wbuf.buf = append(br.wbuf.buf, item{course: courseID, data: data})
	if len(br.wbuf.buf) >= br.config.BufSize {
		br.flush()
	}
	br.wlock.Unlock()
}

// Handle is a bus handler for crossing events.
func (br *Broker) Handle(ctx context.Context, e *bus.Event) {
	ev, ok := e.Data.(*tracking.CrossingEvent)
	if !ok {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		br.logger.Err(err).Msg("error encoding crossing")
		return
	}
	br.Broadcast(ev.CourseID, append(data, '\n'))
}

// Skipped returns how many batches slow clients have missed so far.
func (br *Broker) Skipped() uint64 { return atomic.LoadUint64(&br.skipped) }

func (br *Broker) flush() {
	next := br.wbuf.seq + 1
	br.wbuf.t2 = time.Now()
	br.rlock.Lock()
	br.rbuf = br.wbuf
	br.rlock.Unlock()
	br.cond.Broadcast()
	br.wbuf = newBuffer(next, br.config.BufSize)
}

type brokerConn struct {
	br     *Broker
	c      net.Conn
	r      *bufio.Reader
	course string
	logger zerolog.Logger
}

func (bc *brokerConn) handle(ctx context.Context) {
	defer bc.c.Close()
	bc.r = bufio.NewReader(bc.c)
	_ = bc.c.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bc.r.ReadString('\n')
	if err != nil {
		bc.logger.Err(err).Msg("unable to read course filter")
		return
	}
	_ = bc.c.SetReadDeadline(time.Time{})
	bc.course = strings.TrimSpace(line)
	bc.logger.Info().Str("course_id", bc.course).Msg("feed client subscribed")

	bc.br.cond.L.Lock()
	last := bc.br.rbuf.seq
	bc.br.cond.L.Unlock()
	for {
		bc.br.cond.L.Lock()
		for bc.br.rbuf.seq == last && ctx.Err() == nil {
			bc.br.cond.Wait()
		}
		buf := bc.br.rbuf
		bc.br.cond.L.Unlock()
		if ctx.Err() != nil {
			return
		}
		bc.advance(last, buf.seq)
		last = buf.seq

		out := make(net.Buffers, 0, len(buf.buf))
		for _, it := range buf.buf {
			if bc.course == "*" || it.course == bc.course {
				out = append(out, it.data)
			}
		}
		if len(out) == 0 {
			continue
		}
		_ = bc.c.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err = out.WriteTo(bc.c); err != nil {
			bc.logger.Err(err).Msg("error writing buffer")
			return
		}
	}
}

// advance records batches missed between last and seq.
func (bc *brokerConn) advance(last, seq uint64) {
	if seq <= last+1 {
		return
	}
	n := seq - last - 1
	atomic.AddUint64(&bc.br.skipped, n)
	bc.logger.Warn().Uint64("last", last).Uint64("seq", seq).Uint64("missed", n).Msg("client too slow, batches skipped")
}
