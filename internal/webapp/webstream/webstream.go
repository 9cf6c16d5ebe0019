package webstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"nuha.dev/racetracker/internal/aggregate"
	"nuha.dev/racetracker/internal/sublist"
)

type Viewer interface {
	RealtimeView(ctx context.Context, courseID string, zoom int) (aggregate.View, error)
}

type WebStreamConfig struct {
	ListenAddr       string
	PushInterval     time.Duration
	MaxSubscriptions int
	BufferLen        int // pending messages per client before the oldest is dropped
}

const (
	CSub   string = "subscribe"
	CUnsub string = "unsubscribe"
)

type Command struct {
	Action   string `json:"action" validate:"oneof=subscribe unsubscribe"`
	CourseId string `json:"course_id" validate:"required"`
	Zoom     int    `json:"zoom" validate:"omitempty,gte=1,lte=20"`
}

type ErrorMessage struct {
	Error string `json:"error"`
}

type WebstreamServer struct {
	server     *http.Server
	log        log.Logger
	views      Viewer
	config     WebStreamConfig
	sublistmap *sublist.SublistMap
	vld        *validator.Validate
}

func NewWebstream(views Viewer, sublistmap *sublist.SublistMap, config WebStreamConfig) *WebstreamServer {
	if config.PushInterval <= 0 {
		config.PushInterval = time.Second
	}
	if config.MaxSubscriptions <= 0 {
		config.MaxSubscriptions = 5
	}
	if config.BufferLen <= 0 {
		config.BufferLen = 16
	}
	o := &WebstreamServer{config: config, views: views, sublistmap: sublistmap, vld: validator.New()}
	o.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        http.HandlerFunc(o.serve_http),
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "websocket").Value()
	return o
}

func (ws *WebstreamServer) Handler() http.Handler { return ws.server.Handler }

// Run serves websocket clients and pushes views until ctx is cancelled.
func (ws *WebstreamServer) Run(ctx context.Context) error {
	go ws.Pusher(ctx)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ws.server.Shutdown(sctx)
	}()
	ws.log.Info().Msgf("starting ws-server on : %s", ws.server.Addr)
	err := ws.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		ws.log.Error().Err(err).Msg("")
		return err
	}
	return nil
}

func (ws *WebstreamServer) Pusher(ctx context.Context) {
	ticker := time.NewTicker(ws.config.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws.PushAll(ctx)
		}
	}
}

// PushAll renders one view per subscribed course and zoom and hands it to
// the matching subscribers.
func (ws *WebstreamServer) PushAll(ctx context.Context) {
	for _, key := range ws.sublistmap.Keys() {
		slist, ok := ws.sublistmap.GetSublist(key, false)
		if !ok {
			continue
		}
		for _, zoom := range slist.Zooms() {
			d, err := ws.render(ctx, key, zoom)
			if err != nil {
				ws.log.Warn().Err(err).Str("course_id", key).Int("zoom", zoom).Msg("view unavailable")
				continue
			}
			slist.SendZoom(zoom, d)
		}
	}
}

func (ws *WebstreamServer) render(ctx context.Context, courseID string, zoom int) ([]byte, error) {
	v, err := ws.views.RealtimeView(ctx, courseID, zoom)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&v)
}

func (ws *WebstreamServer) serve_http(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		ws.log.Error().Err(err).Msg("Error while upgrading websocket")
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	wc := &WebstreamClient{srv: ws, c: c, log: ws.log}
	wc.buf = make([][]byte, 0, ws.config.BufferLen)
	wc.notify = make(chan struct{}, 1)
	wc.subs = make(map[string]*subscription)

	wc.wg.Add(1)
	go wc.writeLoop(ctx, cancel)
	wc.readloop(ctx)
	cancel()
	wc.wg.Wait()
	wc.unsubscribeAll()
	wc.lock.Lock()
	err = wc.err
	wc.lock.Unlock()
	if err != nil && websocket.CloseStatus(err) == -1 {
		c.Close(websocket.StatusInternalError, "closing")
	} else {
		c.Close(websocket.StatusNormalClosure, "")
	}
	ws.log.Debug().Uint64("pushed", atomic.LoadUint64(&wc.pushed)).Uint64("skipped", atomic.LoadUint64(&wc.skipped)).Msg("websocket client gone")
}

type subscription struct {
	wc     *WebstreamClient
	course string
	zoom   int
}

func (s *subscription) Push(key string, d []byte) bool { return s.wc.Push(d) }
func (s *subscription) Zoom() int                      { return s.zoom }

type WebstreamClient struct {
	lock    sync.Mutex
	wg      sync.WaitGroup
	srv     *WebstreamServer
	c       *websocket.Conn
	log     log.Logger
	closed  bool
	err     error
	buf     [][]byte
	notify  chan struct{}
	subs    map[string]*subscription // read loop only
	skipped uint64
	pushed  uint64
}

func (wc *WebstreamClient) closeErr(err error) {
	wc.closed = true
	wc.err = err
}

func (wc *WebstreamClient) readloop(ctx context.Context) {
	for {
		var cmd Command
		err := wsjson.Read(ctx, wc.c, &cmd)
		if err != nil {
			wc.lock.Lock()
			wc.closeErr(err)
			wc.lock.Unlock()
			return
		}
		if err := wc.apply(ctx, cmd); err != nil {
			wc.log.Debug().Err(err).Str("action", cmd.Action).Msg("rejected websocket command")
			d, _ := json.Marshal(ErrorMessage{Error: err.Error()})
			wc.Push(d)
		}
	}
}

func (wc *WebstreamClient) apply(ctx context.Context, cmd Command) error {
	if err := wc.srv.vld.Struct(&cmd); err != nil {
		return err
	}
	if cmd.Action == CSub && cmd.Zoom == 0 {
		return errors.New("subscribe needs a zoom level")
	}
	if cur, ok := wc.subs[cmd.CourseId]; ok {
		cur.unsubscribe()
		delete(wc.subs, cmd.CourseId)
		wc.log.Trace().Str("course_id", cmd.CourseId).Msg("unsubscribing")
	}
	if cmd.Action == CUnsub {
		return nil
	}
	if len(wc.subs) >= wc.srv.config.MaxSubscriptions {
		return fmt.Errorf("too many subscriptions, limit %d", wc.srv.config.MaxSubscriptions)
	}
	// first view goes out right away, it also rejects unknown courses
	d, err := wc.srv.render(ctx, cmd.CourseId, cmd.Zoom)
	if err != nil {
		return err
	}
	s := &subscription{wc: wc, course: cmd.CourseId, zoom: cmd.Zoom}
	slist, _ := wc.srv.sublistmap.GetSublist(cmd.CourseId, true)
	slist.Subscribe(s)
	wc.subs[cmd.CourseId] = s
	wc.log.Trace().Str("course_id", cmd.CourseId).Int("zoom", cmd.Zoom).Msg("subscribing")
	wc.Push(d)
	return nil
}

func (s *subscription) unsubscribe() {
	if slist, ok := s.wc.srv.sublistmap.GetSublist(s.course, false); ok {
		slist.Unsubscribe(s)
	}
}

func (wc *WebstreamClient) unsubscribeAll() {
	for k, s := range wc.subs {
		s.unsubscribe()
		delete(wc.subs, k)
	}
}

func (wc *WebstreamClient) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer wc.wg.Done()
	var out [][]byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-wc.notify:
		}
		wc.lock.Lock()
		out, wc.buf = wc.buf, out[:0]
		wc.lock.Unlock()
		for _, d := range out {
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err := wc.c.Write(wctx, websocket.MessageText, d)
			wcancel()
			if err != nil {
				wc.log.Error().Err(err).Msg("Error while writing to connection")
				wc.lock.Lock()
				wc.closeErr(err)
				wc.lock.Unlock()
				cancel()
				return
			}
		}
	}
}

// Push queues d for the write loop, dropping the oldest message when the
// client falls behind. It reports true once the client is closed.
func (wc *WebstreamClient) Push(data []byte) bool {
	wc.lock.Lock()
	if wc.closed {
		wc.lock.Unlock()
		return true
	}
	if len(wc.buf) >= wc.srv.config.BufferLen {
		copy(wc.buf, wc.buf[1:])
		wc.buf = wc.buf[:len(wc.buf)-1]
		atomic.AddUint64(&wc.skipped, 1)
	}
	wc.buf = append(wc.buf, data)
	wc.lock.Unlock()
	atomic.AddUint64(&wc.pushed, 1)
	select {
	case wc.notify <- struct{}{}:
	default:
	}
	return false
}
