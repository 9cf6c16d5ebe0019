package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	yamux "github.com/hashicorp/yamux"
	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
	"nuha.dev/racetracker/internal/tracking"
)

const (
	NEW_CONNECTION      string = "new_connection"
	LOGIN_MESSAGE       string = "login_message"
	LOGIN_MESSAGE_ERROR string = "login_message_error"
	CONNECTION_CLOSED   string = "connection_closed"
)

// Ingestor accepts pings; the race service implements it.
type Ingestor interface {
	// CheckParticipant fails with tracking.ErrUnknownParticipant when the
	// participant is not on the course roster.
	CheckParticipant(ctx context.Context, courseID, participantID string) error
	IngestPing(ctx context.Context, p tracking.Ping) (tracking.Result, error)
}

type ServerConfig struct {
	ListenerAddr string
	LoginTimeout time.Duration
	IdleTimeout  time.Duration
	TunnelAddr   string
	TunnelToken  string
}

type Server struct {
	mu          sync.Mutex
	log         log.Logger
	config      *ServerConfig
	svc         Ingestor
	cid_counter uint64
	listener    net.Listener
	sessions    map[uint64]*deviceSession
}

type ClientStatus struct {
	Cid           uint64    `json:"cid"`
	Socket        []string  `json:"socket"`
	ParticipantID string    `json:"participant_id"`
	CourseID      string    `json:"course_id"`
	Connected     time.Time `json:"connected"`
	LastMessage   time.Time `json:"last_message"`
	ByteIn        uint64    `json:"byte_in"`
	ByteOut       uint64    `json:"byte_out"`
	Accepted      uint64    `json:"accepted"`
	Rejected      uint64    `json:"rejected"`
}

func NewServer(svc Ingestor, config *ServerConfig) *Server {
	s := &Server{svc: svc, config: config, sessions: make(map[uint64]*deviceSession)}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "ingest").Value()
	if s.config.LoginTimeout <= 0 {
		s.config.LoginTimeout = 5 * time.Second
	}
	if s.config.IdleTimeout <= 0 {
		s.config.IdleTimeout = 5 * time.Minute
	}
	return s
}

// AckCode classifies the outcome of one ping for the device.
func AckCode(res tracking.Result, err error) byte {
	switch {
	case err == nil && res.Outcome == tracking.Dropped:
		return AckDropped
	case err == nil:
		return AckAccepted
	case errors.Is(err, tracking.ErrMalformedPing):
		return AckMalformed
	case errors.Is(err, tracking.ErrOutlierPing):
		return AckOutlier
	case errors.Is(err, tracking.ErrUnknownParticipant):
		return AckUnknown
	case errors.Is(err, tracking.ErrCourseUnavailable):
		return AckUnavailable
	case errors.Is(err, tracking.ErrSessionClosed):
		return AckClosed
	default:
		return AckError
	}
}

// Run listens on ListenerAddr behind a PROXY protocol aware listener.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().Msgf("starting ingest server on %s", s.config.ListenerAddr)
	ln, err := net.Listen("tcp", s.config.ListenerAddr)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to listen")
		return err
	}
	return s.Serve(ctx, &proxyproto.Listener{Listener: ln})
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		_c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error().Err(err).Msg("failed to accept new connection")
			return err
		}
		c := NewConn(_c, atomic.AddUint64(&s.cid_counter, 1))
		s.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Msg("")
		go s.handle(ctx, c)
	}
}

// RunTunnel keeps a yamux session to a relay open and serves every stream
// the relay opens as a device connection.
func (s *Server) RunTunnel(ctx context.Context) {
	for ctx.Err() == nil {
		err := s.tunnelOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Str("relay", s.config.TunnelAddr).Msg("tunnel down, retrying")
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *Server) tunnelOnce(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.config.TunnelAddr)
	if err != nil {
		return err
	}
	if _, err = conn.Write([]byte(s.config.TunnelToken)); err != nil {
		conn.Close()
		return err
	}
	reply := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(s.config.LoginTimeout))
	if _, err = io.ReadFull(conn, reply); err != nil {
		conn.Close()
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})
	if reply[0] != '+' {
		conn.Close()
		return fmt.Errorf("relay rejected token")
	}
	session, err := yamux.Client(conn, nil)
	if err != nil {
		conn.Close()
		return err
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		session.Close()
	}()
	s.log.Info().Str("relay", s.config.TunnelAddr).Msg("tunnel established")
	for {
		stream, err := session.Accept()
		if err != nil {
			return err
		}
		c := NewConn(stream, atomic.AddUint64(&s.cid_counter, 1))
		go func() {
			_ = c.SetReadDeadline(time.Now().Add(s.config.LoginTimeout))
			src, err := c.ReadString('\n')
			if err != nil {
				c.Close()
				return
			}
			c.SetSource(strings.TrimSpace(src))
			s.log.Info().Str("event", NEW_CONNECTION).Bool("tunnel", true).EmbedObject(c).Msg("")
			s.handle(ctx, c)
		}()
	}
}

type deviceSession struct {
	c        *Conn
	login    LoginMessage
	last     int64 // unix nanos of the last frame
	accepted uint64
	rejected uint64
}

func (h *deviceSession) status() ClientStatus {
	in, out := h.c.Stat()
	return ClientStatus{
		Cid:           h.c.cid,
		Socket:        h.c.tuple,
		ParticipantID: h.login.ParticipantID,
		CourseID:      h.login.CourseID,
		Connected:     h.c.created,
		LastMessage:   time.Unix(0, atomic.LoadInt64(&h.last)),
		ByteIn:        in,
		ByteOut:       out,
		Accepted:      atomic.LoadUint64(&h.accepted),
		Rejected:      atomic.LoadUint64(&h.rejected),
	}
}

// Clients lists logged in device connections ordered by connection id.
func (s *Server) Clients() []ClientStatus {
	s.mu.Lock()
	list := make([]*deviceSession, 0, len(s.sessions))
	for _, h := range s.sessions {
		list = append(list, h)
	}
	s.mu.Unlock()
	out := make([]ClientStatus, len(list))
	for i, h := range list {
		out[i] = h.status()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cid < out[j].Cid })
	return out
}

func (h *deviceSession) MarshalObject(e *log.Entry) {
	e.EmbedObject(h.c).Str("participant_id", h.login.ParticipantID).Str("course_id", h.login.CourseID)
}

func (s *Server) handle(ctx context.Context, c *Conn) {
	defer func() {
		in, out := c.Stat()
		s.log.Info().Str("event", CONNECTION_CLOSED).EmbedObject(c).Uint64("byte_in", in).Uint64("byte_out", out).Msg("")
		c.Close()
	}()
	h := &deviceSession{c: c}
	msg := NewFrameMessage()

	_ = c.SetReadDeadline(time.Now().Add(s.config.LoginTimeout))
	if err := ReadMessage(c, msg); err != nil {
		s.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("error reading login message")
		return
	}
	if msg.Protocol != LOGIN {
		s.log.Error().Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msgf("message type is not login, type : %x", msg.Protocol)
		return
	}
	if err := json.Unmarshal(msg.Payload, &h.login); err != nil || h.login.ParticipantID == "" || h.login.CourseID == "" {
		s.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("error parsing login message")
		_ = WriteMessage(c, ACK, []byte{AckMalformed})
		return
	}
	if err := s.svc.CheckParticipant(ctx, h.login.CourseID, h.login.ParticipantID); err != nil {
		s.log.Warn().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(h).Msg("login refused")
		_ = WriteMessage(c, ACK, []byte{AckCode(tracking.Result{}, err)})
		return
	}
	if err := WriteMessage(c, ACK, []byte{AckAccepted}); err != nil {
		return
	}
	s.log.Info().Str("event", LOGIN_MESSAGE).EmbedObject(h).Msg("")
	atomic.StoreInt64(&h.last, time.Now().UnixNano())
	s.mu.Lock()
	s.sessions[c.cid] = h
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, c.cid)
		s.mu.Unlock()
	}()

	for {
		_ = c.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		if err := ReadMessage(c, msg); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warn().Err(err).EmbedObject(h).Msg("error while reading message")
			}
			return
		}
		atomic.StoreInt64(&h.last, time.Now().UnixNano())
		switch msg.Protocol {
		case LOCATION_UPDATE:
			var loc LocationMessage
			code := AckMalformed
			if err := json.Unmarshal(msg.Payload, &loc); err != nil {
				s.log.Warn().Err(err).EmbedObject(h).Msg("error parsing location data")
			} else {
				res, err := s.svc.IngestPing(ctx, tracking.Ping{
					ParticipantID: h.login.ParticipantID,
					CourseID:      h.login.CourseID,
					Latitude:      loc.Latitude,
					Longitude:     loc.Longitude,
					Altitude:      loc.Altitude,
					Heading:       loc.Heading,
					Speed:         loc.Speed,
					Timestamp:     loc.GpsTime,
				})
				code = AckCode(res, err)
			}
			if code == AckAccepted || code == AckDropped {
				atomic.AddUint64(&h.accepted, 1)
			} else {
				atomic.AddUint64(&h.rejected, 1)
			}
			_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := WriteMessage(c, ACK, []byte{code}); err != nil {
				s.log.Warn().Err(err).EmbedObject(h).Msg("error writing ack")
				return
			}
		default:
			s.log.Debug().EmbedObject(h).Msgf("ignoring protocol %x", msg.Protocol)
		}
	}
}
