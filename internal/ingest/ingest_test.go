package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"nuha.dev/racetracker/internal/tracking"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"participant_id":"p1","course_id":"c"}`)
	if err := WriteMessage(&buf, LOGIN, payload); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	if raw[0] != 0x99 || raw[1] != LOGIN || int(raw[2])|int(raw[3])<<8 != len(payload) || raw[len(raw)-1] != '\n' {
		t.Fatalf("unexpected frame % x", raw)
	}
	msg := NewFrameMessage()
	if err := ReadMessage(&buf, msg); err != nil {
		t.Fatal(err)
	}
	if msg.Protocol != LOGIN || !bytes.Equal(msg.Payload, payload) {
		t.Errorf("decoded %x %q", msg.Protocol, msg.Payload)
	}
}

func TestReadMessageRejects(t *testing.T) {
	cases := map[string][]byte{
		"start byte": {0x78, 0x01, 0x00, 0x00, '\n'},
		"terminator": {0x99, 0x01, 0x01, 0x00, 'x', 'y'},
		"too long":   {0x99, 0x01, 0xff, 0xff},
	}
	for name, raw := range cases {
		if err := ReadMessage(bytes.NewReader(raw), NewFrameMessage()); err == nil {
			t.Errorf("%s: frame accepted", name)
		}
	}
}

func TestAckCode(t *testing.T) {
	cases := []struct {
		res  tracking.Result
		err  error
		want byte
	}{
		{tracking.Result{Outcome: tracking.Accepted}, nil, AckAccepted},
		{tracking.Result{Outcome: tracking.Dropped}, nil, AckDropped},
		{tracking.Result{}, fmt.Errorf("%w: lat", tracking.ErrMalformedPing), AckMalformed},
		{tracking.Result{}, fmt.Errorf("%w: fast", tracking.ErrOutlierPing), AckOutlier},
		{tracking.Result{}, tracking.ErrUnknownParticipant, AckUnknown},
		{tracking.Result{}, tracking.ErrCourseUnavailable, AckUnavailable},
		{tracking.Result{}, tracking.ErrSessionClosed, AckClosed},
		{tracking.Result{}, errors.New("boom"), AckError},
	}
	for _, c := range cases {
		if got := AckCode(c.res, c.err); got != c.want {
			t.Errorf("%v: got %d want %d", c.err, got, c.want)
		}
	}
}

type fakeIngestor struct {
	mu    sync.Mutex
	pings []tracking.Ping
}

func (f *fakeIngestor) CheckParticipant(ctx context.Context, courseID, participantID string) error {
	if participantID == "ghost" {
		return fmt.Errorf("%w: %s", tracking.ErrUnknownParticipant, participantID)
	}
	return nil
}

func (f *fakeIngestor) IngestPing(ctx context.Context, p tracking.Ping) (tracking.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.pings {
		if !p.Timestamp.After(q.Timestamp) {
			return tracking.Result{Outcome: tracking.Dropped}, nil
		}
	}
	f.pings = append(f.pings, p)
	return tracking.Result{Outcome: tracking.Accepted}, nil
}

func readAck(t *testing.T, c net.Conn) byte {
	t.Helper()
	msg := NewFrameMessage()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ReadMessage(c, msg); err != nil {
		t.Fatal(err)
	}
	if msg.Protocol != ACK || len(msg.Payload) != 1 {
		t.Fatalf("unexpected reply %x % x", msg.Protocol, msg.Payload)
	}
	return msg.Payload[0]
}

func TestServerSession(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	svc := &fakeIngestor{}
	s := NewServer(svc, &ServerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx, ln)

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	login, _ := json.Marshal(LoginMessage{ParticipantID: "p1", CourseID: "city-10k"})
	if err := WriteMessage(c, LOGIN, login); err != nil {
		t.Fatal(err)
	}
	if code := readAck(t, c); code != AckAccepted {
		t.Fatalf("login ack %d", code)
	}

	ts := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	loc, _ := json.Marshal(LocationMessage{GpsTime: ts, Latitude: -6.2, Longitude: 106.8})
	for _, want := range []byte{AckAccepted, AckDropped} {
		if err := WriteMessage(c, LOCATION_UPDATE, loc); err != nil {
			t.Fatal(err)
		}
		if code := readAck(t, c); code != want {
			t.Errorf("location ack %d, want %d", code, want)
		}
	}
	if err := WriteMessage(c, LOCATION_UPDATE, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if code := readAck(t, c); code != AckMalformed {
		t.Errorf("bad payload ack %d", code)
	}

	cl := s.Clients()
	if len(cl) != 1 || cl[0].ParticipantID != "p1" || cl[0].Accepted != 2 || cl[0].Rejected != 1 || cl[0].ByteIn == 0 {
		t.Errorf("unexpected clients %+v", cl)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.pings) != 1 || svc.pings[0].ParticipantID != "p1" || svc.pings[0].CourseID != "city-10k" {
		t.Errorf("unexpected pings %+v", svc.pings)
	}
}

func TestServerRefusesUnknownLogin(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(&fakeIngestor{}, &ServerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx, ln)

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	login, _ := json.Marshal(LoginMessage{ParticipantID: "ghost", CourseID: "city-10k"})
	if err := WriteMessage(c, LOGIN, login); err != nil {
		t.Fatal(err)
	}
	if code := readAck(t, c); code != AckUnknown {
		t.Fatalf("login ack %d, want %d", code, AckUnknown)
	}
	// the server hangs up after refusing
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ReadMessage(c, NewFrameMessage()); err == nil {
		t.Error("connection still open after refused login")
	}
	if cl := s.Clients(); len(cl) != 0 {
		t.Errorf("refused login registered %+v", cl)
	}
}
