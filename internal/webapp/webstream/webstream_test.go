package webstream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"nuha.dev/racetracker/internal/aggregate"
	"nuha.dev/racetracker/internal/sublist"
)

type fakeViewer struct{}

func (fakeViewer) RealtimeView(ctx context.Context, courseID string, zoom int) (aggregate.View, error) {
	if courseID != "10k" {
		return aggregate.View{}, errors.New("unknown course")
	}
	return aggregate.View{CourseID: courseID, Zoom: zoom, Participants: []aggregate.Point{}}, nil
}

type reply struct {
	aggregate.View
	Error string `json:"error"`
}

func dial(t *testing.T, ws *WebstreamServer) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(ws.Handler())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	cancel()
	if err != nil {
		srv.Close()
		t.Fatal(err)
	}
	return c, func() {
		c.Close(websocket.StatusNormalClosure, "")
		srv.Close()
	}
}

func roundtrip(t *testing.T, c *websocket.Conn, cmd Command) reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c, cmd); err != nil {
		t.Fatal(err)
	}
	return read(t, c)
}

func read(t *testing.T, c *websocket.Conn) reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var r reply
	if err := wsjson.Read(ctx, c, &r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSubscribeAndPush(t *testing.T) {
	subs := sublist.NewSublistMap()
	ws := NewWebstream(fakeViewer{}, subs, WebStreamConfig{})
	c, done := dial(t, ws)
	defer done()

	r := roundtrip(t, c, Command{Action: CSub, CourseId: "10k", Zoom: 12})
	if r.Error != "" || r.CourseID != "10k" || r.Zoom != 12 {
		t.Fatalf("first view %+v", r)
	}
	if keys := subs.Keys(); len(keys) != 1 || keys[0] != "10k" {
		t.Errorf("keys %v", keys)
	}

	ws.PushAll(context.Background())
	if r := read(t, c); r.Zoom != 12 {
		t.Errorf("pushed view %+v", r)
	}

	// resubscribing replaces the zoom level
	if r := roundtrip(t, c, Command{Action: CSub, CourseId: "10k", Zoom: 5}); r.Zoom != 5 {
		t.Errorf("resubscribe %+v", r)
	}
	sl, _ := subs.GetSublist("10k", false)
	if z := sl.Zooms(); len(z) != 1 || z[0] != 5 {
		t.Errorf("zooms %v", z)
	}
}

func TestRejectedCommands(t *testing.T) {
	subs := sublist.NewSublistMap()
	ws := NewWebstream(fakeViewer{}, subs, WebStreamConfig{})
	c, done := dial(t, ws)
	defer done()

	for _, cmd := range []Command{
		{Action: CSub, CourseId: "10k", Zoom: 0},
		{Action: CSub, CourseId: "10k", Zoom: 21},
		{Action: "watch", CourseId: "10k", Zoom: 3},
		{Action: CSub, CourseId: "", Zoom: 3},
		{Action: CSub, CourseId: "nope", Zoom: 3},
	} {
		if r := roundtrip(t, c, cmd); r.Error == "" {
			t.Errorf("%+v accepted", cmd)
		}
	}
	if keys := subs.Keys(); len(keys) != 0 {
		t.Errorf("rejected commands left subscriptions %v", keys)
	}

	roundtrip(t, c, Command{Action: CSub, CourseId: "10k", Zoom: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c, Command{Action: CUnsub, CourseId: "10k"}); err != nil {
		t.Fatal(err)
	}
	// commands are handled in order, so this reply means the unsubscribe is done
	roundtrip(t, c, Command{Action: CSub, CourseId: "nope", Zoom: 3})
	if keys := subs.Keys(); len(keys) != 0 {
		t.Errorf("keys after unsubscribe %v", keys)
	}
}
