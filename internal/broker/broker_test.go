package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/mustafaturan/bus/v3"
	"nuha.dev/racetracker/internal/tracking"
)

func TestFeedFiltersByCourse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	br := NewBroker(&BrokerConfig{BufSize: 1, TimerDur: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go br.Serve(ctx, ln)

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Write([]byte("city-10k\n")); err != nil {
		t.Fatal(err)
	}

	// keep broadcasting until the client has subscribed and the line arrives
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				br.Handle(ctx, &bus.Event{Data: &tracking.CrossingEvent{CourseID: "other", ParticipantID: "x"}})
				br.Handle(ctx, &bus.Event{Data: &tracking.CrossingEvent{CourseID: "city-10k", ParticipantID: "p1", CheckpointIndex: 1}})
			}
		}
	}()

	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	r := bufio.NewReader(c)
	for i := 0; i < 3; i++ {
		line, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatal(err)
		}
		var ev tracking.CrossingEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.CourseID != "city-10k" || ev.ParticipantID != "p1" {
			t.Errorf("received crossing for %s/%s", ev.CourseID, ev.ParticipantID)
		}
	}
}

func TestSlowClientSkipsAreCounted(t *testing.T) {
	br := NewBroker(&BrokerConfig{})
	bc := &brokerConn{br: br, logger: br.logger}
	bc.advance(0, 1)
	bc.advance(1, 2)
	if n := br.Skipped(); n != 0 {
		t.Fatalf("consecutive batches counted %d skipped", n)
	}
	bc.advance(2, 5)
	if n := br.Skipped(); n != 2 {
		t.Errorf("skipped %d batches, want 2", n)
	}
}
