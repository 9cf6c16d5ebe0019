package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nuha.dev/racetracker/internal/aggregate"
	"nuha.dev/racetracker/internal/ranking"
	"nuha.dev/racetracker/internal/service"
	"nuha.dev/racetracker/internal/tracking"
	"nuha.dev/racetracker/internal/util"
	"nuha.dev/racetracker/internal/webapp/common"
)

type fakeService struct {
	err  error
	ping tracking.Ping
	zoom int
}

func (f *fakeService) IngestPing(ctx context.Context, p tracking.Ping) (tracking.Result, error) {
	f.ping = p
	if f.err != nil {
		return tracking.Result{}, f.err
	}
	return tracking.Result{Outcome: tracking.Accepted, Progress: tracking.ParticipantProgress{Status: tracking.IN_PROGRESS, Distance: 42}}, nil
}

func (f *fakeService) RealtimeView(ctx context.Context, courseID string, zoom int) (aggregate.View, error) {
	f.zoom = zoom
	return aggregate.View{CourseID: courseID, Zoom: zoom, Participants: []aggregate.Point{{ParticipantID: "p1", Count: 1}}}, f.err
}

func (f *fakeService) Standings(ctx context.Context, courseID string) (ranking.Standings, error) {
	return ranking.Standings{CourseID: courseID}, f.err
}

func (f *fakeService) Progress(ctx context.Context, courseID, participantID string) (tracking.ParticipantProgress, error) {
	return tracking.ParticipantProgress{CourseID: courseID, ParticipantID: participantID}, f.err
}

func (f *fakeService) Start(ctx context.Context, courseID, participantID string, at time.Time) (tracking.ParticipantProgress, error) {
	return tracking.ParticipantProgress{CourseID: courseID, ParticipantID: participantID, Status: tracking.STARTED, StartedAt: at}, f.err
}

func (f *fakeService) Pause(ctx context.Context, courseID, participantID string) (tracking.Transition, error) {
	return tracking.Transition{From: tracking.IN_PROGRESS, To: tracking.PAUSED}, f.err
}

func (f *fakeService) Resume(ctx context.Context, courseID, participantID string) (tracking.Transition, error) {
	return tracking.Transition{From: tracking.PAUSED, To: tracking.IN_PROGRESS}, f.err
}

func (f *fakeService) Stop(ctx context.Context, courseID, participantID string) (tracking.Transition, error) {
	return tracking.Transition{From: tracking.IN_PROGRESS, To: tracking.STOPPED}, f.err
}

func (f *fakeService) FollowCode(ctx context.Context, courseID, participantID string) (string, error) {
	return "abc123", f.err
}

func (f *fakeService) FollowParticipant(ctx context.Context, courseID, code string) (tracking.ParticipantProgress, error) {
	return tracking.ParticipantProgress{CourseID: courseID}, f.err
}

func post(t *testing.T, srv *httptest.Server, name, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/func/"+name, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, b
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewApi(&fakeService{}, &ApiConfig{}).Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz %d", resp.StatusCode)
	}
}

func TestRealtimeViewZoomValidation(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(NewApi(svc, &ApiConfig{}).Handler())
	defer srv.Close()

	for _, body := range []string{`{"course_id":"10k","zoom":0}`, `{"course_id":"10k","zoom":21}`, `{"course_id":"10k"}`, `{"zoom":5}`, `{bad`} {
		resp, _ := post(t, srv, "GetRealtimeView", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d", body, resp.StatusCode)
		}
	}

	resp, b := post(t, srv, "GetRealtimeView", `{"course_id":"10k","zoom":20}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	var v aggregate.View
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatal(err)
	}
	if v.Zoom != 20 || len(v.Participants) != 1 || svc.zoom != 20 {
		t.Errorf("unexpected view %+v", v)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing request id")
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: latitude", tracking.ErrMalformedPing), http.StatusBadRequest},
		{service.ErrInvalidArgument, http.StatusBadRequest},
		{fmt.Errorf("lookup: %w", tracking.ErrUnknownParticipant), http.StatusNotFound},
		{util.ErrBadFollowCode, http.StatusNotFound},
		{tracking.ErrSessionClosed, http.StatusConflict},
		{tracking.ErrInvalidTransition, http.StatusConflict},
		{tracking.ErrOutlierPing, http.StatusUnprocessableEntity},
		{tracking.ErrCourseUnavailable, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := StatusOf(c.err); got != c.want {
			t.Errorf("%v: got %d want %d", c.err, got, c.want)
		}
	}

	svc := &fakeService{err: tracking.ErrSessionClosed}
	srv := httptest.NewServer(NewApi(svc, &ApiConfig{}).Handler())
	defer srv.Close()
	resp, b := post(t, srv, "StopSession", `{"course_id":"10k","participant_id":"p1"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status %d", resp.StatusCode)
	}
	var br common.BasicResponse
	if err := json.Unmarshal(b, &br); err != nil || br.Status != http.StatusConflict || br.Message == "" {
		t.Errorf("body %s", b)
	}

	svc.err = errors.New("disk on fire")
	resp, b = post(t, srv, "GetStandings", `{"course_id":"10k"}`)
	if resp.StatusCode != http.StatusInternalServerError || strings.Contains(string(b), "disk") {
		t.Errorf("unclassified error leaked: %d %s", resp.StatusCode, b)
	}
}

func TestIngestPing(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(NewApi(svc, &ApiConfig{}).Handler())
	defer srv.Close()

	resp, b := post(t, srv, "IngestPing", `{"participant_id":"p1","course_id":"10k","latitude":0,"longitude":10,"timestamp":"2026-06-01T07:00:00Z"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	if svc.ping.Latitude != 0 || svc.ping.Longitude != 10 || svc.ping.Timestamp.Hour() != 7 {
		t.Errorf("ping %+v", svc.ping)
	}
	if !strings.Contains(string(b), `"outcome":"accepted"`) {
		t.Errorf("body %s", b)
	}

	for _, body := range []string{
		`{"participant_id":"p1","course_id":"10k","latitude":91,"longitude":10,"timestamp":"2026-06-01T07:00:00Z"}`,
		`{"participant_id":"p1","course_id":"10k","longitude":10,"timestamp":"2026-06-01T07:00:00Z"}`,
		`{"participant_id":"p1","course_id":"10k","latitude":1,"longitude":10}`,
		`{"participant_id":"p1","course_id":"10k","latitude":1,"longitude":10,"heading":360,"timestamp":"2026-06-01T07:00:00Z"}`,
	} {
		if resp, _ := post(t, srv, "IngestPing", body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d", body, resp.StatusCode)
		}
	}

	if resp, _ := post(t, srv, "NoSuchFunc", `{}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown func status %d", resp.StatusCode)
	}
}
