package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"nuha.dev/racetracker/internal/ingest"
)

type fakeClients []ingest.ClientStatus

func (f fakeClients) Clients() []ingest.ClientStatus { return f }

type fakeCourses []string

func (f fakeCourses) Loaded() []string { return f }

func TestStatus(t *testing.T) {
	m := NewMonApi(fakeClients{{Cid: 7, ParticipantID: "p1", CourseID: "10k"}}, fakeCourses{"10k"}, &MonitoringConfig{})
	srv := httptest.NewServer(m.GetHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if len(st.Clients) != 1 || st.Clients[0].Cid != 7 || len(st.Courses) != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}
