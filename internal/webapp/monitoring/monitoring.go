package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/ingest"
	"nuha.dev/racetracker/internal/util"
)

type ClientLister interface {
	Clients() []ingest.ClientStatus
}

type CourseLister interface {
	Loaded() []string
}

type MonitoringServer struct {
	clients ClientLister
	courses CourseLister
	server  *http.Server
	log     log.Logger
}

type MonitoringConfig struct {
	ListenAddr string
}

type Status struct {
	Clients []ingest.ClientStatus `json:"clients"`
	Courses []string              `json:"courses"`
	Time    time.Time             `json:"time"`
}

func NewMonApi(clients ClientLister, courses CourseLister, config *MonitoringConfig) *MonitoringServer {
	m := &MonitoringServer{clients: clients, courses: courses}
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "monitoring").Value()
	r := chi.NewRouter()
	r.Get("/", m.serve_http)
	r.Get("/clients", func(w http.ResponseWriter, r *http.Request) {
		util.JsonWrite(w, m.clients.Clients())
	})
	m.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return m
}

func (m *MonitoringServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		m.server.Close()
	}()
	m.log.Info().Msgf("starting monitoring server on : %s", m.server.Addr)
	err := m.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *MonitoringServer) serve_http(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, Status{Clients: m.clients.Clients(), Courses: m.courses.Loaded(), Time: time.Now()})
}

func (m *MonitoringServer) GetHandler() http.Handler {
	return m.server.Handler
}
