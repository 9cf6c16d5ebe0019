package webapp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/util"
	"nuha.dev/racetracker/internal/webapp/race"
)

type ApiConfig struct {
	ListenAddr     string
	AllowedOrigins []string
}

type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    log.Logger
}

func NewApi(svc race.Service, config *ApiConfig) *Api {
	api := &Api{config: config}
	api.log = log.DefaultLogger
	api.log.Context = log.NewContext(nil).Str("module", "api-server").Value()
	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Recoverer)

	disp := NewDispatcher()
	race_api := race.NewRaceApi(svc)
	disp.Add("IngestPing", race_api.IngestPing)
	disp.Add("GetRealtimeView", race_api.GetRealtimeView)
	disp.Add("GetStandings", race_api.GetStandings)
	disp.Add("GetProgress", race_api.GetProgress)
	disp.Add("StartSession", race_api.StartSession)
	disp.Add("PauseSession", race_api.PauseSession)
	disp.Add("ResumeSession", race_api.ResumeSession)
	disp.Add("StopSession", race_api.StopSession)
	disp.Add("GetFollowCode", race_api.GetFollowCode)
	disp.Add("FollowParticipant", race_api.FollowParticipant)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		util.JsonWrite(w, map[string]string{"status": "ok"})
	})
	r.Post("/func/{name}", func(w http.ResponseWriter, r *http.Request) {
		disp.Call(chi.URLParam(r, "name"), w, r)
	})

	api.r = r
	api.s = &http.Server{
		Addr:           api.config.ListenAddr,
		Handler:        api.r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Handler() http.Handler { return api.r }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (api *Api) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		api.s.Shutdown(sctx)
	}()
	api.log.Info().Msgf("starting api-server on : %s", api.s.Addr)
	err := api.s.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		api.log.Error().Err(err).Msg("")
		return err
	}
	return nil
}
