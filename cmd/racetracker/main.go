package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/aggregate"
	"nuha.dev/racetracker/internal/broker"
	"nuha.dev/racetracker/internal/config"
	"nuha.dev/racetracker/internal/course"
	"nuha.dev/racetracker/internal/eventbus"
	"nuha.dev/racetracker/internal/ingest"
	"nuha.dev/racetracker/internal/notify"
	"nuha.dev/racetracker/internal/ranking"
	"nuha.dev/racetracker/internal/service"
	"nuha.dev/racetracker/internal/store"
	"nuha.dev/racetracker/internal/store/impl/filestore"
	"nuha.dev/racetracker/internal/store/impl/logstore"
	"nuha.dev/racetracker/internal/store/impl/memstore"
	"nuha.dev/racetracker/internal/store/impl/pgstore"
	"nuha.dev/racetracker/internal/sublist"
	"nuha.dev/racetracker/internal/tracking"
	"nuha.dev/racetracker/internal/util"
	"nuha.dev/racetracker/internal/webapp"
	"nuha.dev/racetracker/internal/webapp/monitoring"
	ws "nuha.dev/racetracker/internal/webapp/webstream"
)

func main() {
	config_path := flag.String("config", "", "config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*config_path)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load configuration")
	}
	cfg.ApplyLogLevel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var courses store.CourseStore
	var history store.ProgressLog
	var bibs service.BibLookup
	var writer *pgstore.ProgressWriter
	switch cfg.Courses.Store {
	case "postgres":
		pool, err := pgxpool.Connect(ctx, cfg.DB.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to connect to database")
		}
		defer pool.Close()
		cs := pgstore.NewCourseStore(pool)
		courses, bibs = cs, cs
		writer = pgstore.NewProgressWriter(pool, &pgstore.WriterConfig{BufSize: cfg.DB.BufSize, TickerDur: cfg.DB.FlushInterval, MaxAgeFlush: cfg.DB.FlushInterval})
		history = writer
	case "file":
		fs := filestore.New(cfg.Courses.Dir)
		courses, bibs = fs, fs
		history = logstore.NewStore()
	}

	b, err := eventbus.New(cfg.Bus.Node)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create event bus")
	}

	cache := course.NewCache(courses)
	tracker := tracking.NewTracker(cache, courses, course.NewMapper(cfg.Tracking.Mapper()), cfg.Tracking.Tracker())
	svc := service.New(service.Deps{
		Tracker: tracker,
		Roster:  courses,
		Ranking: ranking.NewEngine(tracker),
		Agg:     aggregate.New(cfg.Aggregate.Aggregator()),
		Hot:     memstore.New(),
		History: history,
		Bus:     b,
		Follow:  util.NewFollowCodec(cfg.FollowCode.Salt, cfg.FollowCode.MinLength),
		Bibs:    bibs,
	}, service.Config{SweepInterval: cfg.Tracking.SweepInterval})
	if err := svc.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("unable to restore progress")
	}

	wg := sync.WaitGroup{}
	run := func(name string, f func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(ctx); err != nil {
				log.Error().Err(err).Str("component", name).Msg("component stopped")
				stop()
			}
		}()
	}

	if writer != nil {
		writer.Run(ctx)
	}
	run("sweeper", func(ctx context.Context) error { svc.Run(ctx); return nil })

	if cfg.Nats.URL != "" {
		np, nc, err := notify.Connect(cfg.Nats.URL, cfg.Nats.Name, cfg.Nats.Prefix)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to connect to nats")
		}
		defer nc.Close()
		eventbus.Handle(b, "nats", ".*", np.Handle)
	}
	if cfg.Telegram.Token != "" {
		tg, err := notify.DialTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to reach telegram")
		}
		eventbus.Handle(b, "telegram", "^session\\.changed$", tg.Handle)
		run("telegram", func(ctx context.Context) error { tg.Run(ctx); return nil })
	}
	if cfg.Broker.Enabled {
		br := broker.NewBroker(&broker.BrokerConfig{Addr: cfg.Broker.ListenAddr, BufSize: cfg.Broker.BufSize, TimerDur: cfg.Broker.FlushInterval})
		eventbus.Handle(b, "broker", "^checkpoint\\.crossed$", br.Handle)
		run("broker", br.Run)
	}

	var srv *ingest.Server
	if cfg.Ingest.Enabled {
		srv = ingest.NewServer(svc, &ingest.ServerConfig{
			ListenerAddr: cfg.Ingest.ListenAddr,
			LoginTimeout: cfg.Ingest.LoginTimeout,
			IdleTimeout:  cfg.Ingest.IdleTimeout,
			TunnelAddr:   cfg.Ingest.TunnelAddr,
			TunnelToken:  cfg.Ingest.TunnelToken,
		})
		run("ingest", srv.Run)
		if cfg.Ingest.TunnelAddr != "" {
			run("tunnel", func(ctx context.Context) error { srv.RunTunnel(ctx); return nil })
		}
	}
	if cfg.Webstream.Enabled {
		wss := ws.NewWebstream(svc, sublist.NewSublistMap(), ws.WebStreamConfig{
			ListenAddr:       cfg.Webstream.ListenAddr,
			PushInterval:     cfg.Webstream.PushInterval,
			MaxSubscriptions: cfg.Webstream.MaxSubscriptions,
			BufferLen:        cfg.Webstream.BufferLen,
		})
		run("webstream", wss.Run)
	}
	if cfg.Api.Enabled {
		api := webapp.NewApi(svc, &webapp.ApiConfig{ListenAddr: cfg.Api.ListenAddr, AllowedOrigins: cfg.Api.AllowedOrigins})
		run("api", api.Run)
	}
	if cfg.Monitoring.Enabled && srv != nil {
		mon := monitoring.NewMonApi(srv, cache, &monitoring.MonitoringConfig{ListenAddr: cfg.Monitoring.ListenAddr})
		run("monitoring", mon.Run)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	wg.Wait()
	if writer != nil {
		<-writer.Done()
	}
}
