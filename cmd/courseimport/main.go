package main

import (
	"context"
	"flag"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/config"
	"nuha.dev/racetracker/internal/store/impl/filestore"
	"nuha.dev/racetracker/internal/store/impl/pgstore"
)

func main() {
	config_path := flag.String("config", "", "config file")
	init_schema := flag.Bool("init", false, "create tables before importing")
	flag.Parse()

	cfg, err := config.Load(*config_path)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load configuration")
	}
	cfg.ApplyLogLevel()
	ctx := context.Background()
	pool, err := pgxpool.Connect(ctx, cfg.DB.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer pool.Close()

	if *init_schema {
		if _, err := pool.Exec(ctx, pgstore.Schema); err != nil {
			log.Fatal().Err(err).Msg("unable to create schema")
		}
		log.Info().Msg("schema ready")
	}

	cs := pgstore.NewCourseStore(pool)
	for _, path := range flag.Args() {
		f, err := filestore.ReadCourseFile(path)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid course file")
		}
		if err := cs.ImportCourse(ctx, f.Definition(), f.Participants); err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("import failed")
		}
	}
}
