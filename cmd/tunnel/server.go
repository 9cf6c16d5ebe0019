package main

import (
	"context"
	"crypto/tls"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/ingest"
)

func main() {
	eaddr := flag.String("eaddr", ":5555", "address for device connections")
	taddr := flag.String("taddr", ":5556", "address for the tracker tunnel")
	secret := flag.String("token", "token", "tunnel token, at most 20 bytes")
	certfile := flag.String("cert", "", "tls certificate file")
	keyfile := flag.String("key", "", "tls key file")
	flag.Parse()

	config := &ingest.RelayConfig{ExternalAddr: *eaddr, TunnelAddr: *taddr, Token: *secret}
	if *certfile != "" || *keyfile != "" {
		cert, err := tls.LoadX509KeyPair(*certfile, *keyfile)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to load certificate")
		}
		config.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := ingest.NewRelay(config).Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
}
