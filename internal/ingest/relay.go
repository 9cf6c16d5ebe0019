package ingest

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	yamux "github.com/hashicorp/yamux"
	"github.com/phuslu/log"
)

// RelayConfig configures the public side of a tunnel. Devices connect to
// ExternalAddr; the tracker dials TunnelAddr and authenticates with Token.
type RelayConfig struct {
	ExternalAddr string
	TunnelAddr   string
	Token        string
	TLS          *tls.Config
}

// Relay forwards device connections over a yamux session opened by the
// tracker, so the tracker itself needs no public address. Each stream
// starts with the device address followed by a newline.
type Relay struct {
	config  *RelayConfig
	log     log.Logger
	mu      sync.Mutex
	session *yamux.Session
}

func NewRelay(config *RelayConfig) *Relay {
	r := &Relay{config: config}
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "relay").Value()
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	var tln net.Listener
	var err error
	if r.config.TLS != nil {
		r.log.Info().Msgf("starting tls tunnel listener on %s", r.config.TunnelAddr)
		tln, err = tls.Listen("tcp", r.config.TunnelAddr, r.config.TLS)
	} else {
		r.log.Info().Msgf("starting non-tls tunnel listener on %s", r.config.TunnelAddr)
		tln, err = net.Listen("tcp", r.config.TunnelAddr)
	}
	if err != nil {
		return err
	}
	eln, err := net.Listen("tcp", r.config.ExternalAddr)
	if err != nil {
		tln.Close()
		return err
	}
	r.log.Info().Msgf("accepting devices on %s", r.config.ExternalAddr)
	return r.Serve(ctx, tln, eln)
}

func (r *Relay) Serve(ctx context.Context, tln, eln net.Listener) error {
	go func() {
		<-ctx.Done()
		tln.Close()
		eln.Close()
		r.mu.Lock()
		if r.session != nil {
			r.session.Close()
		}
		r.mu.Unlock()
	}()
	go func() {
		for {
			yconn, err := tln.Accept()
			if err != nil {
				return
			}
			go r.authenticate(yconn)
		}
	}()
	for {
		conn, err := eln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go r.forward(conn)
	}
}

func (r *Relay) authenticate(yconn net.Conn) {
	token := make([]byte, 20)
	_ = yconn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := yconn.Read(token)
	if err != nil {
		r.log.Warn().Err(err).Str("remote", yconn.RemoteAddr().String()).Msg("error reading tunnel token")
		yconn.Close()
		return
	}
	if r.config.Token != string(token[:n]) {
		r.log.Warn().Str("remote", yconn.RemoteAddr().String()).Msg("invalid tunnel token")
		_, _ = yconn.Write([]byte{'-'})
		yconn.Close()
		return
	}
	_ = yconn.SetReadDeadline(time.Time{})
	if _, err := yconn.Write([]byte{'+'}); err != nil {
		yconn.Close()
		return
	}
	session, err := yamux.Server(yconn, nil)
	if err != nil {
		r.log.Error().Err(err).Msg("error creating tunnel session")
		yconn.Close()
		return
	}
	r.mu.Lock()
	old := r.session
	r.session = session
	r.mu.Unlock()
	if old != nil {
		old.Close()
	}
	r.log.Info().Str("remote", yconn.RemoteAddr().String()).Msg("tunnel established")
}

func (r *Relay) forward(conn net.Conn) {
	defer conn.Close()
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil || session.IsClosed() {
		r.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("no tunnel, dropping connection")
		return
	}
	tstream, err := session.OpenStream()
	if err != nil {
		r.log.Error().Err(err).Msg("error opening stream")
		return
	}
	c := make(chan error, 1)
	go func() {
		fmt.Fprintf(tstream, "%s\n", conn.RemoteAddr())
		_, err := io.Copy(tstream, conn)
		tstream.Close()
		c <- err
	}()
	if _, err := io.Copy(conn, tstream); err != nil {
		r.log.Debug().Err(err).Int("stream", int(tstream.StreamID())).Msg("stream closed")
	}
	conn.Close()
	<-c
}
