package notify

import (
	"context"
	"encoding/json"

	"github.com/mustafaturan/bus/v3"
	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
)

// Publisher is the subset of a NATS connection used to republish events.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// NatsPublisher republishes bus events as JSON on <prefix>.<topic>.
type NatsPublisher struct {
	pub    Publisher
	prefix string
	log    log.Logger
}

func NewNatsPublisher(pub Publisher, prefix string) *NatsPublisher {
	n := &NatsPublisher{pub: pub, prefix: prefix}
	n.log = log.DefaultLogger
	n.log.Context = log.NewContext(nil).Str("module", "nats").Value()
	return n
}

// Connect dials the server and returns the publisher with its connection.
func Connect(url, name, prefix string) (*NatsPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, err
	}
	return NewNatsPublisher(nc, prefix), nc, nil
}

func (n *NatsPublisher) Subject(topic string) string {
	if n.prefix == "" {
		return topic
	}
	return n.prefix + "." + topic
}

// Handle is a bus handler.
func (n *NatsPublisher) Handle(ctx context.Context, e *bus.Event) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		n.log.Error().Err(err).Str("topic", e.Topic).Msg("error encoding event")
		return
	}
	if err := n.pub.Publish(n.Subject(e.Topic), data); err != nil {
		n.log.Warn().Err(err).Str("topic", e.Topic).Msg("error publishing event")
	}
}
