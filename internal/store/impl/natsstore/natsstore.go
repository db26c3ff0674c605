package natsstore

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
	"nuha.dev/formrelay/internal/submission"
)

type Config struct {
	URL     string `mapstructure:"url" validate:"required"`
	Subject string `mapstructure:"subject" validate:"required"`
}

// Publisher is the part of a NATS connection used by the store.
type Publisher interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Store publishes each record as a JSON message. Delivery is at most once,
// like the datagram hop in front of it.
type Store struct {
	config *Config
	pub    Publisher
	log    log.Logger
}

type message struct {
	Key      string                 `json:"key"`
	Received time.Time              `json:"received"`
	Fields   *submission.Submission `json:"fields"`
}

func Connect(config *Config) (*Store, error) {
	nc, err := nats.Connect(config.URL, nats.Name("formrelay-ingest"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("natsstore: connect: %w", err)
	}
	return New(config, nc), nil
}

func New(config *Config, pub Publisher) *Store {
	st := &Store{config: config, pub: pub, log: log.DefaultLogger}
	st.log.Context = log.NewContext(nil).Str("module", "natsstore").Str("subject", config.Subject).Value()
	return st
}

func (st *Store) Put(ctx context.Context, rec submission.Record) error {
	if rec.Data == nil {
		return fmt.Errorf("natsstore: record has no data")
	}
	b, err := submission.Encode(message{Key: rec.Key(), Received: rec.Received, Fields: rec.Data})
	if err != nil {
		return fmt.Errorf("natsstore: encode: %w", err)
	}
	if err := st.pub.Publish(st.config.Subject, b); err != nil {
		return fmt.Errorf("natsstore: publish: %w", err)
	}
	st.log.Debug().Str("key", rec.Key()).Int("size", len(b)).Msg("record published")
	return nil
}

func (st *Store) Close() error {
	err := st.pub.FlushTimeout(2 * time.Second)
	st.pub.Close()
	return err
}
