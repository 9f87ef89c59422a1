// Package notify announces freshly written region artifacts.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/sells-group/gridclimate/internal/config"
)

// ArtifactEvent says a region summary was replaced.
type ArtifactEvent struct {
	Region    string    `json:"region"`
	Period    string    `json:"period"`
	Location  string    `json:"location"`
	WrittenAt time.Time `json:"written_at"`
}

// Publisher delivers artifact events. Callers log publish failures and move
// on; a notification never decides whether a run succeeded.
type Publisher interface {
	Publish(ctx context.Context, events ...ArtifactEvent) error
	Close() error
}

// Open returns a Kafka publisher when brokers are configured and a no-op
// publisher otherwise.
func Open(cfg config.NotifyConfig) Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return Nop{}
	}
	return NewKafka(cfg)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, ...ArtifactEvent) error { return nil }
func (Nop) Close() error                                    { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Kafka produces one message per event, keyed by region so a compacted
// topic keeps the latest artifact per region.
type Kafka struct {
	writer messageWriter
}

// NewKafka creates a producer for cfg.KafkaTopic.
func NewKafka(cfg config.NotifyConfig) *Kafka {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Kafka{writer: w}
}

func (k *Kafka) Publish(ctx context.Context, events ...ArtifactEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := toMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return eris.Wrapf(err, "notify: publish %d event(s)", len(events))
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func toMessage(ev ArtifactEvent) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, eris.Wrap(err, "notify: serialize artifact event")
	}
	return kafkago.Message{
		Key:   []byte(ev.Region),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "period", Value: []byte(ev.Period)},
			{Key: "written_at", Value: []byte(ev.WrittenAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
