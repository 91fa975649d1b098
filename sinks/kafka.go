package sinks

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/models"
	"github.com/twmb/franz-go/pkg/kgo"
)

func init() {
	Register("kafka", NewKafkaSink)
}

// KafkaSink produces one message per record, keyed "sourceID:offset" so a
// compacted destination topic collapses replays to a single message per
// record.
type KafkaSink struct {
	name    string
	brokers []string
	topic   string

	client *kgo.Client
	logger zerolog.Logger
}

func NewKafkaSink(cfg Config) (Sink, error) {
	brokers, err := cfg.setting("bootstrap_servers")
	if err != nil {
		return nil, err
	}
	topic, err := cfg.setting("topic")
	if err != nil {
		return nil, err
	}
	return &KafkaSink{
		name:    cfg.Name,
		brokers: strings.Split(brokers, ","),
		topic:   topic,
		logger:  logger.GetLogger("sink-kafka"),
	}, nil
}

func (s *KafkaSink) Name() string { return s.name }

func (s *KafkaSink) Open(ctx context.Context) error {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.brokers...),
		kgo.DefaultProduceTopic(s.topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return &SinkError{Sink: s.name, Err: err}
	}
	s.client = client
	s.logger.Debug().Str("sink", s.name).Str("topic", s.topic).Msg("opened kafka sink")
	return nil
}

func (s *KafkaSink) Write(ctx context.Context, b *models.Batch) error {
	records := make([]*kgo.Record, 0, b.Len())
	for _, rec := range b.Records() {
		data, err := rec.DataJSON()
		if err != nil {
			return &SinkError{Sink: s.name, Err: err}
		}
		records = append(records, &kgo.Record{
			Key:   []byte(fmt.Sprintf("%s:%d", rec.SourceID, rec.Offset)),
			Value: data,
		})
	}

	// ProduceSync waits for broker acknowledgment of every record, which is
	// what lets the engine commit the checkpoint after Write returns.
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return &SinkError{Sink: s.name, Err: err}
	}
	s.logger.Debug().
		Str("sink", s.name).
		Str("batch", b.ID.String()).
		Int("records", b.Len()).
		Msg("batch produced")
	return nil
}

func (s *KafkaSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
