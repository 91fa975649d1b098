package sources

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/models"
	"github.com/twmb/franz-go/pkg/kgo"
)

func init() {
	Register("kafka", NewKafkaSource)
}

// KafkaSource consumes a single partition of a topic. The record offset is
// the Kafka log offset, which gives resumable, monotonic positions for
// free. One partition per source id keeps the per-source ordering guarantee;
// run one pipeline per partition to fan out.
type KafkaSource struct {
	name      string
	brokers   []string
	topic     string
	partition int32

	client *kgo.Client
	buf    []*kgo.Record
	logger zerolog.Logger
}

func NewKafkaSource(cfg Config) (Source, error) {
	brokers, err := cfg.setting("bootstrap_servers")
	if err != nil {
		return nil, err
	}
	topic, err := cfg.setting("topic")
	if err != nil {
		return nil, err
	}
	partition := int32(0)
	if p, ok := cfg.Settings["partition"]; ok && p != "" {
		n, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return nil, &SourceError{Source: cfg.Name, Err: err}
		}
		partition = int32(n)
	}
	return &KafkaSource{
		name:      cfg.Name,
		brokers:   strings.Split(brokers, ","),
		topic:     topic,
		partition: partition,
		logger:    logger.GetLogger("source-kafka"),
	}, nil
}

func (s *KafkaSource) Name() string { return s.name }

func (s *KafkaSource) Open(ctx context.Context, fromOffset uint64) error {
	start := kgo.NewOffset().AtStart()
	if fromOffset > 0 {
		start = kgo.NewOffset().At(int64(fromOffset))
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(s.brokers...),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			s.topic: {s.partition: start},
		}),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return &SourceError{Source: s.name, Err: err}
	}
	s.client = client
	s.logger.Debug().
		Str("source", s.name).
		Str("topic", s.topic).
		Int32("partition", s.partition).
		Uint64("from_offset", fromOffset).
		Msg("opened kafka source")
	return nil
}

func (s *KafkaSource) Next(ctx context.Context) (*models.Record, error) {
	for len(s.buf) == 0 {
		fetches := s.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			err := errs[0].Err
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, &SourceError{Source: s.name, Err: err}
		}
		fetches.EachRecord(func(r *kgo.Record) {
			s.buf = append(s.buf, r)
		})
	}

	r := s.buf[0]
	s.buf = s.buf[1:]
	offset := uint64(r.Offset)
	if fields, err := models.FieldsFromJSON(r.Value); err == nil {
		return models.New(s.name, offset, fields), nil
	}
	return models.NewRaw(s.name, offset, r.Value), nil
}

func (s *KafkaSource) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
