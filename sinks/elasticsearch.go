package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/models"
)

func init() {
	Register("elasticsearch", NewElasticSink)
}

// ElasticSink bulk-indexes records with a deterministic document id of
// "sourceID-offset", so replaying a batch overwrites the same documents
// instead of duplicating them.
type ElasticSink struct {
	name    string
	index   string
	url     string
	cloudID string
	apiKey  string

	client *elasticsearch.Client
	logger zerolog.Logger
}

func NewElasticSink(cfg Config) (Sink, error) {
	index, err := cfg.setting("index_name")
	if err != nil {
		return nil, err
	}
	if cfg.Settings["url"] == "" && cfg.Settings["cloud_id"] == "" {
		return nil, fmt.Errorf("sink %s: needs one of url or cloud_id", cfg.Name)
	}
	return &ElasticSink{
		name:    cfg.Name,
		index:   index,
		url:     cfg.Settings["url"],
		cloudID: cfg.Settings["cloud_id"],
		apiKey:  cfg.Settings["api_key"],
		logger:  logger.GetLogger("sink-elasticsearch"),
	}, nil
}

func (s *ElasticSink) Name() string { return s.name }

func (s *ElasticSink) Open(ctx context.Context) error {
	esCfg := elasticsearch.Config{
		CloudID: s.cloudID,
		APIKey:  s.apiKey,
	}
	if s.url != "" {
		esCfg.Addresses = []string{s.url}
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return &SinkError{Sink: s.name, Err: err}
	}
	s.client = client
	s.logger.Debug().Str("sink", s.name).Str("index", s.index).Msg("opened elasticsearch sink")
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (s *ElasticSink) Write(ctx context.Context, b *models.Batch) error {
	var body bytes.Buffer
	for _, rec := range b.Records() {
		action, err := json.Marshal(map[string]any{
			"index": map[string]any{
				"_index": s.index,
				"_id":    fmt.Sprintf("%s-%d", rec.SourceID, rec.Offset),
			},
		})
		if err != nil {
			return &SinkError{Sink: s.name, Err: err}
		}
		data, err := rec.DataJSON()
		if err != nil {
			return &SinkError{Sink: s.name, Err: err}
		}
		body.Write(action)
		body.WriteByte('\n')
		body.Write(data)
		body.WriteByte('\n')
	}

	res, err := s.client.Bulk(bytes.NewReader(body.Bytes()), s.client.Bulk.WithContext(ctx))
	if err != nil {
		return &SinkError{Sink: s.name, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return &SinkError{Sink: s.name, Err: fmt.Errorf("bulk request failed: %s", res.String())}
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return &SinkError{Sink: s.name, Err: fmt.Errorf("decode bulk response: %w", err)}
	}
	if parsed.Errors {
		for _, item := range parsed.Items {
			for _, r := range item {
				if r.Error != nil {
					return &SinkError{
						Sink: s.name,
						Err:  fmt.Errorf("bulk item failed: %s: %s", r.Error.Type, r.Error.Reason),
					}
				}
			}
		}
		return &SinkError{Sink: s.name, Err: fmt.Errorf("bulk response reported errors")}
	}

	s.logger.Debug().
		Str("sink", s.name).
		Str("batch", b.ID.String()).
		Int("records", b.Len()).
		Msg("batch indexed")
	return nil
}

func (s *ElasticSink) Close() error { return nil }
