package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/models"
)

func init() {
	Register("file", NewFileSink)
}

// FileSink appends batches to a JSON-lines file, one envelope per record:
// {"source_id":…,"offset":…,"data":…}. Replayed batches are deduplicated by
// the highest offset written per source, read back from the file on Open so
// dedupe survives a restart.
type FileSink struct {
	name string
	path string

	f *os.File
	// highWater tracks the highest offset written per source.
	highWater map[string]uint64
	logger    zerolog.Logger
}

type fileEnvelope struct {
	SourceID string          `json:"source_id"`
	Offset   uint64          `json:"offset"`
	Data     json.RawMessage `json:"data"`
}

func NewFileSink(cfg Config) (Sink, error) {
	path, err := cfg.setting("path")
	if err != nil {
		return nil, err
	}
	return &FileSink{
		name:      cfg.Name,
		path:      path,
		highWater: make(map[string]uint64),
		logger:    logger.GetLogger("sink-file"),
	}, nil
}

func (s *FileSink) Name() string { return s.name }

func (s *FileSink) Open(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return &SinkError{Sink: s.name, Err: fmt.Errorf("create parent directories: %w", err)}
	}

	// Recover the per-source high-water marks from any previous run.
	if existing, err := os.ReadFile(s.path); err == nil {
		for _, line := range bytes.Split(existing, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			var env fileEnvelope
			if err := json.Unmarshal(line, &env); err != nil {
				continue
			}
			if env.Offset > s.highWater[env.SourceID] {
				s.highWater[env.SourceID] = env.Offset
			}
		}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return &SinkError{Sink: s.name, Err: err}
	}
	s.f = f
	s.logger.Debug().Str("sink", s.name).Str("path", s.path).Msg("opened file sink")
	return nil
}

func (s *FileSink) Write(ctx context.Context, b *models.Batch) error {
	var buf bytes.Buffer
	wrote := 0
	for _, rec := range b.Records() {
		if rec.Offset <= s.highWater[rec.SourceID] {
			continue
		}
		data, err := rec.DataJSON()
		if err != nil {
			return &SinkError{Sink: s.name, Err: err}
		}
		line, err := json.Marshal(fileEnvelope{
			SourceID: rec.SourceID,
			Offset:   rec.Offset,
			Data:     data,
		})
		if err != nil {
			return &SinkError{Sink: s.name, Err: err}
		}
		buf.Write(line)
		buf.WriteByte('\n')
		wrote++
	}

	if wrote > 0 {
		if _, err := s.f.Write(buf.Bytes()); err != nil {
			return &SinkError{Sink: s.name, Err: err}
		}
		// Ack implies durability.
		if err := s.f.Sync(); err != nil {
			return &SinkError{Sink: s.name, Err: err}
		}
	}
	// Only advance the marks after the write is durable.
	for _, rec := range b.Records() {
		if rec.Offset > s.highWater[rec.SourceID] {
			s.highWater[rec.SourceID] = rec.Offset
		}
	}

	s.logger.Debug().
		Str("sink", s.name).
		Str("batch", b.ID.String()).
		Int("records", wrote).
		Int("deduped", b.Len()-wrote).
		Msg("batch written")
	return nil
}

func (s *FileSink) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
