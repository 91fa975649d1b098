package sources

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/models"
)

func init() {
	Register("file", NewFileSource)
}

// FileSource reads a JSON-lines file. The offset of a record is its 1-based
// line number. Lines that are not valid JSON objects become raw records, so
// unstructured content flows through instead of failing the source.
type FileSource struct {
	name string
	path string

	f       *os.File
	scanner *bufio.Scanner
	offset  uint64
	logger  zerolog.Logger
}

func NewFileSource(cfg Config) (Source, error) {
	path, err := cfg.setting("path")
	if err != nil {
		return nil, err
	}
	return &FileSource{
		name:   cfg.Name,
		path:   path,
		logger: logger.GetLogger("source-file"),
	}, nil
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) Open(ctx context.Context, fromOffset uint64) error {
	f, err := os.Open(s.path)
	if err != nil {
		return &SourceError{Source: s.name, Err: err}
	}
	s.f = f
	s.scanner = bufio.NewScanner(f)
	s.scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	// Skip lines already committed on a previous run.
	for s.offset+1 < fromOffset {
		if !s.scanner.Scan() {
			break
		}
		s.offset++
	}
	s.logger.Debug().
		Str("source", s.name).
		Str("path", s.path).
		Uint64("from_offset", fromOffset).
		Msg("opened file source")
	return nil
}

func (s *FileSource) Next(ctx context.Context) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, &SourceError{Source: s.name, Err: err}
		}
		return nil, io.EOF
	}
	s.offset++
	// The scanner reuses its buffer; records outlive the next Scan.
	line := append([]byte(nil), s.scanner.Bytes()...)

	if fields, err := models.FieldsFromJSON(line); err == nil {
		return models.New(s.name, s.offset, fields), nil
	}
	return models.NewRaw(s.name, s.offset, line), nil
}

func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
