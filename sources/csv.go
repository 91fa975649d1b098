package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/models"
)

func init() {
	Register("csv", NewCSVSource)
}

// CSVSource reads a CSV file with a header row. Every cell becomes a string
// field named by the header; use the coerce-number stage downstream for
// numeric columns. The offset of a record is its 1-based data-row number.
type CSVSource struct {
	name string
	path string

	f      *os.File
	reader *csv.Reader
	header []string
	offset uint64
	logger zerolog.Logger
}

func NewCSVSource(cfg Config) (Source, error) {
	path, err := cfg.setting("path")
	if err != nil {
		return nil, err
	}
	return &CSVSource{
		name:   cfg.Name,
		path:   path,
		logger: logger.GetLogger("source-csv"),
	}, nil
}

func (s *CSVSource) Name() string { return s.name }

func (s *CSVSource) Open(ctx context.Context, fromOffset uint64) error {
	f, err := os.Open(s.path)
	if err != nil {
		return &SourceError{Source: s.name, Err: err}
	}
	s.f = f
	s.reader = csv.NewReader(f)
	// Ragged rows are tolerated; short rows simply yield fewer fields.
	s.reader.FieldsPerRecord = -1

	header, err := s.reader.Read()
	if err != nil {
		f.Close()
		return &SourceError{Source: s.name, Err: err}
	}
	s.header = header

	for s.offset+1 < fromOffset {
		if _, err := s.reader.Read(); err != nil {
			break
		}
		s.offset++
	}
	s.logger.Debug().
		Str("source", s.name).
		Str("path", s.path).
		Strs("header", header).
		Uint64("from_offset", fromOffset).
		Msg("opened csv source")
	return nil
}

func (s *CSVSource) Next(ctx context.Context) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var row []string
	for {
		var err error
		row, err = s.reader.Read()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		s.offset++
		if err == nil {
			break
		}
		var perr *csv.ParseError
		if !errors.As(err, &perr) {
			return nil, &SourceError{Source: s.name, Err: err}
		}
		// Malformed rows are data problems; skip them like the transform
		// chain would.
		s.logger.Warn().
			Str("source", s.name).
			Uint64("offset", s.offset).
			Err(err).
			Msg("skipping malformed csv row")
	}

	n := len(row)
	if len(s.header) < n {
		n = len(s.header)
	}
	fields := make([]models.Field, 0, n)
	for i := 0; i < n; i++ {
		fields = append(fields, models.Field{Name: s.header[i], Value: models.String(row[i])})
	}
	return models.New(s.name, s.offset, fields), nil
}

func (s *CSVSource) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
