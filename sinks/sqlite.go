package sinks

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/models"
)

func init() {
	Register("sqlite", NewSQLiteSink)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	source_id TEXT NOT NULL,
	offset    INTEGER NOT NULL,
	data      TEXT NOT NULL,
	PRIMARY KEY (source_id, offset)
);`

// SQLiteSink upserts records keyed on (source_id, offset), so replaying a
// batch after a retry or crash-restart leaves the table in the same state
// as a single successful write.
type SQLiteSink struct {
	name string
	path string
	// table defaults to "records".
	table string

	db     *sql.DB
	logger zerolog.Logger
}

func NewSQLiteSink(cfg Config) (Sink, error) {
	path, err := cfg.setting("path")
	if err != nil {
		return nil, err
	}
	return &SQLiteSink{
		name:   cfg.Name,
		path:   path,
		logger: logger.GetLogger("sink-sqlite"),
	}, nil
}

func (s *SQLiteSink) Name() string { return s.name }

func (s *SQLiteSink) Open(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return &SinkError{Sink: s.name, Err: err}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return &SinkError{Sink: s.name, Err: err}
	}
	s.db = db
	s.logger.Debug().Str("sink", s.name).Str("path", s.path).Msg("opened sqlite sink")
	return nil
}

func (s *SQLiteSink) Write(ctx context.Context, b *models.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &SinkError{Sink: s.name, Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO records (source_id, offset, data) VALUES (?, ?, ?)`)
	if err != nil {
		return &SinkError{Sink: s.name, Err: err}
	}
	defer stmt.Close()

	for _, rec := range b.Records() {
		data, err := rec.DataJSON()
		if err != nil {
			return &SinkError{Sink: s.name, Err: err}
		}
		if _, err := stmt.ExecContext(ctx, rec.SourceID, rec.Offset, string(data)); err != nil {
			return &SinkError{Sink: s.name, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &SinkError{Sink: s.name, Err: err}
	}
	s.logger.Debug().
		Str("sink", s.name).
		Str("batch", b.ID.String()).
		Int("records", b.Len()).
		Msg("batch written")
	return nil
}

func (s *SQLiteSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
