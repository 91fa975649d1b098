package sources

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func init() {
	Register("mongo", NewMongoSource)
}

// MongoSource tails a collection's change stream. Offsets are a session
// counter; the stream position itself is a resume token, persisted per
// offset to a sidecar file (the resume_path setting) so a restart resumes
// after the last committed event instead of at the present. Tokens are
// appended without fsync: losing recent entries only widens the replay
// window, and replayed events reuse their original offsets so keyed sinks
// deduplicate them. Without resume_path the stream starts at "now".
type MongoSource struct {
	name       string
	uri        string
	database   string
	collection string
	resumePath string

	client *mongo.Client
	stream *mongo.ChangeStream
	tokens *os.File
	offset uint64
	logger zerolog.Logger
}

type resumeEntry struct {
	Offset uint64 `json:"offset"`
	Token  []byte `json:"token"`
}

func NewMongoSource(cfg Config) (Source, error) {
	uri, err := cfg.setting("uri")
	if err != nil {
		return nil, err
	}
	database, err := cfg.setting("database")
	if err != nil {
		return nil, err
	}
	collection, err := cfg.setting("collection")
	if err != nil {
		return nil, err
	}
	return &MongoSource{
		name:       cfg.Name,
		uri:        uri,
		database:   database,
		collection: collection,
		resumePath: cfg.Settings["resume_path"],
		logger:     logger.GetLogger("source-mongo"),
	}, nil
}

func (s *MongoSource) Name() string { return s.name }

func (s *MongoSource) Open(ctx context.Context, fromOffset uint64) error {
	csOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	s.offset = 0
	if fromOffset > 0 {
		s.offset = fromOffset - 1
	}

	if s.resumePath != "" {
		var keep *resumeEntry
		if fromOffset > 0 {
			entry, ok, err := latestResumeEntry(s.resumePath, fromOffset-1)
			if err != nil {
				return &SourceError{Source: s.name, Err: err}
			}
			if ok {
				csOpts.SetResumeAfter(bson.Raw(entry.Token))
				s.offset = entry.Offset
				keep = &entry
			}
		}
		f, err := compactResumeFile(s.resumePath, keep)
		if err != nil {
			return &SourceError{Source: s.name, Err: err}
		}
		s.tokens = f
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return &SourceError{Source: s.name, Err: err}
	}
	coll := client.Database(s.database).Collection(s.collection)
	stream, err := coll.Watch(ctx, mongo.Pipeline{}, csOpts)
	if err != nil {
		client.Disconnect(ctx)
		return &SourceError{Source: s.name, Err: err}
	}
	s.client = client
	s.stream = stream
	s.logger.Debug().
		Str("source", s.name).
		Str("database", s.database).
		Str("collection", s.collection).
		Uint64("from_offset", fromOffset).
		Uint64("resume_offset", s.offset).
		Msg("opened mongo change stream")
	return nil
}

func (s *MongoSource) Next(ctx context.Context) (*models.Record, error) {
	if !s.stream.Next(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.stream.Err(); err != nil {
			return nil, &SourceError{Source: s.name, Err: err}
		}
		return nil, io.EOF
	}
	var doc bson.M
	if err := s.stream.Decode(&doc); err != nil {
		return nil, &SourceError{Source: s.name, Err: err}
	}
	s.offset++

	if s.tokens != nil {
		if err := appendResumeEntry(s.tokens, s.offset, s.stream.ResumeToken()); err != nil {
			// A lost token only widens the next restart's replay window.
			s.logger.Warn().
				Str("source", s.name).
				Uint64("offset", s.offset).
				Err(err).
				Msg("persisting resume token failed")
		}
	}

	v := models.FromAny(normalizeBSON(doc))
	return models.New(s.name, s.offset, v.Fields()), nil
}

func (s *MongoSource) Close() error {
	ctx := context.Background()
	if s.tokens != nil {
		s.tokens.Close()
	}
	if s.stream != nil {
		s.stream.Close(ctx)
	}
	if s.client != nil {
		return s.client.Disconnect(ctx)
	}
	return nil
}

// latestResumeEntry returns the stored entry with the highest offset not
// past upTo. Resuming at an older entry is safe; it only replays more.
func latestResumeEntry(path string, upTo uint64) (resumeEntry, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return resumeEntry{}, false, nil
	}
	if err != nil {
		return resumeEntry{}, false, err
	}
	defer f.Close()

	var (
		best  resumeEntry
		found bool
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var e resumeEntry
		if json.Unmarshal(scanner.Bytes(), &e) != nil {
			continue
		}
		if e.Offset <= upTo && (!found || e.Offset > best.Offset) {
			best = e
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return resumeEntry{}, false, err
	}
	return best, found, nil
}

// compactResumeFile rewrites the sidecar with only the entry being resumed
// from and returns an append handle for the session's new tokens.
func compactResumeFile(path string, keep *resumeEntry) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	if keep != nil {
		if err := appendResumeEntry(f, keep.Offset, keep.Token); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func appendResumeEntry(f *os.File, offset uint64, token []byte) error {
	line, err := json.Marshal(resumeEntry{Offset: offset, Token: token})
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// normalizeBSON rewrites bson container and primitive types into the plain
// Go shapes models.FromAny understands.
func normalizeBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeBSON(val)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeBSON(val)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format("2006-01-02T15:04:05.000Z")
	case primitive.Decimal128:
		return t.String()
	case primitive.Binary:
		return t.Data
	default:
		return v
	}
}
