package schema

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/models"
)

// Mode selects how unknown record shapes are handled.
type Mode int

const (
	// ModeInferred accepts unknown shapes: unstructured payloads resolve to
	// the opaque-blob schema and new structured shapes register a new
	// version. The default, since unstructured inputs evolve.
	ModeInferred Mode = iota
	// ModeStrict requires every record to match an already-registered
	// version.
	ModeStrict
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "inferred"
}

// ParseMode parses the config representation of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "inferred":
		return ModeInferred, nil
	case "strict":
		return ModeStrict, nil
	default:
		return ModeInferred, fmt.Errorf("unknown schema mode %q", s)
	}
}

// SchemaError reports a record whose shape is incompatible with every known
// schema version for its source.
type SchemaError struct {
	SourceID string
	Offset   uint64
	Err      error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: source %s offset %d: %v", e.SourceID, e.Offset, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Resolver tags records with a resolved schema version, registering new
// versions when inference is enabled.
type Resolver struct {
	mode   Mode
	reg    *Registry
	logger zerolog.Logger
}

func NewResolver(reg *Registry, mode Mode) *Resolver {
	return &Resolver{
		mode:   mode,
		reg:    reg,
		logger: logger.GetLogger("schema"),
	}
}

func (rv *Resolver) Registry() *Registry { return rv.reg }

// Resolve returns the record tagged with a schema version, or a
// *SchemaError when the shape is unknown and inference is disabled.
// Registration is serialized per source; independent sources resolve
// concurrently.
func (rv *Resolver) Resolve(rec *models.Record) (*models.Record, error) {
	ss := rv.reg.source(rec.SourceID)
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if rec.IsRaw() {
		return rv.resolveOpaque(ss, rec)
	}

	shape := shapeOf(rec)
	// Newest first: evolving sources most often match their latest version.
	for i := len(ss.versions) - 1; i >= 0; i-- {
		if ss.versions[i].Matches(shape) {
			return rec.WithSchemaVersion(ss.versions[i].Version), nil
		}
	}

	if rv.mode == ModeStrict {
		return nil, &SchemaError{
			SourceID: rec.SourceID,
			Offset:   rec.Offset,
			Err:      fmt.Errorf("no registered schema matches record shape %v", keys(shape)),
		}
	}

	s := &Schema{Version: len(ss.versions) + 1, Fields: shape}
	ss.versions = append(ss.versions, s)
	rv.logger.Info().
		Str("source", rec.SourceID).
		Int("version", s.Version).
		Strs("fields", s.FieldNames()).
		Msg("registered new schema version")
	return rec.WithSchemaVersion(s.Version), nil
}

func (rv *Resolver) resolveOpaque(ss *sourceSchemas, rec *models.Record) (*models.Record, error) {
	for _, s := range ss.versions {
		if s.Opaque {
			return rec.WithSchemaVersion(s.Version), nil
		}
	}
	if rv.mode == ModeStrict {
		return nil, &SchemaError{
			SourceID: rec.SourceID,
			Offset:   rec.Offset,
			Err:      fmt.Errorf("opaque payload but no opaque schema registered"),
		}
	}
	s := &Schema{Version: len(ss.versions) + 1, Opaque: true}
	ss.versions = append(ss.versions, s)
	rv.logger.Info().
		Str("source", rec.SourceID).
		Int("version", s.Version).
		Msg("registered opaque schema version")
	return rec.WithSchemaVersion(s.Version), nil
}

func shapeOf(rec *models.Record) map[string]models.Kind {
	shape := make(map[string]models.Kind, rec.Len())
	for _, f := range rec.Fields() {
		shape[f.Name] = f.Value.Kind()
	}
	return shape
}

func keys(shape map[string]models.Kind) []string {
	s := &Schema{Fields: shape}
	return s.FieldNames()
}
