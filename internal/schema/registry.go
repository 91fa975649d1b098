package schema

import (
	"sort"
	"sync"

	"github.com/tgk/sluice/internal/models"
)

// Schema is one registered version of a source's shape. Versions are
// append-only: registering a new shape never invalidates an old one, so
// records tagged with historical versions stay resolvable.
type Schema struct {
	Version int
	// Fields maps field name to the kind observed for it. Empty for the
	// opaque-blob schema.
	Fields map[string]models.Kind
	// Opaque marks the schema covering unstructured byte payloads.
	Opaque bool
}

// Matches reports whether a record shape is subset-compatible with the
// schema: every field of the shape is present with the same kind.
func (s *Schema) Matches(shape map[string]models.Kind) bool {
	if s.Opaque {
		return false
	}
	for name, kind := range shape {
		got, ok := s.Fields[name]
		if !ok || got != kind {
			return false
		}
	}
	return true
}

// FieldNames returns the schema's field names in sorted order.
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type sourceSchemas struct {
	// mu serializes registration per source; independent sources register
	// concurrently.
	mu       sync.Mutex
	versions []*Schema
}

// Registry holds the append-only schema versions for every source.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*sourceSchemas
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*sourceSchemas)}
}

func (r *Registry) source(sourceID string) *sourceSchemas {
	r.mu.RLock()
	ss, ok := r.sources[sourceID]
	r.mu.RUnlock()
	if ok {
		return ss
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ss, ok = r.sources[sourceID]; ok {
		return ss
	}
	ss = &sourceSchemas{}
	r.sources[sourceID] = ss
	return ss
}

// Versions returns a snapshot of the registered versions for a source,
// oldest first.
func (r *Registry) Versions(sourceID string) []*Schema {
	ss := r.source(sourceID)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return append([]*Schema(nil), ss.versions...)
}

// Lookup resolves a record's schema-version tag back to its schema.
func (r *Registry) Lookup(sourceID string, version int) (*Schema, bool) {
	ss := r.source(sourceID)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if version < 1 || version > len(ss.versions) {
		return nil, false
	}
	return ss.versions[version-1], true
}
