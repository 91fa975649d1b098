package models

import "encoding/json"

// Record is the unit of data flowing through a pipeline: either an ordered
// set of typed fields or an opaque byte payload for unstructured content.
// A record is immutable once produced by a stage; the With*/Set helpers
// return new instances rather than mutating in place.
type Record struct {
	// SourceID names the source that produced the record.
	SourceID string
	// Offset is the source-assigned, monotonically increasing position of
	// the record within its source's stream.
	Offset uint64
	// SchemaVersion is a lookup key into the schema registry. Zero means
	// the record has not been resolved yet.
	SchemaVersion int

	fields []Field
	raw    []byte
}

// New creates a structured record.
func New(sourceID string, offset uint64, fields []Field) *Record {
	return &Record{SourceID: sourceID, Offset: offset, fields: fields}
}

// NewRaw creates an unstructured record carrying an opaque payload.
func NewRaw(sourceID string, offset uint64, payload []byte) *Record {
	return &Record{SourceID: sourceID, Offset: offset, raw: payload}
}

// IsRaw reports whether the record carries an opaque payload instead of
// structured fields.
func (r *Record) IsRaw() bool { return r.fields == nil && r.raw != nil }

// Raw returns the opaque payload. Callers must not modify it.
func (r *Record) Raw() []byte { return r.raw }

// Fields returns the record's fields in order. Callers must not modify the
// returned slice.
func (r *Record) Fields() []Field { return r.fields }

func (r *Record) Len() int { return len(r.fields) }

// Get looks up a field by name.
func (r *Record) Get(name string) (Value, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Has reports whether a field is present.
func (r *Record) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// WithFields returns a new record with the same identity and the given
// fields.
func (r *Record) WithFields(fields []Field) *Record {
	return &Record{
		SourceID:      r.SourceID,
		Offset:        r.Offset,
		SchemaVersion: r.SchemaVersion,
		fields:        fields,
	}
}

// WithSchemaVersion returns a copy of the record tagged with a resolved
// schema version.
func (r *Record) WithSchemaVersion(version int) *Record {
	out := *r
	out.SchemaVersion = version
	return &out
}

// Set returns a new record with the named field replaced, or appended when
// absent.
func (r *Record) Set(name string, v Value) *Record {
	fields := make([]Field, 0, len(r.fields)+1)
	replaced := false
	for _, f := range r.fields {
		if f.Name == name {
			fields = append(fields, Field{Name: name, Value: v})
			replaced = true
			continue
		}
		fields = append(fields, f)
	}
	if !replaced {
		fields = append(fields, Field{Name: name, Value: v})
	}
	return r.WithFields(fields)
}

// Without returns a new record with the named fields removed.
func (r *Record) Without(names ...string) *Record {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	fields := make([]Field, 0, len(r.fields))
	for _, f := range r.fields {
		if _, gone := drop[f.Name]; gone {
			continue
		}
		fields = append(fields, f)
	}
	return r.WithFields(fields)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := &Record{
		SourceID:      r.SourceID,
		Offset:        r.Offset,
		SchemaVersion: r.SchemaVersion,
	}
	if r.fields != nil {
		out.fields = cloneFields(r.fields)
	}
	if r.raw != nil {
		out.raw = append([]byte(nil), r.raw...)
	}
	return out
}

// Size approximates the serialized size of the record, used for the batch
// byte trigger.
func (r *Record) Size() int {
	if r.IsRaw() {
		return len(r.raw)
	}
	return Map(r.fields...).size()
}

// DataJSON renders the record's payload as JSON: the field object for
// structured records, the payload verbatim when it already is valid JSON,
// and a base64 string otherwise.
func (r *Record) DataJSON() ([]byte, error) {
	if r.IsRaw() {
		if json.Valid(r.raw) {
			return r.raw, nil
		}
		return json.Marshal(r.raw)
	}
	return Map(r.fields...).MarshalJSON()
}
