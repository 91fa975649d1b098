package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged variant: a scalar, a nested ordered mapping, an ordered
// sequence, or an opaque byte payload. Values are treated as immutable once
// attached to a Record.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	raw  []byte
	// kids holds map entries (named) or list items (unnamed).
	kids []Field
}

// Field is one named entry of a record or nested mapping.
type Field struct {
	Name  string
	Value Value
}

func Nil() Value              { return Value{kind: KindNil} }
func Bool(v bool) Value       { return Value{kind: KindBool, b: v} }
func Int(v int64) Value       { return Value{kind: KindInt, i: v} }
func Float(v float64) Value   { return Value{kind: KindFloat, f: v} }
func String(v string) Value   { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value    { return Value{kind: KindBytes, raw: v} }
func Map(fields ...Field) Value {
	return Value{kind: KindMap, kids: fields}
}
func List(items ...Value) Value {
	kids := make([]Field, len(items))
	for i, it := range items {
		kids[i] = Field{Value: it}
	}
	return Value{kind: KindList, kids: kids}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNil }
func (v Value) Bool() bool    { return v.b }
func (v Value) Int() int64    { return v.i }
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}
func (v Value) Str() string   { return v.s }
func (v Value) Bytes() []byte { return v.raw }

// Fields returns the entries of a map value. Callers must not modify the
// returned slice.
func (v Value) Fields() []Field { return v.kids }

// Items returns the elements of a list value.
func (v Value) Items() []Value {
	items := make([]Value, len(v.kids))
	for i, k := range v.kids {
		items[i] = k.Value
	}
	return items
}

// AsFloat reports the numeric value of an int or float variant.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

func (v Value) clone() Value {
	out := v
	if v.raw != nil {
		out.raw = append([]byte(nil), v.raw...)
	}
	if v.kids != nil {
		out.kids = cloneFields(v.kids)
	}
	return out
}

func cloneFields(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = Field{Name: f.Name, Value: f.Value.clone()}
	}
	return out
}

// MarshalJSON renders the value as plain JSON. Map entries keep their
// declared order; byte payloads encode as base64 strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNil:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindBytes:
		return json.Marshal(v.raw)
	case KindMap:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, f := range v.kids {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(f.Name)
			if err != nil {
				return nil, err
			}
			buf.Write(name)
			buf.WriteByte(':')
			val, err := f.Value.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(val)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, f := range v.kids {
			if i > 0 {
				buf.WriteByte(',')
			}
			val, err := f.Value.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(val)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("marshal: unknown kind %s", v.kind)
	}
}

// FromAny converts a decoded JSON/BSON value into a Value. Object keys are
// normalized to sorted order since Go maps do not preserve insertion order.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Nil()
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		f, _ := t.Float64()
		return Float(f)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case map[string]any:
		names := make([]string, 0, len(t))
		for name := range t {
			names = append(names, name)
		}
		sort.Strings(names)
		fields := make([]Field, 0, len(t))
		for _, name := range names {
			fields = append(fields, Field{Name: name, Value: FromAny(t[name])})
		}
		return Map(fields...)
	case []any:
		items := make([]Value, 0, len(t))
		for _, it := range t {
			items = append(items, FromAny(it))
		}
		return List(items...)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// FieldsFromJSON decodes a JSON object into record fields. Numbers decode as
// int64 when they fit, float64 otherwise.
func FieldsFromJSON(data []byte) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	v := FromAny(raw)
	return v.Fields(), nil
}

func (v Value) size() int {
	switch v.kind {
	case KindNil, KindBool:
		return 4
	case KindInt, KindFloat:
		return 8
	case KindString:
		return len(v.s) + 2
	case KindBytes:
		return (len(v.raw)*4)/3 + 2
	case KindMap, KindList:
		n := 2
		for _, f := range v.kids {
			n += len(f.Name) + 3 + f.Value.size()
		}
		return n
	default:
		return 0
	}
}
