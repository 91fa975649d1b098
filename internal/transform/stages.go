package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tgk/sluice/internal/models"
)

// Built-in stages for the common cleaning work pipelines do before loading:
// dropping and renaming fields, coercing numbers out of dirty strings,
// validating shapes and value ranges. Business-specific logic stays with
// operators as custom Stage implementations.

func one(rec *models.Record) ([]*models.Record, error) {
	return []*models.Record{rec}, nil
}

// DropFields removes the named fields from every record.
func DropFields(names ...string) Stage {
	return StageFunc{
		ID: "drop-fields",
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			if rec.IsRaw() {
				return one(rec)
			}
			return one(rec.Without(names...))
		},
	}
}

// RequireFields fails records that are missing any of the named fields or
// carry a null there.
func RequireFields(names ...string) Stage {
	return StageFunc{
		ID: "require-fields",
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			for _, name := range names {
				v, ok := rec.Get(name)
				if !ok || v.IsNull() {
					return nil, fmt.Errorf("missing required field %q", name)
				}
			}
			return one(rec)
		},
	}
}

// RenameField renames a field, keeping its position. Records without the
// field pass through unchanged.
func RenameField(from, to string) Stage {
	return StageFunc{
		ID: "rename-field",
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			if !rec.Has(from) {
				return one(rec)
			}
			fields := make([]models.Field, 0, rec.Len())
			for _, f := range rec.Fields() {
				if f.Name == from {
					f = models.Field{Name: to, Value: f.Value}
				}
				fields = append(fields, f)
			}
			return one(rec.WithFields(fields))
		},
	}
}

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

// CoerceNumber turns a dirty string field ("1 250 000 kr") into a float,
// leaving numeric fields untouched. Unparseable values fail the record.
func CoerceNumber(name string) Stage {
	return StageFunc{
		ID: "coerce-number",
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			v, ok := rec.Get(name)
			if !ok {
				return nil, fmt.Errorf("field %q not present", name)
			}
			if _, isNum := v.AsFloat(); isNum {
				return one(rec)
			}
			if v.Kind() != models.KindString {
				return nil, fmt.Errorf("field %q is %s, not coercible to a number", name, v.Kind())
			}
			cleaned := nonNumeric.ReplaceAllString(v.Str(), "")
			f, err := strconv.ParseFloat(cleaned, 64)
			if err != nil {
				return nil, fmt.Errorf("field %q: %q is not a number", name, v.Str())
			}
			return one(rec.Set(name, models.Float(f)))
		},
	}
}

// MatchPattern fails records whose string field does not match the pattern.
func MatchPattern(name, pattern string) (Stage, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern for field %q: %w", name, err)
	}
	return StageFunc{
		ID: "match-pattern",
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			v, ok := rec.Get(name)
			if !ok || v.Kind() != models.KindString {
				return nil, fmt.Errorf("field %q is not a string", name)
			}
			if !re.MatchString(v.Str()) {
				return nil, fmt.Errorf("field %q value %q does not match %s", name, v.Str(), pattern)
			}
			return one(rec)
		},
	}, nil
}

// AllowedValues fails records whose string field is outside the allowed set.
func AllowedValues(name string, allowed ...string) Stage {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return StageFunc{
		ID: "allowed-values",
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			v, ok := rec.Get(name)
			if !ok || v.Kind() != models.KindString {
				return nil, fmt.Errorf("field %q is not a string", name)
			}
			if _, found := set[v.Str()]; !found {
				return nil, fmt.Errorf("field %q value %q not in allowed set", name, v.Str())
			}
			return one(rec)
		},
	}
}

// NumberRange silently filters out records whose numeric field falls outside
// [min, max]. Non-numeric fields fail the record.
func NumberRange(name string, min, max float64) Stage {
	return StageFunc{
		ID: "number-range",
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			v, ok := rec.Get(name)
			if !ok {
				return nil, fmt.Errorf("field %q not present", name)
			}
			f, isNum := v.AsFloat()
			if !isNum {
				return nil, fmt.Errorf("field %q is %s, not numeric", name, v.Kind())
			}
			if f < min || f > max {
				return nil, nil
			}
			return one(rec)
		},
	}
}

// RatioRange filters on the ratio of two numeric fields, e.g. price per
// square meter. Out-of-range records are dropped silently; a zero
// denominator fails the record.
func RatioRange(numField, denomField string, min, max float64) Stage {
	return StageFunc{
		ID: "ratio-range",
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			num, ok := rec.Get(numField)
			if !ok {
				return nil, fmt.Errorf("field %q not present", numField)
			}
			denom, ok := rec.Get(denomField)
			if !ok {
				return nil, fmt.Errorf("field %q not present", denomField)
			}
			n, nok := num.AsFloat()
			d, dok := denom.AsFloat()
			if !nok || !dok {
				return nil, fmt.Errorf("fields %q/%q are not both numeric", numField, denomField)
			}
			if d == 0 {
				return nil, fmt.Errorf("field %q is zero", denomField)
			}
			ratio := n / d
			if ratio < min || ratio > max {
				return nil, nil
			}
			return one(rec)
		},
	}
}

func mapStrings(id string, names []string, fn func(string) string) Stage {
	return StageFunc{
		ID: id,
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			out := rec
			for _, name := range names {
				v, ok := out.Get(name)
				if !ok || v.Kind() != models.KindString {
					continue
				}
				out = out.Set(name, models.String(fn(v.Str())))
			}
			return one(out)
		},
	}
}

// ToUpper upper-cases the named string fields.
func ToUpper(names ...string) Stage { return mapStrings("to-upper", names, strings.ToUpper) }

// ToLower lower-cases the named string fields.
func ToLower(names ...string) Stage { return mapStrings("to-lower", names, strings.ToLower) }
