package transform

import (
	"fmt"
	"strconv"
	"strings"
)

// Spec is the configuration form of one stage.
type Spec struct {
	Type   string            `koanf:"type" json:"type"`
	Config map[string]string `koanf:"config" json:"config"`
}

func (s Spec) str(key string) (string, error) {
	v, ok := s.Config[key]
	if !ok || v == "" {
		return "", fmt.Errorf("stage %s: missing config value %q", s.Type, key)
	}
	return v, nil
}

func (s Spec) list(key string) ([]string, error) {
	v, err := s.str(key)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

func (s Spec) float(key string) (float64, error) {
	v, err := s.str(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("stage %s: config value %q: %w", s.Type, key, err)
	}
	return f, nil
}

// Build constructs a built-in stage from its configuration form.
func Build(spec Spec) (Stage, error) {
	switch spec.Type {
	case "drop-fields":
		names, err := spec.list("fields")
		if err != nil {
			return nil, err
		}
		return DropFields(names...), nil
	case "require-fields":
		names, err := spec.list("fields")
		if err != nil {
			return nil, err
		}
		return RequireFields(names...), nil
	case "rename-field":
		from, err := spec.str("from")
		if err != nil {
			return nil, err
		}
		to, err := spec.str("to")
		if err != nil {
			return nil, err
		}
		return RenameField(from, to), nil
	case "coerce-number":
		name, err := spec.str("field")
		if err != nil {
			return nil, err
		}
		return CoerceNumber(name), nil
	case "match-pattern":
		name, err := spec.str("field")
		if err != nil {
			return nil, err
		}
		pattern, err := spec.str("pattern")
		if err != nil {
			return nil, err
		}
		return MatchPattern(name, pattern)
	case "allowed-values":
		name, err := spec.str("field")
		if err != nil {
			return nil, err
		}
		values, err := spec.list("values")
		if err != nil {
			return nil, err
		}
		return AllowedValues(name, values...), nil
	case "number-range":
		name, err := spec.str("field")
		if err != nil {
			return nil, err
		}
		min, err := spec.float("min")
		if err != nil {
			return nil, err
		}
		max, err := spec.float("max")
		if err != nil {
			return nil, err
		}
		return NumberRange(name, min, max), nil
	case "ratio-range":
		num, err := spec.str("numerator")
		if err != nil {
			return nil, err
		}
		denom, err := spec.str("denominator")
		if err != nil {
			return nil, err
		}
		min, err := spec.float("min")
		if err != nil {
			return nil, err
		}
		max, err := spec.float("max")
		if err != nil {
			return nil, err
		}
		return RatioRange(num, denom, min, max), nil
	case "to-upper":
		names, err := spec.list("fields")
		if err != nil {
			return nil, err
		}
		return ToUpper(names...), nil
	case "to-lower":
		names, err := spec.list("fields")
		if err != nil {
			return nil, err
		}
		return ToLower(names...), nil
	default:
		return nil, fmt.Errorf("unknown stage type %q", spec.Type)
	}
}

// BuildChain constructs a chain from configuration: a failure policy plus an
// ordered stage list.
func BuildChain(policy string, specs []Spec) (*Chain, error) {
	p, err := ParsePolicy(policy)
	if err != nil {
		return nil, err
	}
	stages := make([]Stage, 0, len(specs))
	for _, spec := range specs {
		stage, err := Build(spec)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return NewChain(p, stages...), nil
}
