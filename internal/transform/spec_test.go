package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tgk/sluice/internal/models"
)

func TestBuildStages(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"drop-fields", Spec{Type: "drop-fields", Config: map[string]string{"fields": "a, b"}}},
		{"require-fields", Spec{Type: "require-fields", Config: map[string]string{"fields": "a"}}},
		{"rename-field", Spec{Type: "rename-field", Config: map[string]string{"from": "a", "to": "b"}}},
		{"coerce-number", Spec{Type: "coerce-number", Config: map[string]string{"field": "price"}}},
		{"match-pattern", Spec{Type: "match-pattern", Config: map[string]string{"field": "d", "pattern": `^\d+$`}}},
		{"allowed-values", Spec{Type: "allowed-values", Config: map[string]string{"field": "t", "values": "x,y"}}},
		{"number-range", Spec{Type: "number-range", Config: map[string]string{"field": "n", "min": "1", "max": "10"}}},
		{"ratio-range", Spec{Type: "ratio-range", Config: map[string]string{"numerator": "p", "denominator": "a", "min": "1", "max": "2"}}},
		{"to-upper", Spec{Type: "to-upper", Config: map[string]string{"fields": "a"}}},
		{"to-lower", Spec{Type: "to-lower", Config: map[string]string{"fields": "a"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stage, err := Build(tc.spec)
			require.NoError(t, err)
			assert.Equal(t, tc.name, stage.Name())
		})
	}
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(Spec{Type: "teleport"})
	assert.Error(t, err)

	_, err = Build(Spec{Type: "coerce-number"})
	assert.Error(t, err)

	_, err = Build(Spec{Type: "number-range", Config: map[string]string{"field": "n", "min": "low", "max": "10"}})
	assert.Error(t, err)

	_, err = Build(Spec{Type: "match-pattern", Config: map[string]string{"field": "d", "pattern": "["}})
	assert.Error(t, err)
}

func TestBuildChain(t *testing.T) {
	chain, err := BuildChain("fail-fast", []Spec{
		{Type: "coerce-number", Config: map[string]string{"field": "price"}},
		{Type: "number-range", Config: map[string]string{"field": "price", "min": "0", "max": "100"}},
	})
	require.NoError(t, err)
	assert.Equal(t, FailFast, chain.Policy())
	assert.Equal(t, 2, chain.Len())

	out, err := chain.Apply(models.New("src", 1, []models.Field{
		{Name: "price", Value: models.String("42 kr")},
	}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	v, _ := out[0].Get("price")
	assert.Equal(t, 42.0, v.Float())

	_, err = BuildChain("panic", nil)
	assert.Error(t, err)

	_, err = BuildChain("", []Spec{{Type: "bogus"}})
	assert.Error(t, err)
}
