package pipeline

import (
	"testing"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tgk/sluice/internal/schema"
	"github.com/tgk/sluice/internal/transform"
)

const listingsConfig = `
pipelines:
  - name: listings
    source:
      name: listings
      type: file
      config:
        path: data/listings.jsonl
    sink:
      name: warehouse
      type: sqlite
      config:
        path: data/warehouse.db
    dead_letter:
      name: rejects
      type: file
      config:
        path: data/rejects.jsonl
    transforms:
      - type: coerce-number
        config:
          field: price
      - type: ratio-range
        config:
          numerator: price
          denominator: area
          min: "500"
          max: "15000"
    on_error: fail-fast
    schema_mode: strict
    batch:
      max_count: 250
      max_bytes: 65536
      max_age: 2s
    retry:
      attempts: 3
      backoff_base: 50ms
      backoff_cap: 10s
`

func loadYAML(t *testing.T, doc string) *koanf.Koanf {
	t.Helper()
	ko := koanf.New(".")
	require.NoError(t, ko.Load(rawbytes.Provider([]byte(doc)), yaml.Parser()))
	return ko
}

func TestParseConfig(t *testing.T) {
	specs, err := ParseConfig(loadYAML(t, listingsConfig))
	require.NoError(t, err)
	require.Len(t, specs, 1)

	s := specs[0]
	assert.Equal(t, "listings", s.Name)
	assert.Equal(t, "file", s.Source.Type)
	assert.Equal(t, "data/listings.jsonl", s.Source.Settings["path"])
	assert.Equal(t, "sqlite", s.Sink.Type)
	require.NotNil(t, s.DeadLetter)
	assert.Equal(t, "rejects", s.DeadLetter.Name)

	require.Len(t, s.Transforms, 2)
	assert.Equal(t, "coerce-number", s.Transforms[0].Type)
	assert.Equal(t, "price", s.Transforms[0].Config["field"])

	assert.Equal(t, "fail-fast", s.OnError)
	assert.Equal(t, "strict", s.SchemaMode)
	assert.Equal(t, 250, s.Batch.MaxCount)
	assert.Equal(t, 65536, s.Batch.MaxBytes)
	assert.Equal(t, 2*time.Second, s.Batch.MaxAge)
	assert.Equal(t, uint(3), s.Retry.Attempts)
	assert.Equal(t, 50*time.Millisecond, s.Retry.BackoffBase)
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig(loadYAML(t, `pipelines: []`))
	assert.Error(t, err)

	_, err = ParseConfig(loadYAML(t, `
pipelines:
  - source:
      name: s
      type: file
`))
	assert.Error(t, err)
}

func TestBuildWiresPipeline(t *testing.T) {
	specs, err := ParseConfig(loadYAML(t, listingsConfig))
	require.NoError(t, err)

	p, err := Build(specs[0], schema.NewRegistry())
	require.NoError(t, err)

	assert.Equal(t, "listings", p.Source.Name())
	assert.Equal(t, "warehouse", p.Sink.Name())
	require.NotNil(t, p.DeadLetter)
	assert.Equal(t, "rejects", p.DeadLetter.Name())
	require.NotNil(t, p.Chain)
	assert.Equal(t, transform.FailFast, p.Chain.Policy())
	assert.Equal(t, 2, p.Chain.Len())
	assert.Equal(t, 250, p.Batch.MaxCount)
}

func TestBuildErrors(t *testing.T) {
	registry := schema.NewRegistry()

	spec := Spec{Name: "p"}
	spec.Source.Name = "s"
	spec.Source.Type = "carrier-pigeon"
	_, err := Build(spec, registry)
	assert.Error(t, err)

	specs, perr := ParseConfig(loadYAML(t, listingsConfig))
	require.NoError(t, perr)

	bad := specs[0]
	bad.SchemaMode = "loose"
	_, err = Build(bad, registry)
	assert.Error(t, err)

	bad = specs[0]
	bad.OnError = "panic"
	_, err = Build(bad, registry)
	assert.Error(t, err)

	bad = specs[0]
	bad.Transforms = []transform.Spec{{Type: "bogus"}}
	_, err = Build(bad, registry)
	assert.Error(t, err)
}
