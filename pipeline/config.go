// Package pipeline turns configuration into wired engine pipelines.
package pipeline

import (
	"fmt"

	"github.com/knadh/koanf/v2"
	"github.com/tgk/sluice/engine"
	"github.com/tgk/sluice/internal/batch"
	"github.com/tgk/sluice/internal/schema"
	"github.com/tgk/sluice/internal/transform"
	"github.com/tgk/sluice/sinks"
	"github.com/tgk/sluice/sources"
)

// Spec is the configuration form of one pipeline lane.
type Spec struct {
	Name   string         `koanf:"name" json:"name"`
	Source sources.Config `koanf:"source" json:"source"`
	Sink   sinks.Config   `koanf:"sink" json:"sink"`
	// DeadLetter optionally names a sink receiving batches that exhausted
	// their write retries.
	DeadLetter *sinks.Config `koanf:"dead_letter" json:"dead_letter"`

	Transforms []transform.Spec `koanf:"transforms" json:"transforms"`
	// OnError is the transform failure policy: skip-and-log (default) or
	// fail-fast.
	OnError string `koanf:"on_error" json:"on_error"`
	// SchemaMode is inferred (default) or strict.
	SchemaMode string `koanf:"schema_mode" json:"schema_mode"`

	Batch batch.Config       `koanf:"batch" json:"batch"`
	Retry engine.RetryConfig `koanf:"retry" json:"retry"`
}

// ParseConfig unmarshals the pipelines section of the loaded configuration.
func ParseConfig(ko *koanf.Koanf) ([]Spec, error) {
	var specs []Spec
	if err := ko.Unmarshal("pipelines", &specs); err != nil {
		return nil, fmt.Errorf("unmarshal pipelines: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no pipelines configured")
	}
	for i, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("pipeline %d has no name", i)
		}
	}
	return specs, nil
}

// Build wires a spec into a runnable pipeline. All pipelines share one
// schema registry so a restarted lane sees the versions it registered
// before.
func Build(spec Spec, registry *schema.Registry) (engine.Pipeline, error) {
	var p engine.Pipeline

	src, err := sources.New(spec.Source)
	if err != nil {
		return p, fmt.Errorf("pipeline %s: %w", spec.Name, err)
	}
	snk, err := sinks.New(spec.Sink)
	if err != nil {
		return p, fmt.Errorf("pipeline %s: %w", spec.Name, err)
	}

	var dl sinks.Sink
	if spec.DeadLetter != nil {
		dl, err = sinks.New(*spec.DeadLetter)
		if err != nil {
			return p, fmt.Errorf("pipeline %s: dead-letter: %w", spec.Name, err)
		}
	}

	chain, err := transform.BuildChain(spec.OnError, spec.Transforms)
	if err != nil {
		return p, fmt.Errorf("pipeline %s: %w", spec.Name, err)
	}

	mode, err := schema.ParseMode(spec.SchemaMode)
	if err != nil {
		return p, fmt.Errorf("pipeline %s: %w", spec.Name, err)
	}

	p = engine.Pipeline{
		Source:     src,
		Sink:       snk,
		DeadLetter: dl,
		Resolver:   schema.NewResolver(registry, mode),
		Chain:      chain,
		Batch:      spec.Batch,
		Retry:      spec.Retry,
	}
	return p, nil
}
