package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/tgk/sluice/internal/models"
)

// SinkError marks a failed batch write. The engine retries the same batch
// with backoff; exhaustion routes the batch to the dead-letter sink or
// stops the source.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Config is the configuration form of a sink connector.
type Config struct {
	Name string `koanf:"name" json:"name"`
	// Type selects the registered connector.
	Type string `koanf:"type" json:"type"`
	// Settings are connector-specific.
	Settings map[string]string `koanf:"config" json:"config"`
}

func (c Config) setting(key string) (string, error) {
	v, ok := c.Settings[key]
	if !ok || v == "" {
		return "", fmt.Errorf("sink %s: missing config value %q", c.Name, key)
	}
	return v, nil
}

// Sink durably writes batches to an external destination.
//
// Write must be idempotent per batch — keyed by (source id, offset) — since
// the engine retries failed writes and a crash-restart replays the last
// uncommitted batch. Returning nil implies the batch is durable at the
// destination.
type Sink interface {
	Open(ctx context.Context) error
	Write(ctx context.Context, b *models.Batch) error
	Name() string
	Close() error
}

// Factory builds a connector from its configuration.
type Factory func(cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a connector type available to New.
func Register(sinkType string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[sinkType] = f
}

// New builds the connector named by cfg.Type.
func New(cfg Config) (Sink, error) {
	mu.RLock()
	f, ok := factories[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("sink of type %q has no name", cfg.Type)
	}
	return f(cfg)
}

// Types lists the registered connector types.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	return out
}
