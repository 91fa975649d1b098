package sources

import (
	"context"
	"fmt"
	"sync"

	"github.com/tgk/sluice/internal/models"
)

// SourceError marks a connectivity or read failure at a source. The engine
// retries these with backoff before giving up on the source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Config is the configuration form of a source connector.
type Config struct {
	// Name is the source id; it keys checkpoints and schema versions.
	Name string `koanf:"name" json:"name"`
	// Type selects the registered connector.
	Type string `koanf:"type" json:"type"`
	// Settings are connector-specific.
	Settings map[string]string `koanf:"config" json:"config"`
}

func (c Config) setting(key string) (string, error) {
	v, ok := c.Settings[key]
	if !ok || v == "" {
		return "", fmt.Errorf("source %s: missing config value %q", c.Name, key)
	}
	return v, nil
}

// Source produces a lazy sequence of records from an external origin.
//
// Next returns io.EOF at end of stream and may block waiting for new data;
// it must honor ctx cancellation. Offsets must not skip or duplicate under
// normal operation; duplicates after a restart are tolerated because sinks
// write idempotently.
type Source interface {
	// Open prepares the source, resuming at fromOffset. Zero means the
	// beginning of the stream.
	Open(ctx context.Context, fromOffset uint64) error
	Next(ctx context.Context) (*models.Record, error)
	// Name is the source id.
	Name() string
	Close() error
}

// Factory builds a connector from its configuration.
type Factory func(cfg Config) (Source, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a connector type available to New. Connectors register
// themselves from init.
func Register(sourceType string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[sourceType] = f
}

// New builds the connector named by cfg.Type.
func New(cfg Config) (Source, error) {
	mu.RLock()
	f, ok := factories[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("source of type %q has no name", cfg.Type)
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
