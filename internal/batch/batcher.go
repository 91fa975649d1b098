package batch

import (
	"time"

	"github.com/tgk/sluice/internal/models"
)

const (
	DefaultMaxCount = 500
	DefaultMaxBytes = 1 << 20
	DefaultMaxAge   = 5 * time.Second
)

// Config bounds a batch. Whichever trigger fires first closes the batch.
type Config struct {
	// MaxCount closes the batch when it holds this many records.
	MaxCount int `koanf:"max_count" json:"max_count"`
	// MaxBytes closes the batch when the accumulated serialized size
	// reaches this many bytes.
	MaxBytes int `koanf:"max_bytes" json:"max_bytes"`
	// MaxAge closes the batch this long after its first record arrived.
	MaxAge time.Duration `koanf:"max_age" json:"max_age"`
}

func (c Config) withDefaults() Config {
	if c.MaxCount <= 0 {
		c.MaxCount = DefaultMaxCount
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}

// Batcher accumulates transformed records into bounded batches for one
// source. Not safe for concurrent use; each source runner owns one.
type Batcher struct {
	cfg      Config
	sourceID string

	cur     *models.Batch
	firstAt time.Time

	// now is swappable for tests.
	now func() time.Time
}

func New(sourceID string, cfg Config) *Batcher {
	return &Batcher{
		cfg:      cfg.withDefaults(),
		sourceID: sourceID,
		now:      time.Now,
	}
}

// Add appends a group of records sharing one source offset (an input record
// plus its fan-out siblings) and returns the batch when the count or byte
// trigger fires. The group always lands in a single batch: a committed
// checkpoint must cover every record of its offset, so equal-offset records
// are never split across batches. The time trigger is the caller's concern:
// poll Deadline between pulls and Flush when it passes.
func (b *Batcher) Add(recs ...*models.Record) *models.Batch {
	if len(recs) == 0 {
		return nil
	}
	if b.cur == nil {
		b.cur = models.NewBatch(b.sourceID)
		b.firstAt = b.now()
	}
	for _, rec := range recs {
		b.cur.Append(rec)
	}
	if b.cur.Len() >= b.cfg.MaxCount || b.cur.Size() >= b.cfg.MaxBytes {
		return b.take()
	}
	return nil
}

// Deadline reports when the open batch must close due to age. ok is false
// while no batch is open.
func (b *Batcher) Deadline() (deadline time.Time, ok bool) {
	if b.cur == nil {
		return time.Time{}, false
	}
	return b.firstAt.Add(b.cfg.MaxAge), true
}

// Due reports whether the open batch has exceeded its age bound.
func (b *Batcher) Due() bool {
	deadline, ok := b.Deadline()
	return ok && !b.now().Before(deadline)
}

// Flush closes and returns the partial batch, nil when none is open. Called
// on the time trigger and on graceful drain so records are never discarded.
func (b *Batcher) Flush() *models.Batch {
	if b.cur == nil {
		return nil
	}
	return b.take()
}

// Pending is the number of records in the open batch.
func (b *Batcher) Pending() int {
	if b.cur == nil {
		return 0
	}
	return b.cur.Len()
}

func (b *Batcher) take() *models.Batch {
	out := b.cur
	b.cur = nil
	b.firstAt = time.Time{}
	return out
}
