package batch

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tgk/sluice/internal/models"
)

func rec(offset uint64, payload string) *models.Record {
	return models.New("src", offset, []models.Field{
		{Name: "data", Value: models.String(payload)},
	})
}

func TestCountTrigger(t *testing.T) {
	b := New("src", Config{MaxCount: 4, MaxBytes: 1 << 20, MaxAge: time.Hour})

	for i := uint64(1); i <= 3; i++ {
		assert.Nil(t, b.Add(rec(i, "x")))
	}
	full := b.Add(rec(4, "x"))
	require.NotNil(t, full)
	assert.Equal(t, 4, full.Len())
	assert.Equal(t, uint64(1), full.FirstOffset())
	assert.Equal(t, uint64(4), full.LastOffset())

	// The fifth record opens a fresh batch.
	assert.Nil(t, b.Add(rec(5, "x")))
	assert.Equal(t, 1, b.Pending())
}

func TestBytesTrigger(t *testing.T) {
	b := New("src", Config{MaxCount: 1000, MaxBytes: 1500, MaxAge: time.Hour})

	big := strings.Repeat("x", 600)
	assert.Nil(t, b.Add(rec(1, big)))
	assert.Nil(t, b.Add(rec(2, big)))
	full := b.Add(rec(3, big))
	require.NotNil(t, full)
	assert.Equal(t, 3, full.Len())
	assert.GreaterOrEqual(t, full.Size(), 1500)
}

func TestEqualOffsetGroupStaysWhole(t *testing.T) {
	b := New("src", Config{MaxCount: 1, MaxBytes: 1 << 20, MaxAge: time.Hour})

	// Fan-out siblings share the input's offset and arrive as one group;
	// the trigger fires only after the whole group is in.
	full := b.Add(rec(1, "a"), rec(1, "b"))
	require.NotNil(t, full)
	assert.Equal(t, 2, full.Len())
	assert.Equal(t, uint64(1), full.FirstOffset())
	assert.Equal(t, uint64(1), full.LastOffset())
	assert.Zero(t, b.Pending())

	// A group straddling the count bound closes one oversized batch rather
	// than splitting the offset.
	b = New("src", Config{MaxCount: 3, MaxBytes: 1 << 20, MaxAge: time.Hour})
	assert.Nil(t, b.Add(rec(1, "x"), rec(1, "y")))
	full = b.Add(rec(2, "x"), rec(2, "y"))
	require.NotNil(t, full)
	assert.Equal(t, 4, full.Len())
	assert.Equal(t, uint64(2), full.LastOffset())

	assert.Nil(t, b.Add())
}

func TestFlush(t *testing.T) {
	b := New("src", Config{MaxCount: 10})

	assert.Nil(t, b.Flush())

	b.Add(rec(1, "x"))
	b.Add(rec(2, "x"))
	partial := b.Flush()
	require.NotNil(t, partial)
	assert.Equal(t, 2, partial.Len())
	assert.Zero(t, b.Pending())
	assert.Nil(t, b.Flush())
}

func TestAgeDeadline(t *testing.T) {
	base := time.Now()
	now := base
	b := New("src", Config{MaxCount: 100, MaxAge: 5 * time.Second})
	b.now = func() time.Time { return now }

	_, ok := b.Deadline()
	assert.False(t, ok)
	assert.False(t, b.Due())

	b.Add(rec(1, "x"))
	deadline, ok := b.Deadline()
	require.True(t, ok)
	assert.Equal(t, base.Add(5*time.Second), deadline)
	assert.False(t, b.Due())

	now = base.Add(5 * time.Second)
	assert.True(t, b.Due())

	// Flushing resets the clock for the next batch.
	b.Flush()
	_, ok = b.Deadline()
	assert.False(t, ok)
}

func TestDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultMaxCount, cfg.MaxCount)
	assert.Equal(t, DefaultMaxBytes, cfg.MaxBytes)
	assert.Equal(t, DefaultMaxAge, cfg.MaxAge)
}
