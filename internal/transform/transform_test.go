package transform

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tgk/sluice/internal/models"
)

func intRecord(offset uint64, n int64) *models.Record {
	return models.New("src", offset, []models.Field{
		{Name: "n", Value: models.Int(n)},
	})
}

func failAt(offset uint64) Stage {
	return StageFunc{
		ID: "fail-at",
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			if rec.Offset == offset {
				return nil, fmt.Errorf("offset %d rejected", offset)
			}
			return []*models.Record{rec}, nil
		},
	}
}

func duplicate() Stage {
	return StageFunc{
		ID: "duplicate",
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			return []*models.Record{rec, rec.Clone()}, nil
		},
	}
}

func TestChainIdentity(t *testing.T) {
	c := NewChain(SkipAndLog)
	rec := intRecord(1, 10)
	out, err := c.Apply(rec)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Same(t, rec, out[0])
}

func TestChainSkipAndLogDrops(t *testing.T) {
	var dropped []*models.Record
	c := NewChain(SkipAndLog, failAt(2))
	c.OnDrop = func(rec *models.Record, err error) {
		dropped = append(dropped, rec)
		var terr *TransformError
		assert.ErrorAs(t, err, &terr)
	}

	out, err := c.Apply(intRecord(1, 1))
	require.NoError(t, err)
	assert.Len(t, out, 1)

	out, err = c.Apply(intRecord(2, 2))
	require.NoError(t, err)
	assert.Nil(t, out)
	require.Len(t, dropped, 1)
	assert.Equal(t, uint64(2), dropped[0].Offset)
}

func TestChainFailFast(t *testing.T) {
	c := NewChain(FailFast, failAt(2))

	_, err := c.Apply(intRecord(1, 1))
	require.NoError(t, err)

	_, err = c.Apply(intRecord(2, 2))
	require.Error(t, err)
	var terr *TransformError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "fail-at", terr.Stage)
	assert.Equal(t, uint64(2), terr.Record.Offset)
}

func TestChainFanOutThenPartialDrop(t *testing.T) {
	// The duplicate stage fans one record out to two; the failing stage then
	// drops both copies of offset 2 but keeps both copies of offset 1.
	c := NewChain(SkipAndLog, duplicate(), failAt(2))

	out, err := c.Apply(intRecord(1, 1))
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = c.Apply(intRecord(2, 2))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestChainFilterShortCircuits(t *testing.T) {
	calls := 0
	counting := StageFunc{
		ID: "counting",
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			calls++
			return []*models.Record{rec}, nil
		},
	}
	filterAll := StageFunc{
		ID: "filter-all",
		Fn: func(rec *models.Record) ([]*models.Record, error) {
			return nil, nil
		},
	}

	c := NewChain(FailFast, filterAll, counting)
	out, err := c.Apply(intRecord(1, 1))
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Zero(t, calls)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, SkipAndLog, p)

	p, err = ParsePolicy("fail-fast")
	require.NoError(t, err)
	assert.Equal(t, FailFast, p)

	_, err = ParsePolicy("panic")
	assert.Error(t, err)
}

func TestTransformErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	terr := &TransformError{Record: intRecord(1, 1), Stage: "s", Err: inner}
	assert.ErrorIs(t, terr, inner)
	assert.Contains(t, terr.Error(), "stage s")
}
