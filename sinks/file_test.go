package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tgk/sluice/internal/models"
)

func testBatch(offsets ...uint64) *models.Batch {
	b := models.NewBatch("src")
	for _, off := range offsets {
		b.Append(models.New("src", off, []models.Field{
			{Name: "offset", Value: models.Int(int64(off))},
		}))
	}
	return b
}

func readEnvelopes(t *testing.T, path string) []fileEnvelope {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []fileEnvelope
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var env fileEnvelope
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
		out = append(out, env)
	}
	require.NoError(t, scanner.Err())
	return out
}

func openFileSink(t *testing.T, path string) Sink {
	t.Helper()
	snk, err := New(Config{Name: "out", Type: "file", Settings: map[string]string{"path": path}})
	require.NoError(t, err)
	require.NoError(t, snk.Open(context.Background()))
	return snk
}

func TestFileSinkWritesEnvelopes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	snk := openFileSink(t, path)
	defer snk.Close()

	require.NoError(t, snk.Write(context.Background(), testBatch(1, 2, 3)))

	envs := readEnvelopes(t, path)
	require.Len(t, envs, 3)
	assert.Equal(t, "src", envs[0].SourceID)
	assert.Equal(t, uint64(1), envs[0].Offset)
	assert.Equal(t, uint64(3), envs[2].Offset)
	assert.JSONEq(t, `{"offset":2}`, string(envs[1].Data))
}

func TestFileSinkDeduplicatesReplays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	snk := openFileSink(t, path)
	defer snk.Close()

	ctx := context.Background()
	batch := testBatch(1, 2, 3)
	require.NoError(t, snk.Write(ctx, batch))
	// A retried batch must not duplicate rows.
	require.NoError(t, snk.Write(ctx, batch))

	assert.Len(t, readEnvelopes(t, path), 3)

	// Overlapping replay after a crash: only the new offsets land.
	require.NoError(t, snk.Write(ctx, testBatch(2, 3, 4, 5)))
	envs := readEnvelopes(t, path)
	require.Len(t, envs, 5)
	assert.Equal(t, uint64(5), envs[4].Offset)
}

func TestFileSinkDedupeSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")

	snk := openFileSink(t, path)
	require.NoError(t, snk.Write(context.Background(), testBatch(1, 2, 3)))
	require.NoError(t, snk.Close())

	reopened := openFileSink(t, path)
	defer reopened.Close()
	require.NoError(t, reopened.Write(context.Background(), testBatch(3, 4)))

	envs := readEnvelopes(t, path)
	require.Len(t, envs, 4)
	assert.Equal(t, uint64(4), envs[3].Offset)
}

func TestSinkRegistry(t *testing.T) {
	_, err := New(Config{Name: "x", Type: "telegraph"})
	assert.Error(t, err)

	_, err = New(Config{Type: "file", Settings: map[string]string{"path": "p"}})
	assert.Error(t, err)

	assert.Contains(t, Types(), "file")
	assert.Contains(t, Types(), "sqlite")
}
