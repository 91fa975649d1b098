package sinks

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSinkUpsertsIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.db")
	snk, err := New(Config{Name: "out", Type: "sqlite", Settings: map[string]string{"path": path}})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, snk.Open(ctx))
	defer snk.Close()

	batch := testBatch(1, 2, 3)
	require.NoError(t, snk.Write(ctx, batch))
	// Replaying the batch leaves the table unchanged.
	require.NoError(t, snk.Write(ctx, batch))
	// An overlapping batch only adds the new offsets.
	require.NoError(t, snk.Write(ctx, testBatch(3, 4)))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&count))
	assert.Equal(t, 4, count)

	var data string
	require.NoError(t, db.QueryRow(
		`SELECT data FROM records WHERE source_id = ? AND offset = ?`, "src", 2,
	).Scan(&data))
	assert.JSONEq(t, `{"offset":2}`, data)
}
