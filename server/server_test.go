package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tgk/sluice/engine"
	"github.com/tgk/sluice/internal/checkpoint"
	"github.com/tgk/sluice/internal/metrics"
)

func TestAdminEndpoints(t *testing.T) {
	eng := engine.New(checkpoint.NewMemoryStore(), metrics.New())
	srv := httptest.NewServer(Handler(eng, metrics.New()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status struct {
		State   string                `json:"state"`
		Sources []engine.SourceReport `json:"sources"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "idle", status.State)
	assert.Empty(t, status.Sources)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
