package apis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
	"github.com/RiemaLabs/modular-block-committer/committer"
	"github.com/RiemaLabs/modular-block-committer/storage"
)

func newTestRouter(t *testing.T) (http.Handler, *storage.LevelDB, *committer.Health) {
	store, err := storage.NewMemoryLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "latest_fuel_block", Help: "test"}))

	health := committer.NewHealth()
	return NewRouter(store, health, Options{Gatherer: registry, EnablePprof: true}), store, health
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _, health := newTestRouter(t)

	rec := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	health.Set("block_watcher", true)
	health.Set("commit_listener", false)
	rec = get(t, router, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, []string{"commit_listener"}, body.Failing)
}

func TestLatestSubmission(t *testing.T) {
	router, store, _ := newTestRouter(t)

	rec := get(t, router, "/v1/submissions/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	block := checkpoint.Block{Height: 4, Hash: checkpoint.BlockHash{4}}
	require.NoError(t, store.Insert(context.Background(), checkpoint.Submission{
		Block:           block,
		SubmittalHeight: checkpoint.L1HeightFromUint32(12),
	}))

	rec = get(t, router, "/v1/submissions/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	var body SubmissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Nil(t, body.Error)
	require.NotNil(t, body.Result)
	assert.Equal(t, uint32(4), body.Result.Height)
	assert.Equal(t, block.Hash.String(), body.Result.Hash)
	assert.Equal(t, "12", body.Result.SubmittalHeight)
	assert.False(t, body.Result.Completed)
}

func TestSubmissionByHash(t *testing.T) {
	router, store, _ := newTestRouter(t)
	block := checkpoint.Block{Height: 6, Hash: checkpoint.BlockHash{6}}
	require.NoError(t, store.Insert(context.Background(), checkpoint.Submission{Block: block}))
	_, err := store.MarkCompleted(context.Background(), block.Hash)
	require.NoError(t, err)

	rec := get(t, router, "/v1/submissions/"+block.Hash.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var body SubmissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Result.Completed)

	rec = get(t, router, "/v1/submissions/"+strings.Repeat("ff", checkpoint.BlockHashSize))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, router, "/v1/submissions/zz")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsAndPprof(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "latest_fuel_block")

	rec = get(t, router, "/debug/pprof/cmdline")
	assert.Equal(t, http.StatusOK, rec.Code)
}
