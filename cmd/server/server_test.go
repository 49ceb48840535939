package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dex-analytics/internal/config"
	"dex-analytics/internal/domain"
)

func TestSelectChains(t *testing.T) {
	reg, err := selectChains([]int64{domain.ChainAvalanche})
	require.NoError(t, err)
	assert.Equal(t, []int64{domain.ChainAvalanche}, reg.IDs())

	_, err = selectChains([]int64{1})
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	cmd := serveCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--use-memory", "--http-addr", ":9999", "--env", "development"}))

	cfg := config.Default()
	require.NoError(t, applyFlags(cmd, &cfg))
	assert.True(t, cfg.UseMemory)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.False(t, cfg.IsProduction())

	cmd = serveCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--env", "staging"}))
	cfg = config.Default()
	cfg.UseMemory = true
	assert.Error(t, applyFlags(cmd, &cfg))
}

func TestNewServer_MemoryStatus(t *testing.T) {
	cfg := config.Default()
	cfg.UseMemory = true

	srv, err := newServer(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "running", st.Status)
	assert.Empty(t, st.Tasks, "no rpc urls, no log tasks")

	rec = httptest.NewRecorder()
	srv.api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/candles/ETH?period=5m", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
