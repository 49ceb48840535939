package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-analytics/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("USE_MEMORY", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, cfg.Env)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, domain.ChainArbitrum, cfg.DefaultChainID)
	assert.Equal(t, domain.SourceChainlink, cfg.DefaultSource)
	assert.Equal(t, 60*time.Second, cfg.RangeCacheTTL)
}

func TestLoad_PerChainURLs(t *testing.T) {
	t.Setenv("USE_MEMORY", "true")
	t.Setenv("CHAIN_IDS", "42161")
	t.Setenv("RPC_URL_42161", "http://rpc")
	t.Setenv("GRAPH_URL_42161", "http://graph")
	t.Setenv("LOG_START_BLOCK_42161", "123")
	t.Setenv("ENV", "development")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []int64{42161}, cfg.ChainIDs)
	assert.Equal(t, "http://rpc", cfg.RPCURLs[42161])
	assert.Equal(t, "http://graph", cfg.GraphURLs[42161])
	assert.Equal(t, uint64(123), cfg.LogStartBlocks[42161])
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("USE_MEMORY", "false")
	t.Setenv("POSTGRES_DSN", "")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("USE_MEMORY", "true")
	t.Setenv("DEFAULT_SOURCE", "bogus")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoadEnvFile_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nDEXA_TEST_A=file\nDEXA_TEST_B=\"quoted\"\n"), 0o600))
	t.Setenv("DEXA_TEST_A", "env")
	t.Setenv("DEXA_TEST_B", "")

	LoadEnvFile(path)
	assert.Equal(t, "env", os.Getenv("DEXA_TEST_A"))
	assert.Equal(t, "quoted", os.Getenv("DEXA_TEST_B"))
}
