// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dex-analytics/internal/domain"
)

// Environment names.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config holds all server settings. Zero values are replaced by defaults in Load.
type Config struct {
	Env       string
	HTTPAddr  string
	UseMemory bool

	PostgresDSN   string
	ClickhouseDSN string
	RedisAddr     string

	ChainIDs       []int64
	RPCURLs        map[int64]string
	GraphURLs      map[int64]string
	OracleURL      string
	FastPriceWSURL string

	DefaultChainID int64
	DefaultSource  domain.Source

	RequestTimeout time.Duration
	MaxRetries     int
	PageSize       int
	PageShards     int

	LoadNewInterval time.Duration
	LoadOldInterval time.Duration
	FailureBackoff  time.Duration
	MaxFailures     int
	SeenWindow      int // periods kept behind the frontier
	SeenCap         int

	LogPollInterval    time.Duration
	LedgerInterval     time.Duration
	LogBlockWindow     uint64
	LogStartBlocks     map[int64]uint64
	LedgerPageLimit    int
	SchedulerTick      time.Duration
	RangeCacheTTL      time.Duration
	RangeCacheSize     int
	ArchiveWarmPeriods int
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Env:                EnvProduction,
		HTTPAddr:           ":3113",
		ChainIDs:           []int64{domain.ChainArbitrum, domain.ChainAvalanche},
		RPCURLs:            map[int64]string{},
		GraphURLs:          map[int64]string{},
		LogStartBlocks:     map[int64]uint64{},
		DefaultChainID:     domain.ChainArbitrum,
		DefaultSource:      domain.SourceChainlink,
		RequestTimeout:     15 * time.Second,
		MaxRetries:         4,
		PageSize:           1000,
		PageShards:         4,
		LoadNewInterval:    30 * time.Second,
		LoadOldInterval:    5 * time.Second,
		FailureBackoff:     5 * time.Minute,
		MaxFailures:        3,
		SeenWindow:         50,
		SeenCap:            20000,
		LogPollInterval:    5 * time.Second,
		LedgerInterval:     10 * time.Second,
		LogBlockWindow:     2000,
		LedgerPageLimit:    1000,
		SchedulerTick:      time.Second,
		RangeCacheTTL:      60 * time.Second,
		RangeCacheSize:     1000,
		ArchiveWarmPeriods: 5000,
	}
}

// IsProduction reports whether invariant violations are tolerated instead of surfaced.
func (c *Config) IsProduction() bool {
	return c.Env != EnvDevelopment
}

// Load reads the configuration with Parse and validates it.
func Load(envFile string) (Config, error) {
	cfg, err := Parse(envFile)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse reads an optional env file and then the process environment without validating,
// so callers can apply overrides first.
func Parse(envFile string) (Config, error) {
	if envFile != "" {
		LoadEnvFile(envFile)
	}

	cfg := Default()
	cfg.Env = getenv("ENV", cfg.Env)
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	cfg.ClickhouseDSN = os.Getenv("CLICKHOUSE_DSN")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.OracleURL = os.Getenv("ORACLE_URL")
	cfg.FastPriceWSURL = os.Getenv("FAST_PRICE_WS_URL")

	var err error
	if cfg.UseMemory, err = getbool("USE_MEMORY", false); err != nil {
		return cfg, err
	}
	if v := os.Getenv("CHAIN_IDS"); v != "" {
		if cfg.ChainIDs, err = ParseChainIDs(v); err != nil {
			return cfg, err
		}
	}
	if cfg.DefaultChainID, err = getint64("DEFAULT_CHAIN_ID", cfg.DefaultChainID); err != nil {
		return cfg, err
	}
	if v := os.Getenv("DEFAULT_SOURCE"); v != "" {
		src, ok := domain.ParseSource(v)
		if !ok {
			return cfg, fmt.Errorf("DEFAULT_SOURCE: unknown source %q", v)
		}
		cfg.DefaultSource = src
	}
	if cfg.RequestTimeout, err = getduration("REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return cfg, err
	}
	if cfg.LoadNewInterval, err = getduration("LOAD_NEW_INTERVAL", cfg.LoadNewInterval); err != nil {
		return cfg, err
	}
	if cfg.LogPollInterval, err = getduration("LOG_POLL_INTERVAL", cfg.LogPollInterval); err != nil {
		return cfg, err
	}
	if cfg.LedgerInterval, err = getduration("LEDGER_INTERVAL", cfg.LedgerInterval); err != nil {
		return cfg, err
	}

	for _, id := range cfg.ChainIDs {
		suffix := strconv.FormatInt(id, 10)
		if v := os.Getenv("RPC_URL_" + suffix); v != "" {
			cfg.RPCURLs[id] = v
		}
		if v := os.Getenv("GRAPH_URL_" + suffix); v != "" {
			cfg.GraphURLs[id] = v
		}
		if v := os.Getenv("LOG_START_BLOCK_" + suffix); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return cfg, fmt.Errorf("LOG_START_BLOCK_%s: %w", suffix, err)
			}
			cfg.LogStartBlocks[id] = n
		}
	}

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Env != EnvProduction && c.Env != EnvDevelopment {
		return fmt.Errorf("ENV must be %q or %q, got %q", EnvProduction, EnvDevelopment, c.Env)
	}
	if !c.UseMemory && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set USE_MEMORY=true for in-memory storage)")
	}
	if len(c.ChainIDs) == 0 {
		return fmt.Errorf("at least one chain id is required")
	}
	found := false
	for _, id := range c.ChainIDs {
		if id == c.DefaultChainID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("DEFAULT_CHAIN_ID %d is not among CHAIN_IDS", c.DefaultChainID)
	}
	if c.PageSize <= 0 || c.PageShards <= 0 || c.MaxRetries <= 0 {
		return fmt.Errorf("page size, shards and retries must be positive")
	}
	return nil
}

// ParseChainIDs parses a comma-separated list of chain ids.
func ParseChainIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse chain id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LoadEnvFile sets variables from a KEY=VALUE file without overriding the environment.
// A missing file is ignored.
func LoadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getbool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getint64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getduration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
