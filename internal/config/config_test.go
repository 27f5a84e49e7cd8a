package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

func useConfigFile(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	resetRuntimeConfig()
	t.Cleanup(resetRuntimeConfig)
}

func TestFlattenConfig(t *testing.T) {
	raw := map[string]any{
		"rate-limit": map[string]any{"max requests": 3, "window": "2m"},
		"indexer":    map[string]any{"wallets": []any{" a ", "b", ""}},
		"empty":      nil,
	}
	flat, err := flattenConfig(raw)
	if err != nil {
		t.Fatalf("flattenConfig: %v", err)
	}
	if flat["RATE_LIMIT_MAX_REQUESTS"] != "3" || flat["RATE_LIMIT_WINDOW"] != "2m" {
		t.Fatalf("unexpected rate limit keys: %v", flat)
	}
	if flat["INDEXER_WALLETS"] != "a,b" {
		t.Fatalf("wallets = %q", flat["INDEXER_WALLETS"])
	}
	if _, ok := flat["EMPTY"]; ok {
		t.Fatalf("nil values must be skipped")
	}
}

func TestLoadAPIServerConfigDefaults(t *testing.T) {
	useConfigFile(t, "{}\n")

	cfg, err := LoadAPIServerConfig()
	if err != nil {
		t.Fatalf("LoadAPIServerConfig: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.RateLimit.Backend != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RateLimit.MaxRequests != 5 || cfg.RateLimit.Window != 5*time.Minute {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Sync.PriceDecimals != 6 || cfg.Sync.QuantityDecimals != 9 || cfg.Sync.Commitment != rpc.CommitmentConfirmed {
		t.Fatalf("unexpected sync defaults: %+v", cfg.Sync)
	}
	if !cfg.Sync.ProgramID.IsZero() {
		t.Fatalf("program id should default to unset")
	}
	if cfg.Log.MaxSizeMB != 100 || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Sync.DecodeConcurrency != 8 || cfg.AdminToken != "" {
		t.Fatalf("decode concurrency = %d, admin token set = %t", cfg.Sync.DecodeConcurrency, cfg.AdminToken != "")
	}
}

func TestDecodeConcurrencyAndAdminToken(t *testing.T) {
	useConfigFile(t, "sync:\n  decode_concurrency: 3\n")
	t.Setenv("API_ADMIN_TOKEN", "s3cret")

	cfg, err := LoadAPIServerConfig()
	if err != nil {
		t.Fatalf("LoadAPIServerConfig: %v", err)
	}
	if cfg.Sync.DecodeConcurrency != 3 {
		t.Fatalf("decode concurrency = %d, want 3", cfg.Sync.DecodeConcurrency)
	}
	if cfg.AdminToken != "s3cret" {
		t.Fatalf("admin token not loaded")
	}

	t.Setenv("SYNC_DECODE_CONCURRENCY", "0")
	if _, err := LoadAPIServerConfig(); err == nil {
		t.Fatalf("expected error for zero decode concurrency")
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	useConfigFile(t, strings.Join([]string{
		"rate_limit:",
		"  max_requests: 7",
		"  window: 30s",
		"decoder:",
		"  price_decimals: 9",
		"api:",
		"  listen_addr: \":9000\"",
	}, "\n"))
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "2")

	cfg, err := LoadAPIServerConfig()
	if err != nil {
		t.Fatalf("LoadAPIServerConfig: %v", err)
	}
	if cfg.RateLimit.MaxRequests != 2 {
		t.Fatalf("env should win, got %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.Window != 30*time.Second || cfg.Sync.PriceDecimals != 9 || cfg.ListenAddr != ":9000" {
		t.Fatalf("file values not applied: %+v", cfg)
	}

	source, err := CurrentConfigSource()
	if err != nil || !source.Loaded {
		t.Fatalf("expected loaded source, got %+v (%v)", source, err)
	}
}

func TestInvalidValues(t *testing.T) {
	useConfigFile(t, "{}\n")

	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	if _, err := LoadAPIServerConfig(); err == nil {
		t.Fatalf("expected error for redis backend without address")
	}
	t.Setenv("RATE_LIMIT_BACKEND", "memory")
	t.Setenv("DECODER_FEE_DECIMALS", "40")
	if _, err := LoadAPIServerConfig(); err == nil {
		t.Fatalf("expected error for out of range decimals")
	}
}

func TestLoadIndexerConfigWallets(t *testing.T) {
	useConfigFile(t, "indexer:\n  wallets:\n    - \"11111111111111111111111111111111\"\n")

	cfg, err := LoadIndexerConfig()
	if err != nil {
		t.Fatalf("LoadIndexerConfig: %v", err)
	}
	if len(cfg.Wallets) != 1 || cfg.PollInterval != 5*time.Minute {
		t.Fatalf("unexpected indexer config: %+v", cfg)
	}

	t.Setenv("INDEXER_WALLETS", "not-a-wallet")
	if _, err := LoadIndexerConfig(); err == nil {
		t.Fatalf("expected invalid wallet error")
	}
}

func TestLocalConfigMatchesDefaults(t *testing.T) {
	useConfigFile(t, "{}\n")
	defaults, err := LoadAPIServerConfig()
	if err != nil {
		t.Fatalf("LoadAPIServerConfig defaults: %v", err)
	}

	body, err := os.ReadFile(filepath.Join("..", "..", "config", "config-local.yaml"))
	if err != nil {
		t.Fatalf("read config-local.yaml: %v", err)
	}
	useConfigFile(t, string(body))
	local, err := LoadAPIServerConfig()
	if err != nil {
		t.Fatalf("LoadAPIServerConfig local: %v", err)
	}

	if local.RateLimit.RedisPrefix != defaults.RateLimit.RedisPrefix {
		t.Fatalf("redis prefix = %q, default %q", local.RateLimit.RedisPrefix, defaults.RateLimit.RedisPrefix)
	}
	if !strings.HasSuffix(local.RateLimit.RedisPrefix, ":") {
		t.Fatalf("redis prefix %q must end with a separator", local.RateLimit.RedisPrefix)
	}
	if local.Sync.DecodeConcurrency != defaults.Sync.DecodeConcurrency || local.AdminToken != "" {
		t.Fatalf("local sync/admin = %d/%t", local.Sync.DecodeConcurrency, local.AdminToken != "")
	}
}
