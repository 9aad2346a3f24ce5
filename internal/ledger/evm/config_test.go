package evm

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", "ethereum", "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.ChainID != 1 {
		t.Errorf("chain id = %d, want 1", cfg.ChainID)
	}
	if cfg.NativeCurrency != "ETH" {
		t.Errorf("native currency = %q, want ETH", cfg.NativeCurrency)
	}
	if cfg.Poller.Interval != 5*time.Second {
		t.Errorf("poll interval = %v, want 5s", cfg.Poller.Interval)
	}
	if cfg.Query.WindowBlocks != 10_000 {
		t.Errorf("query window = %d, want 10000", cfg.Query.WindowBlocks)
	}
	if cfg.RPC.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", cfg.RPC.MaxRetries)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
network: polygon
native_currency: POL
rpc:
  url: https://polygon.example/rpc
contracts:
  recommendation:
    address: "0x1000000000000000000000000000000000000001"
  token:
    address: "0x1000000000000000000000000000000000000002"
  governance:
    address: "0x1000000000000000000000000000000000000003"
poller:
  start_block: 4200
query:
  window_blocks: 500
cursor:
  redis_addr: localhost:6379
  key: ledger:polygon:cursor
broker:
  addresses: ["localhost:9092"]
  topic: ledger-events
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path, "", "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Network != "polygon" || cfg.ChainID != 137 {
		t.Errorf("network = (%s, %d), want (polygon, 137)", cfg.Network, cfg.ChainID)
	}
	if cfg.RPC.URL != "https://polygon.example/rpc" {
		t.Errorf("rpc url = %q", cfg.RPC.URL)
	}
	if cfg.Poller.StartBlock != 4200 {
		t.Errorf("start block = %d, want 4200", cfg.Poller.StartBlock)
	}
	if cfg.Poller.Interval != 5*time.Second {
		t.Errorf("poll interval = %v, want default 5s", cfg.Poller.Interval)
	}
	if cfg.Query.WindowBlocks != 500 {
		t.Errorf("query window = %d, want 500", cfg.Query.WindowBlocks)
	}
	if cfg.Cursor.RedisAddr != "localhost:6379" || cfg.Cursor.Key != "ledger:polygon:cursor" {
		t.Errorf("cursor = %+v", cfg.Cursor)
	}
	if len(cfg.Broker.Addresses) != 1 || cfg.Broker.Topic != "ledger-events" {
		t.Errorf("broker = %+v", cfg.Broker)
	}
	if cfg.Contracts.Token.Address != "0x1000000000000000000000000000000000000002" {
		t.Errorf("token address = %q", cfg.Contracts.Token.Address)
	}
}

// Flags override the file, which overrides defaults.
func TestLoadConfigFlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
network: polygon
rpc:
  url: https://polygon.example/rpc
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path, "base", "https://base.example/rpc")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Network != "base" || cfg.ChainID != 8453 {
		t.Errorf("network = (%s, %d), want (base, 8453)", cfg.Network, cfg.ChainID)
	}
	if cfg.RPC.URL != "https://base.example/rpc" {
		t.Errorf("rpc url = %q, want flag value", cfg.RPC.URL)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/no/such/config.yaml", "ethereum", ""); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestNetworkChainIDMapping(t *testing.T) {
	pairs := map[string]uint64{
		"ethereum":  1,
		"polygon":   137,
		"arbitrum":  42161,
		"optimism":  10,
		"base":      8453,
		"avalanche": 43114,
		"bsc":       56,
		"devnet":    0,
	}
	for network, want := range pairs {
		if got := networkToChainID(network); got != want {
			t.Errorf("networkToChainID(%s) = %d, want %d", network, got, want)
		}
	}
	if networkName(8453) != "base" {
		t.Errorf("networkName(8453) = %q, want base", networkName(8453))
	}
	if networkName(999) != "unknown" {
		t.Errorf("networkName(999) = %q, want unknown", networkName(999))
	}
}

func TestSignerKeyResolution(t *testing.T) {
	t.Run("env takes precedence", func(t *testing.T) {
		t.Setenv("LEDGER_TEST_KEY", "aa11")
		s := SignerConfig{PrivateKey: "inline", PrivateKeyEnv: "LEDGER_TEST_KEY"}
		if s.Key() != "aa11" {
			t.Errorf("key = %q, want env value", s.Key())
		}
	})

	t.Run("falls back to inline", func(t *testing.T) {
		s := SignerConfig{PrivateKey: "inline", PrivateKeyEnv: "LEDGER_TEST_KEY_UNSET"}
		if s.Key() != "inline" {
			t.Errorf("key = %q, want inline value", s.Key())
		}
	})
}
