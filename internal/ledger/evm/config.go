// Package evm implements the ledger adapter against EVM-compatible chains:
// it translates domain transactions into contract calls, reconstructs object
// state from reads and historical events, and polls the chain for new events.
package evm

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/recolist/ledger-adapter/internal/platform/kafka"
)

// Config holds the configuration for the EVM ledger adapter.
type Config struct {
	// Network identifier (ethereum, polygon, base, ...)
	Network string `yaml:"network"`

	// ChainID is the numeric chain ID
	ChainID uint64 `yaml:"chain_id"`

	// NativeCurrency is the fee denomination reported by EstimateFee
	NativeCurrency string `yaml:"native_currency"`

	// RPC endpoint configuration
	RPC RPCConfig `yaml:"rpc"`

	// Signer holds the submission credential
	Signer SignerConfig `yaml:"signer"`

	// Contracts are the logical contract bindings
	Contracts ContractsConfig `yaml:"contracts"`

	// Poller controls the event polling loop
	Poller PollerConfig `yaml:"poller"`

	// Query controls historical event scans
	Query QueryConfig `yaml:"query"`

	// Cursor selects the poll cursor store
	Cursor CursorConfig `yaml:"cursor"`

	// Broker optionally mirrors mapped events to Kafka/Redpanda
	Broker kafka.SinkConfig `yaml:"broker"`
}

// RPCConfig holds RPC connection settings.
type RPCConfig struct {
	URL           string        `yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// SignerConfig holds the signing credential. The key itself is supplied
// externally, either inline (development) or via an environment variable.
type SignerConfig struct {
	// PrivateKey is a hex-encoded secp256k1 key.
	PrivateKey string `yaml:"private_key"`

	// PrivateKeyEnv names an environment variable holding the key. Takes
	// precedence over PrivateKey when set.
	PrivateKeyEnv string `yaml:"private_key_env"`
}

// Key resolves the configured private key material.
func (s SignerConfig) Key() string {
	if s.PrivateKeyEnv != "" {
		if v := os.Getenv(s.PrivateKeyEnv); v != "" {
			return v
		}
	}
	return s.PrivateKey
}

// ContractsConfig binds the logical contract families to addresses.
// Interface descriptions default to the embedded ABIs and can be overridden
// per contract with an external ABI file.
type ContractsConfig struct {
	Recommendation ContractConfig `yaml:"recommendation"`
	Token          ContractConfig `yaml:"token"`
	Governance     ContractConfig `yaml:"governance"`
}

// ContractConfig describes one deployed contract.
type ContractConfig struct {
	Address string `yaml:"address"`
	ABIPath string `yaml:"abi_path"`
}

// PollerConfig controls the event polling loop.
type PollerConfig struct {
	// Interval between poll passes
	Interval time.Duration `yaml:"interval"`

	// StartBlock overrides the initial cursor (0 = connect-time height)
	StartBlock uint64 `yaml:"start_block"`
}

// QueryConfig controls historical event scans.
type QueryConfig struct {
	// WindowBlocks bounds how far back object queries scan. Exhaustive
	// history is deliberately not scanned on every query.
	WindowBlocks uint64 `yaml:"window_blocks"`
}

// CursorConfig selects the poll cursor store. An empty RedisAddr keeps the
// cursor in memory.
type CursorConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Key           string `yaml:"key"`
}

// LoadConfig loads configuration from file and/or flags over defaults.
func LoadConfig(configPath, network, rpcURL string) (*Config, error) {
	cfg := &Config{
		Network:        network,
		NativeCurrency: "ETH",
		RPC: RPCConfig{
			Timeout:       30 * time.Second,
			MaxRetries:    3,
			RetryInterval: 5 * time.Second,
		},
		Poller: PollerConfig{
			Interval: 5 * time.Second,
		},
		Query: QueryConfig{
			WindowBlocks: 10_000,
		},
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if rpcURL != "" {
		cfg.RPC.URL = rpcURL
	}
	if network != "" {
		cfg.Network = network
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = networkToChainID(cfg.Network)
	}
	if cfg.Poller.Interval <= 0 {
		cfg.Poller.Interval = 5 * time.Second
	}
	if cfg.Query.WindowBlocks == 0 {
		cfg.Query.WindowBlocks = 10_000
	}

	return cfg, nil
}

func networkToChainID(network string) uint64 {
	switch network {
	case "ethereum":
		return 1
	case "polygon":
		return 137
	case "arbitrum":
		return 42161
	case "optimism":
		return 10
	case "base":
		return 8453
	case "avalanche":
		return 43114
	case "bsc":
		return 56
	default:
		return 0
	}
}

func networkName(chainID uint64) string {
	switch chainID {
	case 1:
		return "ethereum"
	case 137:
		return "polygon"
	case 42161:
		return "arbitrum"
	case 10:
		return "optimism"
	case 8453:
		return "base"
	case 43114:
		return "avalanche"
	case 56:
		return "bsc"
	default:
		return "unknown"
	}
}
