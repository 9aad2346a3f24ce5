package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/recolist/ledger-adapter/internal/delivery/subscribe"
	"github.com/recolist/ledger-adapter/internal/ledger"
	"github.com/recolist/ledger-adapter/internal/ledger/evm"
	"github.com/recolist/ledger-adapter/internal/platform/cursor"
	"github.com/recolist/ledger-adapter/internal/platform/kafka"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	network := flag.String("network", "ethereum", "network to connect to (ethereum, polygon, arbitrum, optimism, base, avalanche, bsc)")
	rpcURL := flag.String("rpc", "", "RPC endpoint URL")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	level := parseLogLevel(*logLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting ledger adapter",
		"network", *network,
		"config", *configPath,
	)

	cfg, err := evm.LoadConfig(*configPath, *network, *rpcURL)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	store := buildCursorStore(cfg, logger)
	defer store.Close()

	var sink evm.EventSink
	if len(cfg.Broker.Addresses) > 0 {
		ensureCtx, cancelEnsure := context.WithTimeout(context.Background(), 30*time.Second)
		err := kafka.EnsureTopic(ensureCtx, cfg.Broker, kafka.DefaultTopicSpec())
		cancelEnsure()
		if err != nil {
			logger.Error("failed to ensure events topic", "error", err)
			os.Exit(1)
		}
		kafkaSink, err := kafka.NewSink(cfg.Broker, logger)
		if err != nil {
			logger.Error("failed to connect broker sink", "error", err)
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sink = kafkaSink
	}

	subscribers := subscribe.NewRegistry(logger)
	adapter, err := evm.NewAdapter(cfg, subscribers, store, sink, logger)
	if err != nil {
		logger.Error("failed to create adapter", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !adapter.Connect(ctx) {
		logger.Error("failed to connect to ledger")
		os.Exit(1)
	}
	defer adapter.Disconnect()

	// Trace every mapped event so the binary is observable on its own.
	adapter.SubscribeToEvents(ledger.Wildcard, func(event ledger.ChainEvent) {
		logger.Debug("ledger event",
			"event_id", event.EventID,
			"type", event.Type,
			"object_id", event.ObjectID,
			"commit_number", event.CommitNumber,
		)
	})

	info := adapter.GetNetworkInfo(ctx)
	logger.Info("adapter ready",
		"chain_id", info.ChainID,
		"network", info.NetworkName,
		"block_height", info.BlockHeight,
		"wallet", adapter.GetWalletAddress(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("ledger adapter shutdown complete")
}

func buildCursorStore(cfg *evm.Config, logger *slog.Logger) cursor.Store {
	if cfg.Cursor.RedisAddr == "" {
		return cursor.NewMemory()
	}

	store, err := cursor.NewRedis(cursor.RedisConfig{
		Addr:     cfg.Cursor.RedisAddr,
		Password: cfg.Cursor.RedisPassword,
		DB:       cfg.Cursor.RedisDB,
		Key:      cfg.Cursor.Key,
	})
	if err != nil {
		logger.Error("failed to connect cursor store", "error", err)
		os.Exit(1)
	}
	return store
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
