package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/recolist/ledger-adapter/internal/delivery/subscribe"
	"github.com/recolist/ledger-adapter/internal/ledger"
	"github.com/recolist/ledger-adapter/internal/platform/cursor"
)

// Adapter is the public surface domain engines call. Submission and querying
// are request/response; the event poller is the only background component.
type Adapter struct {
	cfg         *Config
	logger      *slog.Logger
	subscribers *subscribe.Registry
	store       cursor.Store
	sink        EventSink

	client   *Client
	registry *Registry
	mapper   *EventMapper
	reader   *Reader
	query    *QueryEngine
	key      *ecdsa.PrivateKey

	mu         sync.RWMutex
	connected  bool
	chainID    *big.Int
	dispatcher *Dispatcher
	poller     *Poller
}

var _ ledger.Adapter = (*Adapter)(nil)

// NewAdapter builds an unconnected adapter. The subscriber registry is
// injected so each adapter instance owns its own subscription state; a nil
// store keeps the poll cursor in memory; sink may be nil.
func NewAdapter(cfg *Config, subscribers *subscribe.Registry, store cursor.Store, sink EventSink, logger *slog.Logger) (*Adapter, error) {
	if cfg.RPC.URL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}

	registry, err := NewRegistry(cfg.Contracts)
	if err != nil {
		return nil, fmt.Errorf("build contract registry: %w", err)
	}

	var key *ecdsa.PrivateKey
	if raw := cfg.Signer.Key(); raw != "" {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
	}

	if subscribers == nil {
		subscribers = subscribe.NewRegistry(logger)
	}
	if store == nil {
		store = cursor.NewMemory()
	}

	log := logger.With("component", "ledger-adapter", "network", cfg.Network)
	client := NewClient(&cfg.RPC, logger)
	mapper := NewEventMapper(registry)
	reader := NewReader(client, registry, logger)

	return &Adapter{
		cfg:         cfg,
		logger:      log,
		subscribers: subscribers,
		store:       store,
		sink:        sink,
		client:      client,
		registry:    registry,
		mapper:      mapper,
		reader:      reader,
		query:       NewQueryEngine(client, registry, reader, cfg.Query.WindowBlocks, logger),
		key:         key,
	}, nil
}

// Connect verifies reachability, resolves the chain id, and starts the
// event poller. Fails soft: on any verification failure it logs, leaves the
// adapter disconnected and reports false.
func (a *Adapter) Connect(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return true
	}

	if err := a.client.Connect(ctx); err != nil {
		a.logger.Error("connect failed", "error", err)
		return false
	}

	height, err := a.client.BlockNumber(ctx)
	if err != nil {
		a.logger.Error("reachability check failed", "error", err)
		a.client.Close()
		return false
	}

	chainID, err := a.client.ChainID(ctx)
	if err != nil {
		a.logger.Error("chain id check failed", "error", err)
		a.client.Close()
		return false
	}
	if a.cfg.ChainID != 0 && chainID.Uint64() != a.cfg.ChainID {
		a.logger.Error("chain id mismatch",
			"expected", a.cfg.ChainID,
			"got", chainID.Uint64(),
		)
		a.client.Close()
		return false
	}
	a.chainID = chainID

	a.dispatcher = NewDispatcher(a.client, a.registry, a.mapper, a.key, chainID, a.cfg.NativeCurrency, a.logger)
	a.poller = NewPoller(a.client, a.registry, a.mapper, a.subscribers, a.sink, a.store, a.cfg.Poller, a.logger)

	if err := a.poller.Start(ctx); err != nil {
		a.logger.Error("failed to start event poller", "error", err)
		a.client.Close()
		return false
	}

	a.connected = true
	a.logger.Info("connected to ledger",
		"chain_id", chainID.Uint64(),
		"block_height", height,
	)
	return true
}

// Disconnect stops the poller and releases the link. In-flight contract
// calls are not aborted, they are simply not re-issued. Idempotent.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return
	}
	a.connected = false
	poller := a.poller
	a.mu.Unlock()

	poller.Stop()
	a.client.Close()
	a.logger.Info("disconnected from ledger")
}

// IsConnected reports whether Connect has succeeded.
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// SubmitTransaction dispatches the transaction through the strategy table.
// Ledger-side failures come back inside the result, never as panics or
// errors past this boundary.
func (a *Adapter) SubmitTransaction(ctx context.Context, tx ledger.Transaction) ledger.TransactionResult {
	a.mu.RLock()
	dispatcher := a.dispatcher
	connected := a.connected
	a.mu.RUnlock()

	if !connected || dispatcher == nil {
		return failedResult(ledger.ErrNotConnected)
	}
	return dispatcher.Submit(ctx, tx)
}

// QueryState resolves one object id to current state.
func (a *Adapter) QueryState(ctx context.Context, q ledger.StateQuery) (ledger.ChainState, error) {
	if !a.IsConnected() {
		return ledger.ChainState{}, ledger.ErrNotConnected
	}
	return a.reader.QueryState(ctx, q)
}

// QueryObjects lists objects by scanning the type's creation events.
func (a *Adapter) QueryObjects(ctx context.Context, objectType string, filters map[string]string, page *ledger.Pagination) ([]ledger.ChainState, error) {
	if !a.IsConnected() {
		return nil, ledger.ErrNotConnected
	}
	return a.query.QueryObjects(ctx, objectType, filters, page)
}

// SubscribeToEvents registers a callback for an event kind or
// ledger.Wildcard. Works while disconnected; delivery starts once the
// poller runs.
func (a *Adapter) SubscribeToEvents(eventType string, fn ledger.EventCallback) string {
	return a.subscribers.Subscribe(eventType, fn)
}

// SubscribeToStream returns a bounded event stream for the filter.
func (a *Adapter) SubscribeToStream(filter ledger.EventFilter, buffer int) ledger.EventStream {
	return a.subscribers.SubscribeStream(filter, buffer)
}

// UnsubscribeFromEvents removes a subscription. Unknown ids are a no-op.
func (a *Adapter) UnsubscribeFromEvents(id string) {
	a.subscribers.Unsubscribe(id)
}

// GetWalletAddress returns the submission address, or "" without a key.
func (a *Adapter) GetWalletAddress() string {
	if a.key == nil {
		return ""
	}
	return crypto.PubkeyToAddress(a.key.PublicKey).Hex()
}

// GetBalance reads an address's token balance with its denomination.
func (a *Adapter) GetBalance(ctx context.Context, address string) (ledger.Balance, error) {
	if !a.IsConnected() {
		return ledger.Balance{}, ledger.ErrNotConnected
	}
	if !common.IsHexAddress(address) {
		return ledger.Balance{}, fmt.Errorf("%w: invalid address %q", ledger.ErrQueryParse, address)
	}

	token, err := a.registry.Get(ContractToken)
	if err != nil {
		return ledger.Balance{}, err
	}

	out, err := callContract(ctx, a.client, token, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return ledger.Balance{}, err
	}
	value, _ := out[0].(*big.Int)

	decOut, err := callContract(ctx, a.client, token, "decimals")
	if err != nil {
		return ledger.Balance{}, err
	}
	decimals, _ := decOut[0].(uint8)

	symOut, err := callContract(ctx, a.client, token, "symbol")
	if err != nil {
		return ledger.Balance{}, err
	}
	symbol, _ := symOut[0].(string)

	return ledger.Balance{Value: value.String(), Decimals: decimals, Symbol: symbol}, nil
}

// GetNetworkInfo reports chain identity and health. On failure it returns a
// best-effort degraded record instead of propagating.
func (a *Adapter) GetNetworkInfo(ctx context.Context) ledger.NetworkInfo {
	a.mu.RLock()
	chainID := a.cfg.ChainID
	if a.chainID != nil {
		chainID = a.chainID.Uint64()
	}
	a.mu.RUnlock()

	info := ledger.NetworkInfo{
		ChainID:     chainID,
		NetworkName: networkName(chainID),
	}

	height, err := a.client.BlockNumber(ctx)
	if err != nil {
		a.logger.Warn("network info degraded", "error", err)
		return info
	}

	info.BlockHeight = height
	info.IsHealthy = true
	return info
}

// EstimateFee prices a transaction without submitting it.
func (a *Adapter) EstimateFee(ctx context.Context, tx ledger.Transaction) (ledger.FeeEstimate, error) {
	a.mu.RLock()
	dispatcher := a.dispatcher
	a.mu.RUnlock()

	if dispatcher == nil {
		return ledger.FeeEstimate{}, ledger.ErrNotConnected
	}
	return dispatcher.EstimateFee(ctx, tx)
}

// Poller exposes the event poller for observability.
func (a *Adapter) Poller() *Poller {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.poller
}
