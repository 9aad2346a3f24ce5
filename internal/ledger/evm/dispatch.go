package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/recolist/ledger-adapter/internal/ledger"
)

// gasMarginPercent is added on top of the gas estimate to absorb cost
// fluctuation between estimation and inclusion.
const gasMarginPercent = 20

type dispatchKey struct {
	txType string
	action string
}

// handler describes one entry of the dispatch table: the target contract,
// the method on it, and a pure mapping from transaction data to positional
// arguments. Adding an action is a data addition, not a control-flow edit.
type handler struct {
	contract string
	method   string
	args     func(ctx context.Context, d *Dispatcher, tx ledger.Transaction) ([]any, error)
}

// dispatchTable is the total mapping from (type, action) to a contract call.
var dispatchTable = map[dispatchKey]handler{
	{ledger.TypeRecommendation, "create"}: {
		contract: ContractRecommendation,
		method:   "createRecommendation",
		args:     recommendationCreateArgs,
	},
	{ledger.TypeRecommendation, "vote"}: {
		contract: ContractRecommendation,
		method:   "voteOnRecommendation",
		args:     recommendationVoteArgs,
	},
	{ledger.TypeToken, "transfer"}: {
		contract: ContractToken,
		method:   "transfer",
		args:     tokenTransferArgs,
	},
	{ledger.TypeToken, "claim_reward"}: {
		contract: ContractToken,
		method:   "claimReward",
		args:     tokenClaimRewardArgs,
	},
	{ledger.TypeGovernance, "propose"}: {
		contract: ContractGovernance,
		method:   "createProposal",
		args:     governanceProposeArgs,
	},
	{ledger.TypeGovernance, "vote"}: {
		contract: ContractGovernance,
		method:   "castVote",
		args:     governanceVoteArgs,
	},
}

// Dispatcher translates domain transactions into signed contract calls.
type Dispatcher struct {
	backend  Backend
	registry *Registry
	mapper   *EventMapper
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	currency string
	logger   *slog.Logger

	receiptInterval time.Duration
	receiptTimeout  time.Duration

	mu       sync.Mutex
	decimals *uint8
}

// NewDispatcher wires a dispatcher. key may be nil for a read-only adapter;
// submissions then fail with a result error instead of signing.
func NewDispatcher(backend Backend, registry *Registry, mapper *EventMapper, key *ecdsa.PrivateKey, chainID *big.Int, currency string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		backend:         backend,
		registry:        registry,
		mapper:          mapper,
		key:             key,
		chainID:         chainID,
		currency:        currency,
		logger:          logger.With("component", "dispatcher"),
		receiptInterval: time.Second,
		receiptTimeout:  90 * time.Second,
	}
}

// From returns the submission address, or the zero address without a key.
func (d *Dispatcher) From() common.Address {
	if d.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(d.key.PublicKey)
}

// Submit dispatches the transaction through the table, submits it with a
// gas margin and waits for inclusion. Ledger-side failures come back inside
// the result; callers must check Success.
func (d *Dispatcher) Submit(ctx context.Context, tx ledger.Transaction) ledger.TransactionResult {
	h, ok := dispatchTable[dispatchKey{tx.Type, tx.Action}]
	if !ok {
		return failedResult(fmt.Errorf("%w: (%s, %s)", ledger.ErrUnsupportedTransactionType, tx.Type, tx.Action))
	}
	if d.key == nil {
		return failedResult(fmt.Errorf("no signing key configured"))
	}

	contract, err := d.registry.Get(h.contract)
	if err != nil {
		return failedResult(err)
	}

	args, err := h.args(ctx, d, tx)
	if err != nil {
		return failedResult(fmt.Errorf("map arguments: %w", err))
	}

	calldata, err := contract.ABI.Pack(h.method, args...)
	if err != nil {
		return failedResult(fmt.Errorf("pack %s: %w", h.method, err))
	}

	from := d.From()
	msg := ethereum.CallMsg{From: from, To: &contract.Address, Data: calldata}

	gasLimit, err := d.backend.EstimateGas(ctx, msg)
	if err != nil {
		return failedResult(fmt.Errorf("estimate gas: %w", err))
	}
	gasLimit = gasLimit * (100 + gasMarginPercent) / 100

	gasPrice, err := d.backend.SuggestGasPrice(ctx)
	if err != nil {
		return failedResult(fmt.Errorf("suggest gas price: %w", err))
	}

	nonce, err := d.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return failedResult(fmt.Errorf("pending nonce: %w", err))
	}

	unsigned := types.NewTransaction(nonce, contract.Address, big.NewInt(0), gasLimit, gasPrice, calldata)
	signed, err := types.SignTx(unsigned, types.LatestSignerForChainID(d.chainID), d.key)
	if err != nil {
		return failedResult(fmt.Errorf("sign transaction: %w", err))
	}

	d.logger.Info("submitting transaction",
		"type", tx.Type,
		"action", tx.Action,
		"contract", h.contract,
		"method", h.method,
		"tx_hash", signed.Hash().Hex(),
		"gas_limit", gasLimit,
	)

	if err := d.backend.SendTransaction(ctx, signed); err != nil {
		return failedResult(fmt.Errorf("send transaction: %w", err))
	}

	receipt, err := d.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return failedResult(fmt.Errorf("wait receipt: %w", err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return failedResult(fmt.Errorf("transaction reverted: %s", signed.Hash().Hex()))
	}

	now := time.Now().Unix()
	result := ledger.TransactionResult{
		Success:   true,
		ObjectID:  ObjectIDFromHash(tx.Type, signed.Hash()),
		Status:    ledger.StatusConfirmed,
		Timestamp: now,
		Data: map[string]any{
			"transactionHash": signed.Hash().Hex(),
			"gasUsed":         receipt.GasUsed,
			"gasPrice":        gasPrice.String(),
			"events":          d.receiptEvents(receipt, now),
		},
	}

	d.logger.Info("transaction confirmed",
		"object_id", result.ObjectID,
		"block", receipt.BlockNumber,
		"gas_used", receipt.GasUsed,
	)
	return result
}

// EstimateFee builds the same calldata as Submit and prices it without
// submitting. Table misses are hard caller errors.
func (d *Dispatcher) EstimateFee(ctx context.Context, tx ledger.Transaction) (ledger.FeeEstimate, error) {
	h, ok := dispatchTable[dispatchKey{tx.Type, tx.Action}]
	if !ok {
		return ledger.FeeEstimate{}, fmt.Errorf("%w: (%s, %s)", ledger.ErrUnsupportedTransactionType, tx.Type, tx.Action)
	}

	contract, err := d.registry.Get(h.contract)
	if err != nil {
		return ledger.FeeEstimate{}, err
	}

	args, err := h.args(ctx, d, tx)
	if err != nil {
		return ledger.FeeEstimate{}, fmt.Errorf("map arguments: %w", err)
	}

	calldata, err := contract.ABI.Pack(h.method, args...)
	if err != nil {
		return ledger.FeeEstimate{}, fmt.Errorf("pack %s: %w", h.method, err)
	}

	msg := ethereum.CallMsg{From: d.From(), To: &contract.Address, Data: calldata}
	gasLimit, err := d.backend.EstimateGas(ctx, msg)
	if err != nil {
		return ledger.FeeEstimate{}, fmt.Errorf("estimate gas: %w", err)
	}

	gasPrice, err := d.backend.SuggestGasPrice(ctx)
	if err != nil {
		return ledger.FeeEstimate{}, fmt.Errorf("suggest gas price: %w", err)
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
	return ledger.FeeEstimate{Estimated: fee.String(), Currency: d.currency}, nil
}

func (d *Dispatcher) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(d.receiptTimeout)
	ticker := time.NewTicker(d.receiptInterval)
	defer ticker.Stop()

	for {
		receipt, err := d.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for receipt %s", hash.Hex())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// receiptEvents decodes the receipt's logs through the event mapping table.
// Unrecognized logs are skipped; the caller still sees the raw gas figures.
func (d *Dispatcher) receiptEvents(receipt *types.Receipt, timestamp int64) []map[string]any {
	events := make([]map[string]any, 0, len(receipt.Logs))
	for _, log := range receipt.Logs {
		mapped, ok, err := d.mapper.MapLog(*log, timestamp)
		if err != nil || !ok {
			continue
		}
		events = append(events, map[string]any{
			"eventId":    mapped.EventID,
			"type":       mapped.Type,
			"objectId":   mapped.ObjectID,
			"objectType": mapped.ObjectType,
			"data":       mapped.Data,
		})
	}
	return events
}

// tokenDecimals reads and caches the token's declared decimal count.
func (d *Dispatcher) tokenDecimals(ctx context.Context) (uint8, error) {
	d.mu.Lock()
	if d.decimals != nil {
		dec := *d.decimals
		d.mu.Unlock()
		return dec, nil
	}
	d.mu.Unlock()

	token, err := d.registry.Get(ContractToken)
	if err != nil {
		return 0, err
	}

	out, err := callContract(ctx, d.backend, token, "decimals")
	if err != nil {
		return 0, fmt.Errorf("read decimals: %w", err)
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", out[0])
	}

	d.mu.Lock()
	d.decimals = &dec
	d.mu.Unlock()
	return dec, nil
}

// ObjectIDFromHash derives the deterministic object id for a write:
// "{type}-{first 24 hex chars of tx hash}".
func ObjectIDFromHash(txType string, hash common.Hash) string {
	return ledger.MakeObjectID(txType, hash.Hex()[2:26])
}

func failedResult(err error) ledger.TransactionResult {
	return ledger.TransactionResult{
		Success:   false,
		Status:    ledger.StatusFailed,
		Timestamp: time.Now().Unix(),
		Error:     err.Error(),
	}
}
