package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeBackend is an in-memory Backend for unit tests. Read responses are
// registered per method selector; logs are matched against filter queries
// the same way a node would.
type fakeBackend struct {
	mu sync.Mutex

	chainID     *big.Int
	blockNumber uint64

	responses map[string][]byte
	callFn    func(msg ethereum.CallMsg) ([]byte, error)

	estimateGas uint64
	estimateErr error
	gasPrice    *big.Int
	nonce       uint64

	sent    []*types.Transaction
	sendErr error

	receiptFn func(hash common.Hash) (*types.Receipt, error)

	logs      []types.Log
	filterErr map[uint64]error
	headerErr map[uint64]error
	queries   []ethereum.FilterQuery

	networkCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:     big.NewInt(31337),
		blockNumber: 100,
		responses:   make(map[string][]byte),
		estimateGas: 100_000,
		gasPrice:    big.NewInt(2),
		filterErr:   make(map[uint64]error),
		headerErr:   make(map[uint64]error),
	}
}

func (f *fakeBackend) count() {
	f.mu.Lock()
	f.networkCalls++
	f.mu.Unlock()
}

// calls returns how many network operations were issued.
func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.networkCalls
}

func (f *fakeBackend) respond(selector []byte, data []byte) {
	f.mu.Lock()
	f.responses[string(selector)] = data
	f.mu.Unlock()
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	f.count()
	return f.chainID, nil
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.count()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockNumber, nil
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.count()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.headerErr[number.Uint64()]; ok {
		return nil, err
	}
	return &types.Header{Number: new(big.Int).Set(number), Time: 1_700_000_000 + number.Uint64()}, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.count()
	f.mu.Lock()
	callFn := f.callFn
	f.mu.Unlock()
	if callFn != nil {
		return callFn(msg)
	}

	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("malformed calldata")
	}
	f.mu.Lock()
	resp, ok := f.responses[string(msg.Data[:4])]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no response registered for selector %x", msg.Data[:4])
	}
	return resp, nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.count()
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return f.estimateGas, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	f.count()
	return f.gasPrice, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.count()
	return f.nonce, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.count()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, tx)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.count()
	if f.receiptFn != nil {
		return f.receiptFn(txHash)
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		GasUsed:     42_000,
		TxHash:      txHash,
		BlockNumber: big.NewInt(int64(f.blockNumber)),
	}, nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	f.count()
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, query)

	from := query.FromBlock.Uint64()
	to := query.ToBlock.Uint64()
	for b := from; b <= to; b++ {
		if err, ok := f.filterErr[b]; ok {
			return nil, err
		}
	}

	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if len(query.Addresses) > 0 && !containsAddress(query.Addresses, log.Address) {
			continue
		}
		if !topicsMatch(query.Topics, log.Topics) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

func topicsMatch(filter [][]common.Hash, topics []common.Hash) bool {
	for i, group := range filter {
		if len(group) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, h := range group {
			if h == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var (
	recommendationAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenAddr          = common.HexToAddress("0x1000000000000000000000000000000000000002")
	governanceAddr     = common.HexToAddress("0x1000000000000000000000000000000000000003")
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry(ContractsConfig{
		Recommendation: ContractConfig{Address: recommendationAddr.Hex()},
		Token:          ContractConfig{Address: tokenAddr.Hex()},
		Governance:     ContractConfig{Address: governanceAddr.Hex()},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return registry
}

// packOutputs encodes a method's return values the way a node would.
func packOutputs(t *testing.T, c *Contract, method string, values ...any) []byte {
	t.Helper()
	out, err := c.ABI.Methods[method].Outputs.Pack(values...)
	if err != nil {
		t.Fatalf("pack %s outputs: %v", method, err)
	}
	return out
}

func selector(c *Contract, method string) []byte {
	return c.ABI.Methods[method].ID
}
