package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/recolist/ledger-adapter/internal/ledger"
)

func newTestQueryEngine(t *testing.T) (*QueryEngine, *fakeBackend, *Registry) {
	t.Helper()
	backend := newFakeBackend()
	registry := newTestRegistry(t)
	reader := NewReader(backend, registry, testLogger())
	return NewQueryEngine(backend, registry, reader, 10_000, testLogger()), backend, registry
}

func proposalLog(t *testing.T, registry *Registry, id int64, proposer common.Address, block uint64, index uint) types.Log {
	t.Helper()
	gov, _ := registry.Get(ContractGovernance)
	event := gov.ABI.Events["ProposalCreated"]
	data, err := event.Inputs.NonIndexed().Pack(fmt.Sprintf("Proposal %d", id))
	if err != nil {
		t.Fatalf("pack event data: %v", err)
	}
	return types.Log{
		Address: governanceAddr,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(id)),
			common.BytesToHash(proposer.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(id + 1000)),
		Index:       index,
	}
}

func transferLog(t *testing.T, registry *Registry, from, to common.Address, value int64, block uint64, index uint) types.Log {
	t.Helper()
	token, _ := registry.Get(ContractToken)
	event := token.ABI.Events["Transfer"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(value))
	if err != nil {
		t.Fatalf("pack event data: %v", err)
	}
	return types.Log{
		Address: tokenAddr,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(value)),
		Index:       index,
	}
}

// Offset windows over the matched event list are disjoint and stable, so a
// caller paging through a listing sees each object exactly once.
func TestQueryObjectsPaginationStability(t *testing.T) {
	engine, backend, registry := newTestQueryEngine(t)
	registerProposal(t, backend, registry, common.HexToAddress("0xCC"), 0, 0)

	proposer := common.HexToAddress("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")
	for i := int64(0); i < 25; i++ {
		backend.logs = append(backend.logs, proposalLog(t, registry, i, proposer, uint64(50+i), 0))
	}

	ctx := context.Background()
	first, err := engine.QueryObjects(ctx, ledger.TypeGovernance, nil, &ledger.Pagination{Offset: 0, Limit: 10})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	second, err := engine.QueryObjects(ctx, ledger.TypeGovernance, nil, &ledger.Pagination{Offset: 10, Limit: 10})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	both, err := engine.QueryObjects(ctx, ledger.TypeGovernance, nil, &ledger.Pagination{Offset: 0, Limit: 20})
	if err != nil {
		t.Fatalf("wide page: %v", err)
	}

	if len(first) != 10 || len(second) != 10 || len(both) != 20 {
		t.Fatalf("page sizes = %d/%d/%d, want 10/10/20", len(first), len(second), len(both))
	}

	ids := func(states []ledger.ChainState) []string {
		out := make([]string, len(states))
		for i, s := range states {
			out[i] = s.ObjectID
		}
		return out
	}
	seen := map[string]bool{}
	for _, id := range ids(first) {
		seen[id] = true
	}
	for _, id := range ids(second) {
		if seen[id] {
			t.Errorf("object %s appears in both pages", id)
		}
	}
	if got, want := append(ids(first), ids(second)...), ids(both); !reflect.DeepEqual(got, want) {
		t.Errorf("paged ids %v != wide ids %v", got, want)
	}
}

// A matched event whose backing object no longer resolves is skipped, not
// surfaced as an error.
func TestQueryObjectsSkipsUnresolved(t *testing.T) {
	engine, backend, registry := newTestQueryEngine(t)
	gov, _ := registry.Get(ContractGovernance)
	goodOut := packOutputs(t, gov, "getProposal",
		common.HexToAddress("0xCC"), "t", "d", "{}",
		big.NewInt(0), big.NewInt(0), big.NewInt(0), false,
	)
	backend.callFn = func(msg ethereum.CallMsg) ([]byte, error) {
		args, err := gov.ABI.Methods["getProposal"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		if args[0].(*big.Int).Int64() == 2 {
			return nil, fmt.Errorf("proposal pruned")
		}
		return goodOut, nil
	}

	proposer := common.HexToAddress("0xCC")
	for i := int64(1); i <= 3; i++ {
		backend.logs = append(backend.logs, proposalLog(t, registry, i, proposer, uint64(60+i), 0))
	}

	states, err := engine.QueryObjects(context.Background(), ledger.TypeGovernance, nil, nil)
	if err != nil {
		t.Fatalf("query objects: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("got %d states, want 2", len(states))
	}
	for _, s := range states {
		if s.ObjectID == "governance-2" {
			t.Error("unresolvable proposal was surfaced")
		}
	}
}

// Token listings project transfer events directly instead of re-resolving.
func TestQueryObjectsTokenTransfers(t *testing.T) {
	engine, backend, registry := newTestQueryEngine(t)
	from := common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	to := common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
	backend.logs = append(backend.logs, transferLog(t, registry, from, to, 750, 90, 0))

	states, err := engine.QueryObjects(context.Background(), ledger.TypeToken, nil, nil)
	if err != nil {
		t.Fatalf("query objects: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("got %d states, want 1", len(states))
	}
	s := states[0]
	if !strings.HasPrefix(s.ObjectID, "token-") {
		t.Errorf("object id = %q, want token- prefix", s.ObjectID)
	}
	if s.Data["from"] != from.Hex() || s.Data["to"] != to.Hex() || s.Data["value"] != "750" {
		t.Errorf("projected transfer = %v", s.Data)
	}
	if s.CommitNumber != 90 {
		t.Errorf("commit number = %d, want 90", s.CommitNumber)
	}
	if s.Timestamp != 1_700_000_090 {
		t.Errorf("timestamp = %d, want block time", s.Timestamp)
	}
}

// Domain filters translate to indexed-topic constraints on the scan itself.
func TestQueryObjectsTopicFilters(t *testing.T) {
	addr := "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	addrHash := common.BytesToHash(common.HexToAddress(addr).Bytes())

	cases := []struct {
		name       string
		objectType string
		filters    map[string]string
		check      func(t *testing.T, q ethereum.FilterQuery)
	}{
		{
			name:       "governance id",
			objectType: ledger.TypeGovernance,
			filters:    map[string]string{"id": "7"},
			check: func(t *testing.T, q ethereum.FilterQuery) {
				if len(q.Topics) != 2 || q.Topics[1][0] != common.BigToHash(big.NewInt(7)) {
					t.Errorf("topics = %v, want proposal id at position 1", q.Topics)
				}
			},
		},
		{
			name:       "recommendation author",
			objectType: ledger.TypeRecommendation,
			filters:    map[string]string{"author": addr},
			check: func(t *testing.T, q ethereum.FilterQuery) {
				if len(q.Topics) != 3 || q.Topics[2][0] != addrHash {
					t.Errorf("topics = %v, want author at position 2", q.Topics)
				}
				if len(q.Topics) == 3 && len(q.Topics[1]) != 0 {
					t.Errorf("topic 1 = %v, want unconstrained", q.Topics[1])
				}
			},
		},
		{
			name:       "token from",
			objectType: ledger.TypeToken,
			filters:    map[string]string{"from": addr},
			check: func(t *testing.T, q ethereum.FilterQuery) {
				if len(q.Topics) != 2 || q.Topics[1][0] != addrHash {
					t.Errorf("topics = %v, want sender at position 1", q.Topics)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, backend, _ := newTestQueryEngine(t)
			if _, err := engine.QueryObjects(context.Background(), tc.objectType, tc.filters, nil); err != nil {
				t.Fatalf("query objects: %v", err)
			}
			if len(backend.queries) != 1 {
				t.Fatalf("issued %d scans, want 1", len(backend.queries))
			}
			tc.check(t, backend.queries[0])
		})
	}
}

func TestQueryObjectsErrors(t *testing.T) {
	engine, _, _ := newTestQueryEngine(t)
	ctx := context.Background()

	if _, err := engine.QueryObjects(ctx, "widget", nil, nil); !errors.Is(err, ledger.ErrUnsupportedObjectType) {
		t.Errorf("error = %v, want ErrUnsupportedObjectType", err)
	}
	if _, err := engine.QueryObjects(ctx, ledger.TypeGovernance, map[string]string{"color": "red"}, nil); !errors.Is(err, ledger.ErrQueryParse) {
		t.Errorf("error = %v, want ErrQueryParse", err)
	}
	if _, err := engine.QueryObjects(ctx, ledger.TypeToken, map[string]string{"from": "not-an-address"}, nil); !errors.Is(err, ledger.ErrQueryParse) {
		t.Errorf("error = %v, want ErrQueryParse", err)
	}
}
