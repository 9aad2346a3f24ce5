package evm

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/recolist/ledger-adapter/internal/ledger"
)

func newTestReader(t *testing.T) (*Reader, *fakeBackend, *Registry) {
	t.Helper()
	backend := newFakeBackend()
	registry := newTestRegistry(t)
	return NewReader(backend, registry, testLogger()), backend, registry
}

func registerProposal(t *testing.T, backend *fakeBackend, registry *Registry, proposer common.Address, yes, no int64) {
	t.Helper()
	gov, _ := registry.Get(ContractGovernance)
	backend.respond(selector(gov, "getProposal"), packOutputs(t, gov, "getProposal",
		proposer,
		"Raise reward rate",
		"Bump the per-action reward",
		`{"rate":2}`,
		big.NewInt(yes),
		big.NewInt(no),
		big.NewInt(1_700_100_000),
		false,
	))
}

func TestReaderProposal(t *testing.T) {
	reader, backend, registry := newTestReader(t)
	proposer := common.HexToAddress("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")
	registerProposal(t, backend, registry, proposer, 3, 1)

	state, err := reader.QueryState(context.Background(), ledger.StateQuery{ObjectID: "governance-7"})
	if err != nil {
		t.Fatalf("query state: %v", err)
	}
	if state.ObjectID != "governance-7" || state.ObjectType != ledger.TypeGovernance {
		t.Errorf("identity = (%s, %s), want (governance-7, governance)", state.ObjectID, state.ObjectType)
	}
	if state.CommitNumber != 100 {
		t.Errorf("commit number = %d, want 100", state.CommitNumber)
	}
	if state.Data["yesVotes"] != uint64(3) || state.Data["noVotes"] != uint64(1) {
		t.Errorf("votes = %v/%v, want 3/1", state.Data["yesVotes"], state.Data["noVotes"])
	}
	if state.Data["proposer"] != proposer.Hex() {
		t.Errorf("proposer = %v, want %s", state.Data["proposer"], proposer.Hex())
	}

	// Reads are idempotent when nothing was written in between.
	again, err := reader.QueryState(context.Background(), ledger.StateQuery{ObjectID: "governance-7"})
	if err != nil {
		t.Fatalf("repeat query: %v", err)
	}
	if !reflect.DeepEqual(state.Data, again.Data) {
		t.Errorf("repeated read diverged: %v vs %v", state.Data, again.Data)
	}
}

// The object id can arrive directly, inside the filter, or as a bare
// discriminator qualified by the query's object type.
func TestReaderQueryShapes(t *testing.T) {
	reader, backend, registry := newTestReader(t)
	registerProposal(t, backend, registry, common.HexToAddress("0xCC"), 3, 1)

	queries := map[string]ledger.StateQuery{
		"object id": {ObjectID: "governance-7"},
		"filter id": {Filter: map[string]string{"id": "governance-7"}},
		"bare id":   {ObjectType: ledger.TypeGovernance, ObjectID: "7"},
	}
	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			state, err := reader.QueryState(context.Background(), q)
			if err != nil {
				t.Fatalf("query state: %v", err)
			}
			if state.ObjectID != "governance-7" {
				t.Errorf("object id = %q, want governance-7", state.ObjectID)
			}
		})
	}
}

func TestReaderRecommendation(t *testing.T) {
	reader, backend, registry := newTestReader(t)
	author := common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	rec, _ := registry.Get(ContractRecommendation)
	backend.respond(selector(rec, "getRecommendation"), packOutputs(t, rec, "getRecommendation",
		author,
		"Qm123",
		`{"category":"restaurant","rating":5}`,
		big.NewInt(12),
		big.NewInt(2),
		big.NewInt(1_700_000_123),
		true,
	))

	state, err := reader.QueryState(context.Background(), ledger.StateQuery{
		ObjectID: "recommendation-00112233445566778899aabb",
	})
	if err != nil {
		t.Fatalf("query state: %v", err)
	}
	if state.Data["upvotes"] != uint64(12) || state.Data["downvotes"] != uint64(2) {
		t.Errorf("votes = %v/%v, want 12/2", state.Data["upvotes"], state.Data["downvotes"])
	}
	meta, ok := state.Data["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata not parsed: %T", state.Data["metadata"])
	}
	if meta["category"] != "restaurant" {
		t.Errorf("metadata category = %v, want restaurant", meta["category"])
	}
}

func TestReaderTokenBalance(t *testing.T) {
	reader, backend, registry := newTestReader(t)
	token, _ := registry.Get(ContractToken)
	backend.respond(selector(token, "balanceOf"), packOutputs(t, token, "balanceOf", big.NewInt(5_000_000)))
	backend.respond(selector(token, "decimals"), packOutputs(t, token, "decimals", uint8(6)))
	backend.respond(selector(token, "symbol"), packOutputs(t, token, "symbol", "REC"))

	holder := "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	state, err := reader.QueryState(context.Background(), ledger.StateQuery{
		ObjectID: ledger.MakeObjectID(ledger.TypeToken, holder),
	})
	if err != nil {
		t.Fatalf("query state: %v", err)
	}
	if state.Data["balance"] != "5000000" {
		t.Errorf("balance = %v, want 5000000", state.Data["balance"])
	}
	if state.Data["symbol"] != "REC" {
		t.Errorf("symbol = %v, want REC", state.Data["symbol"])
	}
}

func TestReaderErrors(t *testing.T) {
	reader, _, _ := newTestReader(t)

	cases := []struct {
		name string
		q    ledger.StateQuery
		want error
	}{
		{"unknown type", ledger.StateQuery{ObjectID: "widget-1"}, ledger.ErrUnsupportedObjectType},
		{"no id at all", ledger.StateQuery{Filter: map[string]string{"author": "0xAA"}}, ledger.ErrQueryParse},
		{"non-numeric proposal id", ledger.StateQuery{ObjectID: "governance-abc"}, ledger.ErrQueryParse},
		{"token id not an address", ledger.StateQuery{ObjectID: "token-nonsense"}, ledger.ErrQueryParse},
		{"empty discriminator", ledger.StateQuery{ObjectID: "governance-"}, ledger.ErrQueryParse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reader.QueryState(context.Background(), tc.q)
			if !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}
