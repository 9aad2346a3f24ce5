package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/recolist/ledger-adapter/internal/ledger"
)

// Subscriber-facing event kinds.
const (
	EventRecommendationCreated = "recommendation.created"
	EventRecommendationVote    = "recommendation.vote"
	EventTokenTransfer         = "token.transfer"
	EventTokenReward           = "token.reward"
	EventGovernanceProposal    = "governance.proposal"
	EventGovernanceVote        = "governance.vote"
)

// WatchedEvent names one (contract, raw event) pair the poller extracts and
// the kind it is published under.
type WatchedEvent struct {
	Contract string
	Event    string
	Kind     string
}

// watchedEvents is the fixed mapping table from raw event kind to the
// chain-agnostic shape. The same raw event name maps differently per
// contract: VoteCast on the recommendation contract is a recommendation
// vote, on the governance contract a governance vote.
var watchedEvents = []WatchedEvent{
	{ContractRecommendation, "RecommendationCreated", EventRecommendationCreated},
	{ContractRecommendation, "VoteCast", EventRecommendationVote},
	{ContractToken, "Transfer", EventTokenTransfer},
	{ContractToken, "RewardClaimed", EventTokenReward},
	{ContractGovernance, "ProposalCreated", EventGovernanceProposal},
	{ContractGovernance, "VoteCast", EventGovernanceVote},
}

// EventMapper translates raw logs into ChainEvents using the contract
// registry's interface descriptions.
type EventMapper struct {
	registry  *Registry
	byAddress map[common.Address]*Contract
	kinds     map[string]string // "{contract}/{event}" -> kind
}

// NewEventMapper indexes the registry's contracts for log resolution.
func NewEventMapper(registry *Registry) *EventMapper {
	m := &EventMapper{
		registry:  registry,
		byAddress: make(map[common.Address]*Contract),
		kinds:     make(map[string]string, len(watchedEvents)),
	}
	for _, name := range registry.Names() {
		c, _ := registry.Get(name)
		m.byAddress[c.Address] = c
	}
	for _, w := range watchedEvents {
		m.kinds[w.Contract+"/"+w.Event] = w.Kind
	}
	return m
}

// Watched returns the fixed list of (contract, event) pairs to extract.
func (m *EventMapper) Watched() []WatchedEvent {
	return watchedEvents
}

// MapLog maps a raw log to a ChainEvent. ok is false for logs emitted by
// unknown contracts or events outside the mapping table.
func (m *EventMapper) MapLog(log types.Log, blockTime int64) (ledger.ChainEvent, bool, error) {
	contract, known := m.byAddress[log.Address]
	if !known || len(log.Topics) == 0 {
		return ledger.ChainEvent{}, false, nil
	}

	event, err := contract.ABI.EventByID(log.Topics[0])
	if err != nil {
		return ledger.ChainEvent{}, false, nil
	}

	kind, watched := m.kinds[contract.Name+"/"+event.Name]
	if !watched {
		return ledger.ChainEvent{}, false, nil
	}

	// Every watched event carries two indexed fields. A log that matched on
	// topic0 but is short on topics means the configured interface description
	// disagrees with the deployed contract.
	if len(log.Topics) < 3 {
		return ledger.ChainEvent{}, false, fmt.Errorf("%s.%s: expected 2 indexed fields, log has %d topics", contract.Name, event.Name, len(log.Topics))
	}

	out := ledger.ChainEvent{
		EventID:      fmt.Sprintf("%s-%d", log.TxHash.Hex(), log.Index),
		Type:         kind,
		Address:      log.Address.Hex(),
		CommitNumber: log.BlockNumber,
		Timestamp:    blockTime,
	}

	values, err := contract.ABI.Unpack(event.Name, log.Data)
	if err != nil {
		return ledger.ChainEvent{}, false, fmt.Errorf("unpack %s.%s: %w", contract.Name, event.Name, err)
	}

	switch kind {
	case EventRecommendationCreated:
		recID := hex.EncodeToString(log.Topics[1].Bytes())
		out.ObjectType = ledger.TypeRecommendation
		out.ObjectID = ledger.MakeObjectID(ledger.TypeRecommendation, recID)
		out.Data = map[string]any{
			"recommendationId": recID,
			"author":           addressFromTopic(log.Topics[2]),
			"contentHash":      values[0],
			"metadata":         values[1],
		}

	case EventRecommendationVote:
		recID := hex.EncodeToString(log.Topics[1].Bytes())
		voter := addressFromTopic(log.Topics[2])
		out.ObjectType = "recommendation-vote"
		out.ObjectID = fmt.Sprintf("recommendation-vote-%s-%s", recID, voter)
		out.Data = map[string]any{
			"recommendationId": recID,
			"voter":            voter,
			"upvote":           values[0],
		}

	case EventTokenTransfer:
		value, _ := values[0].(*big.Int)
		out.ObjectType = "token-transfer"
		out.ObjectID = ObjectIDFromHash("token-transfer", log.TxHash)
		out.Data = map[string]any{
			"from":            addressFromTopic(log.Topics[1]),
			"to":              addressFromTopic(log.Topics[2]),
			"value":           value.String(),
			"transactionHash": log.TxHash.Hex(),
		}

	case EventTokenReward:
		amount, _ := values[1].(*big.Int)
		out.ObjectType = "token-reward"
		out.ObjectID = ObjectIDFromHash("token-reward", log.TxHash)
		out.Data = map[string]any{
			"account":   addressFromTopic(log.Topics[1]),
			"actionRef": values[0],
			"amount":    amount.String(),
		}

	case EventGovernanceProposal:
		proposalID := new(big.Int).SetBytes(log.Topics[1].Bytes())
		out.ObjectType = ledger.TypeGovernance
		out.ObjectID = ledger.MakeObjectID(ledger.TypeGovernance, proposalID.String())
		out.Data = map[string]any{
			"proposalId": proposalID.Uint64(),
			"proposer":   addressFromTopic(log.Topics[2]),
			"title":      values[0],
		}

	case EventGovernanceVote:
		proposalID := new(big.Int).SetBytes(log.Topics[1].Bytes())
		voter := addressFromTopic(log.Topics[2])
		out.ObjectType = "governance-vote"
		out.ObjectID = fmt.Sprintf("governance-vote-%s-%s", proposalID.String(), voter)
		out.Data = map[string]any{
			"proposalId": proposalID.Uint64(),
			"voter":      voter,
			"support":    values[0],
		}
	}

	return out, true, nil
}

func addressFromTopic(topic common.Hash) string {
	return common.BytesToAddress(topic.Bytes()).Hex()
}
