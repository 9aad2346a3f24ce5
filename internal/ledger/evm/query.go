package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/recolist/ledger-adapter/internal/ledger"
)

// creationEvents selects, per object type, the one event kind whose history
// is scanned to enumerate objects of that type.
var creationEvents = map[string]struct {
	contract string
	event    string
}{
	ledger.TypeRecommendation: {ContractRecommendation, "RecommendationCreated"},
	ledger.TypeToken:          {ContractToken, "Transfer"},
	ledger.TypeGovernance:     {ContractGovernance, "ProposalCreated"},
}

// QueryEngine answers "list objects of type T matching filter F" by scanning
// a bounded window of historical events. The listing is at-least-once and
// eventually consistent: matched events whose backing object no longer
// resolves are skipped, and no completeness guarantee is made.
type QueryEngine struct {
	backend      Backend
	registry     *Registry
	reader       *Reader
	windowBlocks uint64
	logger       *slog.Logger
}

// NewQueryEngine wires a query engine over the reader.
func NewQueryEngine(backend Backend, registry *Registry, reader *Reader, windowBlocks uint64, logger *slog.Logger) *QueryEngine {
	return &QueryEngine{
		backend:      backend,
		registry:     registry,
		reader:       reader,
		windowBlocks: windowBlocks,
		logger:       logger.With("component", "query-engine"),
	}
}

// QueryObjects scans the type's creation events within the window, applies
// pagination to the matched event list (preserving emission order) and
// assembles each surviving hit into a ChainState.
func (e *QueryEngine) QueryObjects(ctx context.Context, objectType string, filters map[string]string, page *ledger.Pagination) ([]ledger.ChainState, error) {
	spec, ok := creationEvents[objectType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ledger.ErrUnsupportedObjectType, objectType)
	}

	contract, err := e.registry.Get(spec.contract)
	if err != nil {
		return nil, err
	}
	event, ok := contract.ABI.Events[spec.event]
	if !ok {
		return nil, fmt.Errorf("contract %s: missing event %s", spec.contract, spec.event)
	}

	height, err := e.backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("read block height: %w", err)
	}

	// Bounded window: exhaustive history is deliberately not scanned.
	var fromBlock uint64
	if height > e.windowBlocks {
		fromBlock = height - e.windowBlocks + 1
	}

	topics, err := buildTopicFilter(objectType, event.ID, filters)
	if err != nil {
		return nil, err
	}

	logs, err := e.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(height),
		Addresses: []common.Address{contract.Address},
		Topics:    topics,
	})
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	// Pagination slices the matched event list, not the assembled data, so
	// offset windows stay stable across calls.
	logs = paginate(logs, page)

	states := make([]ledger.ChainState, 0, len(logs))
	blockTimes := make(map[uint64]int64)
	for _, log := range logs {
		state, ok := e.assemble(ctx, objectType, log, blockTimes)
		if !ok {
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

// assemble turns one matched event into a ChainState. Recommendation and
// governance events carry too little payload, so each hit re-resolves
// through the State Reader; token transfers project their own fields.
func (e *QueryEngine) assemble(ctx context.Context, objectType string, log types.Log, blockTimes map[uint64]int64) (ledger.ChainState, bool) {
	switch objectType {
	case ledger.TypeToken:
		contract, _ := e.registry.Get(ContractToken)
		values, err := contract.ABI.Unpack("Transfer", log.Data)
		if err != nil {
			e.logger.Warn("skipping undecodable transfer event", "tx", log.TxHash.Hex(), "error", err)
			return ledger.ChainState{}, false
		}
		value, _ := values[0].(*big.Int)
		return ledger.ChainState{
			ObjectID:   ObjectIDFromHash(ledger.TypeToken, log.TxHash),
			ObjectType: ledger.TypeToken,
			Data: map[string]any{
				"from":            addressFromTopic(log.Topics[1]),
				"to":              addressFromTopic(log.Topics[2]),
				"value":           value.String(),
				"transactionHash": log.TxHash.Hex(),
			},
			CommitNumber: log.BlockNumber,
			Timestamp:    e.blockTime(ctx, log.BlockNumber, blockTimes),
		}, true

	case ledger.TypeRecommendation:
		recID := hex.EncodeToString(log.Topics[1].Bytes())
		objectID := ledger.MakeObjectID(ledger.TypeRecommendation, recID)
		state, err := e.reader.QueryState(ctx, ledger.StateQuery{ObjectID: objectID})
		if err != nil {
			// The backing object may have been removed since the event was
			// recorded. At-least-once listing: log and move on.
			e.logger.Warn("skipping unresolved recommendation", "object_id", objectID, "error", err)
			return ledger.ChainState{}, false
		}
		return state, true

	case ledger.TypeGovernance:
		proposalID := new(big.Int).SetBytes(log.Topics[1].Bytes())
		objectID := ledger.MakeObjectID(ledger.TypeGovernance, proposalID.String())
		state, err := e.reader.QueryState(ctx, ledger.StateQuery{ObjectID: objectID})
		if err != nil {
			e.logger.Warn("skipping unresolved proposal", "object_id", objectID, "error", err)
			return ledger.ChainState{}, false
		}
		return state, true
	}
	return ledger.ChainState{}, false
}

func (e *QueryEngine) blockTime(ctx context.Context, block uint64, cache map[uint64]int64) int64 {
	if t, ok := cache[block]; ok {
		return t
	}
	header, err := e.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		e.logger.Debug("block timestamp unavailable", "block", block, "error", err)
		cache[block] = 0
		return 0
	}
	t := int64(header.Time)
	cache[block] = t
	return t
}

// buildTopicFilter maps domain filters onto the event's indexed fields.
func buildTopicFilter(objectType string, eventID common.Hash, filters map[string]string) ([][]common.Hash, error) {
	topics := [][]common.Hash{{eventID}, nil, nil}
	used := 0

	setTopic := func(pos int, h common.Hash) {
		topics[pos] = []common.Hash{h}
		if pos > used {
			used = pos
		}
	}

	for key, value := range filters {
		switch {
		case key == "id" && objectType == ledger.TypeRecommendation:
			recID, err := bytes32FromDiscriminator(value)
			if err != nil {
				return nil, fmt.Errorf("%w: filter id: %v", ledger.ErrQueryParse, err)
			}
			setTopic(1, common.BytesToHash(recID[:]))

		case key == "id" && objectType == ledger.TypeGovernance:
			id, ok := new(big.Int).SetString(value, 10)
			if !ok {
				return nil, fmt.Errorf("%w: filter id %q is not numeric", ledger.ErrQueryParse, value)
			}
			setTopic(1, common.BigToHash(id))

		case (key == "author" || key == "proposer") && objectType != ledger.TypeToken:
			h, err := addressTopic(value)
			if err != nil {
				return nil, err
			}
			setTopic(2, h)

		case key == "from" && objectType == ledger.TypeToken:
			h, err := addressTopic(value)
			if err != nil {
				return nil, err
			}
			setTopic(1, h)

		case key == "to" && objectType == ledger.TypeToken:
			h, err := addressTopic(value)
			if err != nil {
				return nil, err
			}
			setTopic(2, h)

		default:
			return nil, fmt.Errorf("%w: unsupported filter %q for %s", ledger.ErrQueryParse, key, objectType)
		}
	}

	return topics[:used+1], nil
}

func addressTopic(value string) (common.Hash, error) {
	if !common.IsHexAddress(value) {
		return common.Hash{}, fmt.Errorf("%w: invalid address filter %q", ledger.ErrQueryParse, value)
	}
	return common.BytesToHash(common.HexToAddress(value).Bytes()), nil
}

func paginate(logs []types.Log, page *ledger.Pagination) []types.Log {
	if page == nil {
		return logs
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(logs) {
		return nil
	}
	logs = logs[offset:]
	if page.Limit > 0 && page.Limit < len(logs) {
		logs = logs[:page.Limit]
	}
	return logs
}
