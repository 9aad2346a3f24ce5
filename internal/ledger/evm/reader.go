package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/recolist/ledger-adapter/internal/ledger"
)

// Reader resolves a single object id to current state via a direct contract
// read. Contract reads are deterministic for a fixed block height, so two
// reads of the same id with no intervening write return identical data.
type Reader struct {
	backend  Backend
	registry *Registry
	logger   *slog.Logger
}

// NewReader wires a state reader.
func NewReader(backend Backend, registry *Registry, logger *slog.Logger) *Reader {
	return &Reader{
		backend:  backend,
		registry: registry,
		logger:   logger.With("component", "state-reader"),
	}
}

// QueryState normalizes the query to one object id, selects the matching
// contract from the id's type prefix and issues the type-specific read.
func (r *Reader) QueryState(ctx context.Context, q ledger.StateQuery) (ledger.ChainState, error) {
	objectID, objectType, disc, err := normalizeStateQuery(q)
	if err != nil {
		return ledger.ChainState{}, err
	}

	height, err := r.backend.BlockNumber(ctx)
	if err != nil {
		return ledger.ChainState{}, fmt.Errorf("read block height: %w", err)
	}

	var data map[string]any
	switch objectType {
	case ContractGovernance:
		data, err = r.readProposal(ctx, disc)
	case ContractRecommendation:
		data, err = r.readRecommendation(ctx, disc)
	case ContractToken:
		data, err = r.readBalance(ctx, disc)
	default:
		return ledger.ChainState{}, fmt.Errorf("%w: %q", ledger.ErrUnsupportedObjectType, objectType)
	}
	if err != nil {
		return ledger.ChainState{}, err
	}

	return ledger.ChainState{
		ObjectID:     objectID,
		ObjectType:   objectType,
		Data:         data,
		CommitNumber: height,
		Timestamp:    time.Now().Unix(),
	}, nil
}

func (r *Reader) readProposal(ctx context.Context, disc string) (map[string]any, error) {
	id, ok := new(big.Int).SetString(disc, 10)
	if !ok {
		return nil, fmt.Errorf("%w: proposal id %q is not numeric", ledger.ErrQueryParse, disc)
	}

	gov, err := r.registry.Get(ContractGovernance)
	if err != nil {
		return nil, err
	}

	out, err := callContract(ctx, r.backend, gov, "getProposal", id)
	if err != nil {
		return nil, err
	}

	proposer, _ := out[0].(common.Address)
	yesVotes, _ := out[4].(*big.Int)
	noVotes, _ := out[5].(*big.Int)
	deadline, _ := out[6].(*big.Int)

	return map[string]any{
		"proposalId":  id.Uint64(),
		"proposer":    proposer.Hex(),
		"title":       out[1],
		"description": out[2],
		"parameters":  out[3],
		"yesVotes":    yesVotes.Uint64(),
		"noVotes":     noVotes.Uint64(),
		"deadline":    deadline.Int64(),
		"executed":    out[7],
	}, nil
}

func (r *Reader) readRecommendation(ctx context.Context, disc string) (map[string]any, error) {
	recID, err := bytes32FromDiscriminator(disc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrQueryParse, err)
	}

	rec, err := r.registry.Get(ContractRecommendation)
	if err != nil {
		return nil, err
	}

	out, err := callContract(ctx, r.backend, rec, "getRecommendation", recID)
	if err != nil {
		return nil, err
	}

	author, _ := out[0].(common.Address)
	upvotes, _ := out[3].(*big.Int)
	downvotes, _ := out[4].(*big.Int)
	createdAt, _ := out[5].(*big.Int)

	data := map[string]any{
		"author":      author.Hex(),
		"contentHash": out[1],
		"upvotes":     upvotes.Uint64(),
		"downvotes":   downvotes.Uint64(),
		"createdAt":   createdAt.Int64(),
		"active":      out[6],
	}

	// Metadata is stored as JSON; surface it structured when it parses.
	if raw, ok := out[2].(string); ok {
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			data["metadata"] = meta
		} else {
			data["metadata"] = raw
		}
	}
	return data, nil
}

// readBalance treats a token object id whose discriminator is an address as
// a holder-balance snapshot. Transfer history lives on the query engine.
func (r *Reader) readBalance(ctx context.Context, disc string) (map[string]any, error) {
	if !common.IsHexAddress(disc) {
		return nil, fmt.Errorf("%w: token discriminator %q is not an address", ledger.ErrQueryParse, disc)
	}
	holder := common.HexToAddress(disc)

	token, err := r.registry.Get(ContractToken)
	if err != nil {
		return nil, err
	}

	out, err := callContract(ctx, r.backend, token, "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	balance, _ := out[0].(*big.Int)

	decOut, err := callContract(ctx, r.backend, token, "decimals")
	if err != nil {
		return nil, err
	}
	symOut, err := callContract(ctx, r.backend, token, "symbol")
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"address":  holder.Hex(),
		"balance":  balance.String(),
		"decimals": decOut[0],
		"symbol":   symOut[0],
	}, nil
}

// normalizeStateQuery reduces both accepted query shapes to a single object
// id plus its parsed type and discriminator.
func normalizeStateQuery(q ledger.StateQuery) (objectID, objectType, disc string, err error) {
	objectID = q.ObjectID
	if objectID == "" && q.Filter != nil {
		objectID = q.Filter["id"]
	}
	if objectID == "" {
		return "", "", "", fmt.Errorf("%w: neither objectId nor filter.id supplied", ledger.ErrQueryParse)
	}

	objectType, disc, err = ledger.SplitObjectID(objectID, readableObjectTypes)
	if err != nil && q.ObjectType != "" {
		// A bare discriminator is accepted when the query names the type.
		qualified := ledger.MakeObjectID(q.ObjectType, objectID)
		if t, d, splitErr := ledger.SplitObjectID(qualified, readableObjectTypes); splitErr == nil {
			return qualified, t, d, nil
		}
	}
	if err != nil {
		return "", "", "", err
	}
	return objectID, objectType, disc, nil
}
