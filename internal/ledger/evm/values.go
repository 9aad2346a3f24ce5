package evm

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/recolist/ledger-adapter/internal/ledger"
)

// Argument mappers for the dispatch table. Each one is a pure translation
// from the loosely-typed transaction payload to the method's positional
// arguments; validation failures surface before any network call.

func recommendationCreateArgs(ctx context.Context, d *Dispatcher, tx ledger.Transaction) ([]any, error) {
	author, err := addressField(tx.Data, "author")
	if err != nil {
		return nil, err
	}
	contentHash, err := stringField(tx.Data, "contentHash")
	if err != nil {
		return nil, err
	}

	// rating is optional, but a supplied value must parse.
	var rating float64
	if _, present := tx.Data["rating"]; present {
		rating, err = numberField(tx.Data, "rating")
		if err != nil {
			return nil, err
		}
	}

	timestamp, err := numberField(tx.Data, "timestamp")
	if err != nil {
		timestamp = float64(time.Now().Unix())
	}

	meta := struct {
		Category  string  `json:"category"`
		ServiceID string  `json:"serviceId"`
		Location  string  `json:"location,omitempty"`
		Rating    float64 `json:"rating"`
		Timestamp int64   `json:"timestamp"`
	}{
		Category:  optionalString(tx.Data, "category"),
		ServiceID: optionalString(tx.Data, "serviceId"),
		Location:  optionalString(tx.Data, "location"),
		Rating:    rating,
		Timestamp: int64(timestamp),
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	return []any{author, contentHash, string(metadata)}, nil
}

func recommendationVoteArgs(ctx context.Context, d *Dispatcher, tx ledger.Transaction) ([]any, error) {
	raw, err := stringField(tx.Data, "recommendationId", "id")
	if err != nil {
		return nil, err
	}
	recID, err := bytes32FromDiscriminator(strings.TrimPrefix(raw, ledger.TypeRecommendation+"-"))
	if err != nil {
		return nil, fmt.Errorf("recommendation id: %w", err)
	}

	isUpvote := tx.ActionDetail == "upvote"
	return []any{recID, isUpvote}, nil
}

func tokenTransferArgs(ctx context.Context, d *Dispatcher, tx ledger.Transaction) ([]any, error) {
	recipient, err := addressField(tx.Data, "recipient", "to")
	if err != nil {
		return nil, err
	}
	amount, err := bigFloatField(tx.Data, "amount")
	if err != nil {
		return nil, err
	}

	decimals, err := d.tokenDecimals(ctx)
	if err != nil {
		return nil, err
	}
	return []any{recipient, toBaseUnits(amount, decimals)}, nil
}

func tokenClaimRewardArgs(ctx context.Context, d *Dispatcher, tx ledger.Transaction) ([]any, error) {
	ref, err := stringField(tx.Data, "actionReference", "actionRef")
	if err != nil {
		return nil, err
	}
	return []any{ref}, nil
}

func governanceProposeArgs(ctx context.Context, d *Dispatcher, tx ledger.Transaction) ([]any, error) {
	title, err := stringField(tx.Data, "title")
	if err != nil {
		return nil, err
	}
	description := optionalString(tx.Data, "description")

	parameters := optionalString(tx.Data, "parameters")
	if parameters == "" {
		if raw, ok := tx.Data["parameters"]; ok && raw != nil {
			encoded, err := json.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("encode parameters: %w", err)
			}
			parameters = string(encoded)
		}
	}

	duration, err := numberField(tx.Data, "votingDuration")
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, fmt.Errorf("votingDuration must be positive")
	}

	return []any{title, description, parameters, big.NewInt(int64(duration))}, nil
}

func governanceVoteArgs(ctx context.Context, d *Dispatcher, tx ledger.Transaction) ([]any, error) {
	proposalID, err := proposalIDField(tx.Data, "proposalId", "id")
	if err != nil {
		return nil, err
	}

	support := tx.ActionDetail == "support"
	if tx.ActionDetail == "" {
		if v, ok := tx.Data["support"].(bool); ok {
			support = v
		}
	}
	return []any{proposalID, support}, nil
}

// callContract packs a read-only call, executes it at the latest block and
// unpacks the outputs.
func callContract(ctx context.Context, backend Backend, c *Contract, method string, args ...any) ([]any, error) {
	calldata, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := backend.CallContract(ctx, ethereum.CallMsg{To: &c.Address, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", c.Name, method, err)
	}

	values, err := c.ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func stringField(data map[string]any, keys ...string) (string, error) {
	for _, key := range keys {
		if v, ok := data[key]; ok {
			s, ok := v.(string)
			if !ok {
				return "", fmt.Errorf("field %q: expected string, got %T", key, v)
			}
			return s, nil
		}
	}
	return "", fmt.Errorf("missing field %q", keys[0])
}

func optionalString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func addressField(data map[string]any, keys ...string) (common.Address, error) {
	s, err := stringField(data, keys...)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("field %q: invalid address %q", keys[0], s)
	}
	return common.HexToAddress(s), nil
}

func numberField(data map[string]any, keys ...string) (float64, error) {
	for _, key := range keys {
		v, ok := data[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case uint64:
			return float64(n), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return 0, fmt.Errorf("field %q: %w", key, err)
			}
			return f, nil
		case string:
			f, ok := new(big.Float).SetString(n)
			if !ok {
				return 0, fmt.Errorf("field %q: invalid number %q", key, n)
			}
			out, _ := f.Float64()
			return out, nil
		default:
			return 0, fmt.Errorf("field %q: expected number, got %T", key, v)
		}
	}
	return 0, fmt.Errorf("missing field %q", keys[0])
}

// bigFloatField reads a human-denominated amount without losing precision on
// string inputs.
func bigFloatField(data map[string]any, keys ...string) (*big.Float, error) {
	for _, key := range keys {
		v, ok := data[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case string:
			f, ok := new(big.Float).SetString(n)
			if !ok {
				return nil, fmt.Errorf("field %q: invalid amount %q", key, n)
			}
			return f, nil
		case float64:
			return big.NewFloat(n), nil
		case int:
			return new(big.Float).SetInt64(int64(n)), nil
		case int64:
			return new(big.Float).SetInt64(n), nil
		case uint64:
			return new(big.Float).SetUint64(n), nil
		case json.Number:
			f, ok := new(big.Float).SetString(n.String())
			if !ok {
				return nil, fmt.Errorf("field %q: invalid amount %q", key, n)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("field %q: expected amount, got %T", key, v)
		}
	}
	return nil, fmt.Errorf("missing field %q", keys[0])
}

// toBaseUnits converts a human amount to base units using the token's
// declared decimal count, truncating any sub-unit remainder.
func toBaseUnits(amount *big.Float, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Float).Mul(amount, new(big.Float).SetInt(scale))
	out, _ := scaled.Int(nil)
	return out
}

// proposalIDField accepts a bare number, a decimal string, or a full
// "governance-{n}" object id.
func proposalIDField(data map[string]any, keys ...string) (*big.Int, error) {
	for _, key := range keys {
		v, ok := data[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case string:
			s := strings.TrimPrefix(n, ledger.TypeGovernance+"-")
			id, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return nil, fmt.Errorf("field %q: invalid proposal id %q", key, n)
			}
			return id, nil
		case float64:
			return big.NewInt(int64(n)), nil
		case int:
			return big.NewInt(int64(n)), nil
		case int64:
			return big.NewInt(n), nil
		case uint64:
			return new(big.Int).SetUint64(n), nil
		default:
			return nil, fmt.Errorf("field %q: expected proposal id, got %T", key, v)
		}
	}
	return nil, fmt.Errorf("missing field %q", keys[0])
}

// bytes32FromDiscriminator decodes a hex discriminator (with or without the
// 0x prefix, possibly a 24-char hash prefix) into a left-aligned bytes32.
func bytes32FromDiscriminator(s string) ([32]byte, error) {
	var out [32]byte

	s = strings.TrimPrefix(s, "0x")
	if s == "" || len(s) > 64 || len(s)%2 != 0 {
		return out, fmt.Errorf("invalid hex discriminator %q", s)
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex discriminator %q: %w", s, err)
	}
	copy(out[:], raw)
	return out, nil
}
