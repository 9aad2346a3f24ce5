// Package ledger defines the chain-agnostic contracts between domain engines
// and a ledger adapter implementation. Domain engines construct Transactions
// and consume ChainStates and ChainEvents without knowing contract addresses,
// method signatures, or event formats.
package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Transaction type families.
const (
	TypeRecommendation = "recommendation"
	TypeToken          = "token"
	TypeGovernance     = "governance"
)

// Transaction result statuses.
const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Wildcard is the subscription event type that matches every event.
const Wildcard = "all"

// Transaction is a domain-level action to be translated into a contract call.
// It is immutable once constructed and consumed exactly once by the adapter.
type Transaction struct {
	// Type selects the contract family (recommendation, token, governance).
	Type string `json:"type"`

	// Action selects a method within the family (create, vote, transfer, ...).
	Action string `json:"action"`

	// ActionDetail qualifies the action (e.g. "upvote" vs "downvote").
	ActionDetail string `json:"actionDetail,omitempty"`

	// RequiresSignature indicates the call mutates ledger state.
	RequiresSignature bool `json:"requiresSignature"`

	// Data is the loosely-typed payload specific to the (Type, Action) pair.
	Data map[string]any `json:"data"`
}

// TransactionResult is produced exactly once per submitted Transaction.
// Ledger-side failures are reported through Success/Error rather than
// propagated as errors; callers must branch on Success.
type TransactionResult struct {
	Success   bool           `json:"success"`
	ObjectID  string         `json:"objectId,omitempty"`
	Status    string         `json:"status"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ChainState is a point-in-time snapshot of a ledger object.
type ChainState struct {
	ObjectID   string         `json:"objectId"`
	ObjectType string         `json:"objectType"`
	Data       map[string]any `json:"data"`

	// CommitNumber is the block height at which the snapshot was read or the
	// backing event was recorded. Monotonically non-decreasing across
	// consecutive states of the same object.
	CommitNumber uint64 `json:"commitNumber"`

	Timestamp int64 `json:"timestamp"`
}

// ChainEvent is the chain-agnostic shape of a ledger event. EventID is unique
// per (emitting transaction, log position), so re-processing a block never
// yields two events with the same id.
type ChainEvent struct {
	EventID      string         `json:"eventId"`
	Type         string         `json:"type"`
	ObjectID     string         `json:"objectId"`
	ObjectType   string         `json:"objectType"`
	Address      string         `json:"address"`
	Data         map[string]any `json:"data"`
	CommitNumber uint64         `json:"commitNumber"`
	Timestamp    int64          `json:"timestamp"`
}

// StateQuery identifies a single object. Either ObjectID is set directly or
// Filter carries an "id" entry; both forms normalize to one object id.
type StateQuery struct {
	ObjectType string            `json:"objectType,omitempty"`
	ObjectID   string            `json:"objectId,omitempty"`
	Filter     map[string]string `json:"filter,omitempty"`
}

// Pagination bounds an object listing. A nil Pagination means no bounds.
type Pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// NetworkInfo describes the connected ledger. On failure the adapter returns
// a degraded record (BlockHeight 0, IsHealthy false) instead of an error.
type NetworkInfo struct {
	ChainID     uint64 `json:"chainId"`
	NetworkName string `json:"networkName"`
	BlockHeight uint64 `json:"blockHeight"`
	IsHealthy   bool   `json:"isHealthy"`
}

// Balance is a token balance denominated in base units.
type Balance struct {
	Value    string `json:"value"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
}

// FeeEstimate is the projected cost of submitting a transaction.
type FeeEstimate struct {
	Estimated string `json:"estimated"`
	Currency  string `json:"currency"`
}

// EventCallback receives fanned-out events. Callbacks for one subscriber are
// invoked in block-then-log order.
type EventCallback func(ChainEvent)

// EventFilter matches events for the stream-based subscription form.
// All non-empty fields must match; empty fields act as wildcards.
type EventFilter struct {
	EventTypes  []string `json:"eventTypes,omitempty"`
	ObjectTypes []string `json:"objectTypes,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
}

// Matches reports whether the filter accepts the event.
func (f *EventFilter) Matches(event ChainEvent) bool {
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, event.Type) {
		return false
	}
	if len(f.ObjectTypes) > 0 && !contains(f.ObjectTypes, event.ObjectType) {
		return false
	}
	if len(f.Addresses) > 0 && !contains(f.Addresses, event.Address) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// EventStream is a lazy sequence of events fed by the adapter's poller.
// It carries no events emitted before subscription and is restartable only
// by re-subscribing.
type EventStream interface {
	// Events returns the channel the stream delivers on. The channel is
	// closed when the stream is closed.
	Events() <-chan ChainEvent

	// Close detaches the stream from the adapter and closes the channel.
	Close()

	// Dropped returns the number of events discarded because the stream's
	// buffer was full.
	Dropped() uint64
}

// Adapter is the public surface a domain engine calls.
type Adapter interface {
	// Connect verifies reachability, binds contract handles and starts the
	// event poller. Soft failure: returns false and leaves the adapter
	// disconnected rather than panicking past the boundary.
	Connect(ctx context.Context) bool

	// Disconnect stops the poller and releases the link. Idempotent.
	Disconnect()

	IsConnected() bool

	// SubmitTransaction dispatches the transaction to its contract call.
	// Ledger-side failures are reported inside the result.
	SubmitTransaction(ctx context.Context, tx Transaction) TransactionResult

	// QueryState resolves a single object id to current state.
	QueryState(ctx context.Context, q StateQuery) (ChainState, error)

	// QueryObjects lists objects of a type matching the filters by scanning
	// a bounded window of historical events. The listing is at-least-once
	// and eventually consistent: events whose backing object can no longer
	// be resolved are skipped, not surfaced.
	QueryObjects(ctx context.Context, objectType string, filters map[string]string, page *Pagination) ([]ChainState, error)

	// SubscribeToEvents registers a callback for an event type (or Wildcard)
	// and returns the subscription id.
	SubscribeToEvents(eventType string, fn EventCallback) string

	// SubscribeToStream returns a bounded event stream for the filter.
	SubscribeToStream(filter EventFilter, buffer int) EventStream

	// UnsubscribeFromEvents removes a subscription. Unknown ids are a no-op.
	UnsubscribeFromEvents(id string)

	GetWalletAddress() string
	GetBalance(ctx context.Context, address string) (Balance, error)
	GetNetworkInfo(ctx context.Context) NetworkInfo
	EstimateFee(ctx context.Context, tx Transaction) (FeeEstimate, error)
}

// MakeObjectID builds the adapter-internal key correlating writes and reads.
func MakeObjectID(objectType, discriminator string) string {
	return objectType + "-" + discriminator
}

// SplitObjectID parses an object id of the form "{objectType}-{discriminator}"
// against a set of known object types, matching the longest type prefix so
// compound types like "recommendation-vote" resolve before "recommendation".
func SplitObjectID(id string, knownTypes []string) (objectType, discriminator string, err error) {
	best := ""
	for _, t := range knownTypes {
		if len(t) > len(best) && strings.HasPrefix(id, t+"-") {
			best = t
		}
	}
	if best == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedObjectType, id)
	}
	disc := id[len(best)+1:]
	if disc == "" {
		return "", "", fmt.Errorf("%w: empty discriminator in %q", ErrQueryParse, id)
	}
	return best, disc, nil
}
