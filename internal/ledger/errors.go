package ledger

import "errors"

var (
	// ErrNotConnected is returned by query operations before Connect
	// succeeds or after Disconnect.
	ErrNotConnected = errors.New("ledger: not connected")

	// ErrUnsupportedTransactionType marks a (type, action) pair absent from
	// the dispatch table. Caller error; never retried and never submitted.
	ErrUnsupportedTransactionType = errors.New("ledger: unsupported transaction type")

	// ErrUnsupportedObjectType marks an object type with no contract read.
	ErrUnsupportedObjectType = errors.New("ledger: unsupported object type")

	// ErrQueryParse marks a malformed query shape.
	ErrQueryParse = errors.New("ledger: malformed query")
)
