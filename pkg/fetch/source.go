package fetch

import (
	"context"

	"github.com/0xmhha/chainfetch/pkg/types"
)

// Source is the set of chain primitives the event-first algorithm needs.
// Each chain family adapter implements it over its own RPC dialect.
type Source interface {
	// Chain returns the chain id used to tag results.
	Chain() string

	// FetchEvents returns every event the contract emitted in [from, to].
	// Implementations must not return a partial set without an error.
	FetchEvents(ctx context.Context, address string, from, to uint64) ([]types.Event, error)

	// FetchTransaction returns the transaction with receipt detail merged in,
	// or nil, nil when the provider does not know the hash.
	FetchTransaction(ctx context.Context, hash string) (*types.Transaction, error)

	// ScanBlock returns a block with full transaction bodies.
	ScanBlock(ctx context.Context, number uint64) (*types.Block, error)

	// BlockTimestamp returns the timestamp of block number.
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)

	// MatchesAddress reports whether tx was sent from or to address.
	MatchesAddress(tx *types.Transaction, address string) bool
}
