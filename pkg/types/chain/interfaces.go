// Package chain defines the contract every chain family adapter exposes to
// the orchestration layer. A family is picked once, when the client is built.
package chain

import (
	"context"
	"errors"

	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
)

// ErrBlockNotFound is returned when a provider has no block at the requested height
var ErrBlockNotFound = errors.New("block not found")

// Family identifies a JSON-RPC dialect.
type Family string

const (
	FamilyEVM      Family = "evm"
	FamilyLisk     Family = "lisk"
	FamilyStarknet Family = "starknet"
)

// Client is implemented by each chain family adapter.
type Client interface {
	// Chain returns the configured chain id (e.g. "ethereum").
	Chain() string

	// Family returns the adapter family.
	Family() Family

	// GetBlockNumber returns the current head.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// GetBlock returns a block with full transaction bodies.
	GetBlock(ctx context.Context, number uint64) (*types.Block, error)

	// GetTransactionReceipt returns nil, nil when the receipt is unknown.
	GetTransactionReceipt(ctx context.Context, hash string) (*types.Receipt, error)

	// GetTransactionsByAddress runs the event-first fetch for [fromBlock, toBlock].
	GetTransactionsByAddress(ctx context.Context, address string, fromBlock, toBlock uint64) (*types.FetchResult, error)

	// TestConnection reports whether any provider answers.
	TestConnection(ctx context.Context) bool

	// ValidateAddress returns a non-retryable error for malformed addresses.
	ValidateAddress(address string) error

	// BatchSize is the tier-dependent detail fetch batch size.
	BatchSize() int

	// SetTier switches the admission policy for subsequent requests.
	SetTier(tier string) error

	// Health returns the provider pool snapshot.
	Health() []types.ProviderHealth

	// ErrorStats returns the error-handling snapshot.
	ErrorStats() resilience.ErrorStats

	Close()
}

// LegacyClient is a client still producing the bare transaction slice shape.
type LegacyClient interface {
	Chain() string
	GetTransactionsByAddress(ctx context.Context, address string, fromBlock, toBlock uint64) ([]*types.Transaction, error)
}
