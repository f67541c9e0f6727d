// Package starknet provides the adapter for Starknet's JSON-RPC dialect.
// Addresses and hashes are field elements; they are compared numerically.
package starknet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0xmhha/chainfetch/pkg/adapters/jsonrpc"
	"github.com/0xmhha/chainfetch/pkg/cache"
	"github.com/0xmhha/chainfetch/pkg/fetch"
	"github.com/0xmhha/chainfetch/pkg/metrics"
	"github.com/0xmhha/chainfetch/pkg/provider"
	"github.com/0xmhha/chainfetch/pkg/queue"
	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
	"github.com/0xmhha/chainfetch/pkg/types/chain"
)

// Ensure Adapter implements chain.Client and fetch.Source
var (
	_ chain.Client = (*Adapter)(nil)
	_ fetch.Source = (*Adapter)(nil)
)

const (
	// ChainName is the default chain id
	ChainName = "starknet"

	// DefaultEventChunkSize is the page size of starknet_getEvents
	DefaultEventChunkSize = 1000

	// DefaultMaxEventPages bounds pagination of one event query
	DefaultMaxEventPages = 1000
)

// Starknet JSON-RPC error codes
const (
	codeBlockNotFound  = 24
	codeTxHashNotFound = 29
)

// ErrTooManyPages is returned when an event query does not terminate within MaxEventPages
var ErrTooManyPages = errors.New("starknet_getEvents exceeded page limit")

// Config holds configuration for the Starknet adapter
type Config struct {
	Chain          string
	EventChunkSize int
	MaxEventPages  int
	Fetch          fetch.Config
}

// Adapter implements chain.Client for Starknet
type Adapter struct {
	config     Config
	caller     *jsonrpc.Caller
	timestamps *cache.TimestampCache
	fetcher    *fetch.Fetcher
	publisher  types.Publisher
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures an Adapter
type Option func(*Adapter)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithPublisher sets the fetch progress publisher
func WithPublisher(p types.Publisher) Option {
	return func(a *Adapter) { a.publisher = p }
}

// WithTimestampCache shares a block timestamp cache
func WithTimestampCache(c *cache.TimestampCache) Option {
	return func(a *Adapter) {
		if c != nil {
			a.timestamps = c
		}
	}
}

// NewAdapter creates a Starknet adapter over caller
func NewAdapter(caller *jsonrpc.Caller, config Config, opts ...Option) *Adapter {
	if config.Chain == "" {
		config.Chain = ChainName
	}
	if config.EventChunkSize <= 0 {
		config.EventChunkSize = DefaultEventChunkSize
	}
	if config.MaxEventPages <= 0 {
		config.MaxEventPages = DefaultMaxEventPages
	}

	a := &Adapter{
		config:     config,
		caller:     caller,
		timestamps: cache.NewTimestampCache(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("chain", config.Chain))

	a.fetcher = fetch.New(a, config.Fetch,
		fetch.WithLogger(a.logger),
		fetch.WithMetrics(a.metrics),
		fetch.WithBatchSize(a.BatchSize),
		fetch.WithPublisher(a.publisher),
	)
	return a
}

// Chain returns the chain id
func (a *Adapter) Chain() string {
	return a.config.Chain
}

// Family returns chain.FamilyStarknet
func (a *Adapter) Family() chain.Family {
	return chain.FamilyStarknet
}

// GetBlockNumber returns the current head
func (a *Adapter) GetBlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	found, err := a.caller.Call(ctx, &n, "starknet_blockNumber")
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, a.protocolError("starknet_blockNumber", fmt.Errorf("null block number"))
	}
	return n, nil
}

// GetBlock returns a block with full transaction bodies
func (a *Adapter) GetBlock(ctx context.Context, number uint64) (*types.Block, error) {
	var b rpcBlock
	found, err := a.caller.Call(ctx, &b, "starknet_getBlockWithTxs", blockID{BlockNumber: number})
	if err != nil {
		if hasRPCCode(err, codeBlockNotFound) {
			return nil, fmt.Errorf("%w: %d", chain.ErrBlockNotFound, number)
		}
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", chain.ErrBlockNotFound, number)
	}
	a.timestamps.Set(number, b.Timestamp)

	block := &types.Block{
		Number:       number,
		Hash:         b.BlockHash,
		ParentHash:   b.ParentHash,
		Timestamp:    b.Timestamp,
		Transactions: make([]*types.Transaction, 0, len(b.Transactions)),
	}
	for i := range b.Transactions {
		tx := b.Transactions[i].toTransaction(a.config.Chain)
		tx.BlockNumber = number
		tx.BlockTimestamp = b.Timestamp
		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}

// GetTransactionReceipt returns nil, nil when the hash is unknown or the
// transaction is not yet in a block.
func (a *Adapter) GetTransactionReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	r, err := a.receipt(ctx, hash)
	if err != nil || r == nil {
		return nil, err
	}
	return r.toReceipt(), nil
}

func (a *Adapter) receipt(ctx context.Context, hash string) (*rpcReceipt, error) {
	var r rpcReceipt
	found, err := a.caller.Call(ctx, &r, "starknet_getTransactionReceipt", hash)
	if err != nil {
		if hasRPCCode(err, codeTxHashNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !found || r.BlockNumber == nil {
		return nil, nil
	}
	return &r, nil
}

// GetTransactionsByAddress runs the event-first fetch for [fromBlock, toBlock]
func (a *Adapter) GetTransactionsByAddress(ctx context.Context, address string, fromBlock, toBlock uint64) (*types.FetchResult, error) {
	if err := a.ValidateAddress(address); err != nil {
		return nil, err
	}
	return a.fetcher.Fetch(ctx, address, fromBlock, toBlock)
}

// TestConnection reports whether any provider answers starknet_blockNumber
func (a *Adapter) TestConnection(ctx context.Context) bool {
	if _, err := a.GetBlockNumber(ctx); err != nil {
		a.logger.Warn("Connection test failed", zap.Error(err))
		return false
	}
	return true
}

// ValidateAddress accepts non-zero 0x-prefixed felts
func (a *Adapter) ValidateAddress(address string) error {
	v, err := parseFelt(address)
	if err != nil {
		return resilience.NonRetryablef("invalid address %q for chain %s: %v", address, a.config.Chain, err)
	}
	if v.Sign() == 0 {
		return resilience.NonRetryablef("invalid address %q for chain %s: zero felt", address, a.config.Chain)
	}
	return nil
}

// BatchSize is the detail fetch batch size of the current tier
func (a *Adapter) BatchSize() int {
	return a.caller.Queue().Limits().BatchSize
}

// SetTier switches the admission policy for subsequent requests
func (a *Adapter) SetTier(tier string) error {
	t, err := queue.ParseTier(tier)
	if err != nil {
		return resilience.NonRetryable(err)
	}
	return a.caller.Queue().SetTier(t)
}

// Health returns the provider pool snapshot
func (a *Adapter) Health() []types.ProviderHealth {
	return a.caller.Pool().Health()
}

// CheckHealth probes every provider with starknet_blockNumber
func (a *Adapter) CheckHealth(ctx context.Context) []types.ProviderHealth {
	return a.caller.Pool().CheckHealth(ctx, func(ctx context.Context, p *provider.Provider) error {
		var n uint64
		return p.Call(ctx, &n, "starknet_blockNumber")
	})
}

// ErrorStats returns the error-handling snapshot
func (a *Adapter) ErrorStats() resilience.ErrorStats {
	return a.caller.Pool().Handler().Stats()
}

// Close releases the provider connections
func (a *Adapter) Close() {
	a.caller.Pool().Close()
}

// =============================================================================
// fetch.Source
// =============================================================================

// FetchEvents pages through starknet_getEvents until no continuation token
// is returned. Events of pending blocks are skipped.
func (a *Adapter) FetchEvents(ctx context.Context, address string, from, to uint64) ([]types.Event, error) {
	filter := eventFilter{
		FromBlock: blockID{BlockNumber: from},
		ToBlock:   blockID{BlockNumber: to},
		Address:   address,
		ChunkSize: a.config.EventChunkSize,
	}

	events := []types.Event{}
	for page := 0; ; page++ {
		if page >= a.config.MaxEventPages {
			return nil, resilience.NonRetryable(fmt.Errorf("%w (%d pages)", ErrTooManyPages, a.config.MaxEventPages))
		}

		var resp eventsPage
		if _, err := a.caller.Call(ctx, &resp, "starknet_getEvents", filter); err != nil {
			return nil, fmt.Errorf("starknet_getEvents [%d, %d] page %d: %w", from, to, page, err)
		}
		for _, e := range resp.Events {
			if e.BlockNumber == nil {
				continue
			}
			events = append(events, e.toEvent(uint64(len(events))))
		}

		if resp.ContinuationToken == "" {
			break
		}
		filter.ContinuationToken = resp.ContinuationToken
	}

	a.logger.Debug("Fetched events",
		zap.String("contract", address),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("count", len(events)))
	return events, nil
}

// FetchTransaction loads the transaction and its receipt concurrently. The
// block number only exists on the receipt, so a failed receipt lookup
// fails the transaction.
func (a *Adapter) FetchTransaction(ctx context.Context, hash string) (*types.Transaction, error) {
	var (
		rtx     rpcTransaction
		found   bool
		receipt *rpcReceipt
		g       errgroup.Group
	)
	g.Go(func() error {
		var err error
		found, err = a.caller.Call(ctx, &rtx, "starknet_getTransactionByHash", hash)
		if hasRPCCode(err, codeTxHashNotFound) {
			found, err = false, nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		receipt, err = a.receipt(ctx, hash)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if receipt == nil {
		a.logger.Debug("Skipping transaction without block", zap.String("hash", hash))
		return nil, nil
	}

	if rtx.TransactionHash == "" {
		rtx.TransactionHash = hash
	}
	tx := rtx.toTransaction(a.config.Chain)
	tx.BlockNumber = *receipt.BlockNumber
	tx.Status = receipt.status()
	tx.Fee = receipt.fee()
	return tx, nil
}

// ScanBlock returns a block with full transaction bodies
func (a *Adapter) ScanBlock(ctx context.Context, number uint64) (*types.Block, error) {
	return a.GetBlock(ctx, number)
}

// BlockTimestamp returns the timestamp of block number without loading transactions
func (a *Adapter) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := a.timestamps.Get(number); ok {
		return ts, nil
	}
	var h rpcBlockHeader
	found, err := a.caller.Call(ctx, &h, "starknet_getBlockWithTxHashes", blockID{BlockNumber: number})
	if err != nil {
		if hasRPCCode(err, codeBlockNotFound) {
			return 0, fmt.Errorf("%w: %d", chain.ErrBlockNotFound, number)
		}
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %d", chain.ErrBlockNotFound, number)
	}
	a.timestamps.Set(number, h.Timestamp)
	return h.Timestamp, nil
}

// MatchesAddress reports whether tx was sent by address, targets it, or
// carries it in its calldata.
func (a *Adapter) MatchesAddress(tx *types.Transaction, address string) bool {
	if sameFelt(tx.From, address) || sameFelt(tx.To, address) {
		return true
	}
	if tx.Input == "" {
		return false
	}
	for _, felt := range strings.Split(tx.Input, ",") {
		if sameFelt(felt, address) {
			return true
		}
	}
	return false
}

func (a *Adapter) protocolError(method string, err error) error {
	return &resilience.Error{
		Kind:  resilience.KindRPCProtocol,
		Op:    method,
		Chain: a.config.Chain,
		Err:   err,
	}
}

func hasRPCCode(err error, code int) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == code
}
