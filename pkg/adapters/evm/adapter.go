// Package evm provides the adapter for EVM-compatible chains
// (Ethereum mainnet, Polygon, Arbitrum, Optimism, Base, etc.).
// OP-stack chains reuse it with a receipt extension, see package lisk.
package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
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

// DefaultLogChunkSize is the widest block window sent in one eth_getLogs call
const DefaultLogChunkSize = 2000

// ReceiptExtension decodes chain-specific receipt fields from the raw
// receipt object into r.
type ReceiptExtension func(raw json.RawMessage, r *types.Receipt) error

// Config holds configuration for the EVM adapter
type Config struct {
	// Chain is the chain id used to tag results (e.g. "ethereum")
	Chain string

	// Family defaults to chain.FamilyEVM
	Family chain.Family

	// LogChunkSize is the block window per eth_getLogs call (default 2000)
	LogChunkSize uint64

	// Fetch holds the block-scan fallback settings
	Fetch fetch.Config

	// ReceiptExtension is optional
	ReceiptExtension ReceiptExtension
}

// Adapter implements chain.Client for EVM-compatible chains
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

// NewAdapter creates a new EVM adapter over caller
func NewAdapter(caller *jsonrpc.Caller, config Config, opts ...Option) *Adapter {
	if config.Chain == "" {
		config.Chain = caller.Chain()
	}
	if config.Family == "" {
		config.Family = chain.FamilyEVM
	}
	if config.LogChunkSize == 0 {
		config.LogChunkSize = DefaultLogChunkSize
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

// Family returns the adapter family
func (a *Adapter) Family() chain.Family {
	return a.config.Family
}

// Caller returns the underlying call path
func (a *Adapter) Caller() *jsonrpc.Caller {
	return a.caller
}

// GetBlockNumber returns the current head
func (a *Adapter) GetBlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	found, err := a.caller.Call(ctx, &n, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, a.protocolError("eth_blockNumber", fmt.Errorf("null block number"))
	}
	return uint64(n), nil
}

// GetBlock returns a block with full transaction bodies
func (a *Adapter) GetBlock(ctx context.Context, number uint64) (*types.Block, error) {
	var b rpcBlock
	found, err := a.caller.Call(ctx, &b, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", chain.ErrBlockNotFound, number)
	}
	a.timestamps.Set(number, uint64(b.Timestamp))

	block := &types.Block{
		Number:       uint64(b.Number),
		Hash:         b.Hash,
		ParentHash:   b.ParentHash,
		Timestamp:    uint64(b.Timestamp),
		Transactions: make([]*types.Transaction, 0, len(b.Transactions)),
	}
	for i := range b.Transactions {
		tx := b.Transactions[i].toTransaction(a.config.Chain)
		if tx.BlockNumber == 0 {
			tx.BlockNumber = number
		}
		tx.BlockTimestamp = block.Timestamp
		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}

// GetTransactionReceipt returns nil, nil when the receipt is unknown
func (a *Adapter) GetTransactionReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	raw, err := a.caller.Raw(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var r rpcReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, a.protocolError("eth_getTransactionReceipt", err)
	}
	receipt := r.toReceipt()
	if a.config.ReceiptExtension != nil {
		if err := a.config.ReceiptExtension(raw, receipt); err != nil {
			return nil, a.protocolError("eth_getTransactionReceipt", err)
		}
	}
	return receipt, nil
}

// GetTransactionsByAddress runs the event-first fetch for [fromBlock, toBlock]
func (a *Adapter) GetTransactionsByAddress(ctx context.Context, address string, fromBlock, toBlock uint64) (*types.FetchResult, error) {
	if err := a.ValidateAddress(address); err != nil {
		return nil, err
	}
	return a.fetcher.Fetch(ctx, strings.ToLower(address), fromBlock, toBlock)
}

// TestConnection reports whether any provider answers eth_blockNumber
func (a *Adapter) TestConnection(ctx context.Context) bool {
	if _, err := a.GetBlockNumber(ctx); err != nil {
		a.logger.Warn("Connection test failed", zap.Error(err))
		return false
	}
	return true
}

// ValidateAddress accepts 0x-prefixed 20-byte hex addresses
func (a *Adapter) ValidateAddress(address string) error {
	if !strings.HasPrefix(strings.ToLower(address), "0x") || !common.IsHexAddress(address) {
		return resilience.NonRetryablef("invalid address %q for chain %s", address, a.config.Chain)
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

// CheckHealth probes every provider with eth_blockNumber
func (a *Adapter) CheckHealth(ctx context.Context) []types.ProviderHealth {
	return a.caller.Pool().CheckHealth(ctx, func(ctx context.Context, p *provider.Provider) error {
		var n hexutil.Uint64
		return p.Call(ctx, &n, "eth_blockNumber")
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

// FetchEvents queries eth_getLogs in LogChunkSize windows. Any failing
// window fails the whole query so no partial set is returned.
func (a *Adapter) FetchEvents(ctx context.Context, address string, from, to uint64) ([]types.Event, error) {
	events := []types.Event{}
	chunk := a.config.LogChunkSize
	for start := from; ; {
		end := start + chunk - 1
		if end > to || end < start {
			end = to
		}

		var logs []rpcLog
		filter := map[string]interface{}{
			"address":   strings.ToLower(address),
			"fromBlock": hexutil.EncodeUint64(start),
			"toBlock":   hexutil.EncodeUint64(end),
		}
		if _, err := a.caller.Call(ctx, &logs, "eth_getLogs", filter); err != nil {
			return nil, fmt.Errorf("eth_getLogs [%d, %d]: %w", start, end, err)
		}
		for _, l := range logs {
			events = append(events, l.toEvent())
		}

		if end >= to {
			break
		}
		start = end + 1
	}

	a.logger.Debug("Fetched logs",
		zap.String("contract", address),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("count", len(events)))
	return events, nil
}

// FetchTransaction loads the transaction and its receipt concurrently.
// Pending transactions are reported as unknown. A failed receipt lookup
// fails the transaction; a receipt the node does not know leaves the
// outcome fields unset.
func (a *Adapter) FetchTransaction(ctx context.Context, hash string) (*types.Transaction, error) {
	var (
		rtx        rpcTransaction
		found      bool
		receipt    *types.Receipt
		receiptErr error
		g          errgroup.Group
	)
	g.Go(func() error {
		var err error
		found, err = a.caller.Call(ctx, &rtx, "eth_getTransactionByHash", hash)
		return err
	})
	g.Go(func() error {
		receipt, receiptErr = a.GetTransactionReceipt(ctx, hash)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if rtx.BlockNumber == nil {
		a.logger.Debug("Skipping pending transaction", zap.String("hash", hash))
		return nil, nil
	}

	if receiptErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("receipt for %s: %w", hash, receiptErr)
	}

	tx := rtx.toTransaction(a.config.Chain)
	if receipt != nil {
		applyReceipt(tx, receipt)
	}
	return tx, nil
}

// ScanBlock returns a block with full transaction bodies
func (a *Adapter) ScanBlock(ctx context.Context, number uint64) (*types.Block, error) {
	return a.GetBlock(ctx, number)
}

// BlockTimestamp returns the timestamp of block number, reading only the header
func (a *Adapter) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := a.timestamps.Get(number); ok {
		return ts, nil
	}
	var h rpcHeader
	found, err := a.caller.Call(ctx, &h, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %d", chain.ErrBlockNotFound, number)
	}
	a.timestamps.Set(number, uint64(h.Timestamp))
	return uint64(h.Timestamp), nil
}

// MatchesAddress reports whether tx was sent from or to address
func (a *Adapter) MatchesAddress(tx *types.Transaction, address string) bool {
	return strings.EqualFold(tx.From, address) || (tx.To != "" && strings.EqualFold(tx.To, address))
}

func (a *Adapter) protocolError(method string, err error) error {
	return &resilience.Error{
		Kind:  resilience.KindRPCProtocol,
		Op:    method,
		Chain: a.config.Chain,
		Err:   err,
	}
}
