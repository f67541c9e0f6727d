// Package fetch implements the event-first contract fetch: derive the
// relevant transactions from emitted events, and only scan blocks directly
// when a small range yields no events or the event query itself fails.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0xmhha/chainfetch/pkg/metrics"
	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
)

const (
	DefaultFallbackMaxRange   = 100
	DefaultFallbackScanBlocks = 50
	DefaultBatchSize          = 5
)

// ErrInvalidRange is returned when fromBlock is after toBlock
var ErrInvalidRange = errors.New("invalid block range")

// Config holds fallback settings
type Config struct {
	// FallbackMaxRange is the largest range, in blocks, that may fall back
	// to block scanning when no events are found.
	FallbackMaxRange uint64 `yaml:"fallback_max_range"`

	// FallbackScanBlocks caps how many of the most recent blocks of the
	// range a fallback scan reads.
	FallbackScanBlocks uint64 `yaml:"fallback_scan_blocks"`
}

// DefaultConfig returns the default fallback settings
func DefaultConfig() Config {
	return Config{
		FallbackMaxRange:   DefaultFallbackMaxRange,
		FallbackScanBlocks: DefaultFallbackScanBlocks,
	}
}

// Fetcher runs the event-first algorithm against a Source
type Fetcher struct {
	src       Source
	config    Config
	batchSize func() int
	publisher types.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithBatchSize sets the function consulted for the detail batch size on
// every fetch, so tier changes apply to the next fetch.
func WithBatchSize(fn func() int) Option {
	return func(f *Fetcher) {
		if fn != nil {
			f.batchSize = fn
		}
	}
}

// WithPublisher sets the progress publisher. It must not block.
func WithPublisher(p types.Publisher) Option {
	return func(f *Fetcher) { f.publisher = p }
}

// New creates a fetcher
func New(src Source, config Config, opts ...Option) *Fetcher {
	if config.FallbackMaxRange == 0 {
		config.FallbackMaxRange = DefaultFallbackMaxRange
	}
	if config.FallbackScanBlocks == 0 {
		config.FallbackScanBlocks = DefaultFallbackScanBlocks
	}
	f := &Fetcher{
		src:       src,
		config:    config,
		batchSize: func() int { return DefaultBatchSize },
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Config returns the effective fallback settings
func (f *Fetcher) Config() Config {
	return f.config
}

// eventStatus is the typed outcome of the event query
type eventStatus int

const (
	eventsFound eventStatus = iota
	eventsEmpty
	eventsFailed
)

type eventOutcome struct {
	status eventStatus
	events []types.Event
	err    error
}

func (f *Fetcher) queryEvents(ctx context.Context, address string, from, to uint64) eventOutcome {
	events, err := f.src.FetchEvents(ctx, address, from, to)
	switch {
	case err != nil:
		return eventOutcome{status: eventsFailed, err: err}
	case len(events) == 0:
		return eventOutcome{status: eventsEmpty}
	default:
		return eventOutcome{status: eventsFound, events: events}
	}
}

// Fetch returns the transactions and events of address in [from, to].
func (f *Fetcher) Fetch(ctx context.Context, address string, from, to uint64) (*types.FetchResult, error) {
	if from > to {
		return nil, resilience.NonRetryable(fmt.Errorf("%w: from %d > to %d", ErrInvalidRange, from, to))
	}
	start := time.Now()
	chain := f.src.Chain()
	log := f.logger.With(
		zap.String("chain", chain),
		zap.String("contract", address),
		zap.Uint64("from", from),
		zap.Uint64("to", to))

	f.publish(ctx, chain, address, "events", 5, fmt.Sprintf("fetching events for blocks %d-%d", from, to))

	outcome := f.queryEvents(ctx, address, from, to)

	var (
		result *types.FetchResult
		err    error
	)
	switch outcome.status {
	case eventsFound:
		result, err = f.fromEvents(ctx, chain, address, outcome.events)

	case eventsEmpty:
		if to-from < f.config.FallbackMaxRange {
			log.Debug("No events in small range, scanning blocks")
			result, err = f.scan(ctx, chain, address, from, to)
		} else {
			result = types.NewFetchResult(types.MethodEventBased)
		}

	case eventsFailed:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn("Event fetch failed, degrading to bounded block scan", zap.Error(outcome.err))
		result, err = f.scan(ctx, chain, address, from, to)
		if err != nil {
			return nil, fmt.Errorf("event fetch failed (%v) and fallback scan failed: %w", outcome.err, err)
		}
		result.Summary.FallbackReason = outcome.err.Error()
	}
	if err != nil {
		return nil, err
	}

	result.Recount()
	f.metrics.RecordFetch(chain, string(result.Method), time.Since(start))
	f.publish(ctx, chain, address, "complete", 100, fmt.Sprintf("found %d transactions", len(result.Transactions)))

	log.Info("Contract fetch completed",
		zap.String("method", string(result.Method)),
		zap.Int("transactions", result.Summary.TotalTransactions),
		zap.Int("events", result.Summary.TotalEvents),
		zap.Int("blocks_scanned", result.Summary.BlocksScanned),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

func (f *Fetcher) fromEvents(ctx context.Context, chain, address string, events []types.Event) (*types.FetchResult, error) {
	hashes := types.UniqueTransactionHashes(events)
	txs, err := f.fetchDetails(ctx, chain, address, hashes)
	if err != nil {
		return nil, err
	}
	if err := f.resolveTimestamps(ctx, txs); err != nil {
		return nil, err
	}

	for _, tx := range txs {
		tx.Source = types.SourceEvent
		if tx.Chain == "" {
			tx.Chain = chain
		}
	}
	types.AttachEvents(txs, events)

	result := types.NewFetchResult(types.MethodEventBased)
	result.Transactions = txs
	result.Events = events
	return result, nil
}

// fetchDetails loads transactions batch by batch. Batches run strictly in
// order; inside a batch all fetches run concurrently and are awaited before
// the next batch starts. Failed or unknown transactions are omitted.
func (f *Fetcher) fetchDetails(ctx context.Context, chain, address string, hashes []string) ([]*types.Transaction, error) {
	batchSize := f.effectiveBatchSize()

	txs := make([]*types.Transaction, 0, len(hashes))
	for offset := 0; offset < len(hashes); offset += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := offset + batchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := hashes[offset:end]
		fetched := make([]*types.Transaction, len(batch))

		var g errgroup.Group
		for i, hash := range batch {
			i, hash := i, hash
			g.Go(func() error {
				tx, err := f.src.FetchTransaction(ctx, hash)
				switch {
				case err != nil:
					f.logger.Warn("Failed to fetch transaction, omitting",
						zap.String("chain", chain),
						zap.String("hash", hash),
						zap.Error(err))
				case tx == nil:
					f.logger.Warn("Transaction not found, omitting",
						zap.String("chain", chain),
						zap.String("hash", hash))
				default:
					fetched[i] = tx
				}
				return nil
			})
		}
		_ = g.Wait()

		for _, tx := range fetched {
			if tx != nil {
				txs = append(txs, tx)
			}
		}

		pct := 10 + 80*float64(end)/float64(len(hashes))
		f.publish(ctx, chain, address, "transactions", pct,
			fmt.Sprintf("fetched %d of %d transactions", end, len(hashes)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

// resolveTimestamps fills BlockTimestamp for transactions that lack it.
func (f *Fetcher) resolveTimestamps(ctx context.Context, txs []*types.Transaction) error {
	blocks := make(map[uint64][]*types.Transaction)
	for _, tx := range txs {
		if tx.BlockTimestamp == 0 {
			blocks[tx.BlockNumber] = append(blocks[tx.BlockNumber], tx)
		}
	}
	if len(blocks) == 0 {
		return nil
	}

	numbers := make([]uint64, 0, len(blocks))
	for n := range blocks {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(f.effectiveBatchSize())
	for _, n := range numbers {
		n := n
		g.Go(func() error {
			ts, err := f.src.BlockTimestamp(ctx, n)
			if err != nil {
				f.logger.Debug("Failed to resolve block timestamp",
					zap.Uint64("block", n),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			for _, tx := range blocks[n] {
				tx.BlockTimestamp = ts
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// scan reads at most FallbackScanBlocks of the most recent blocks of the
// range and keeps transactions sent from or to address.
func (f *Fetcher) scan(ctx context.Context, chain, address string, from, to uint64) (*types.FetchResult, error) {
	scanFrom := from
	if to-from >= f.config.FallbackScanBlocks {
		scanFrom = to - (f.config.FallbackScanBlocks - 1)
	}
	// to-scanFrom < FallbackScanBlocks, so the count cannot wrap
	count := to - scanFrom + 1
	numbers := make([]uint64, count)
	for i := range numbers {
		numbers[i] = scanFrom + uint64(i)
	}

	f.publish(ctx, chain, address, "scan", 10, fmt.Sprintf("scanning blocks %d-%d", scanFrom, to))

	batchSize := f.effectiveBatchSize()

	blocks := make([]*types.Block, len(numbers))
	var (
		lastErr error
		failed  int
		mu      sync.Mutex
	)
	for offset := 0; offset < len(numbers); offset += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := offset + batchSize
		if end > len(numbers) {
			end = len(numbers)
		}

		var g errgroup.Group
		for i := offset; i < end; i++ {
			i := i
			g.Go(func() error {
				block, err := f.src.ScanBlock(ctx, numbers[i])
				if err != nil {
					mu.Lock()
					lastErr = err
					failed++
					mu.Unlock()
					f.logger.Warn("Failed to scan block, skipping",
						zap.String("chain", chain),
						zap.Uint64("block", numbers[i]),
						zap.Error(err))
					return nil
				}
				blocks[i] = block
				return nil
			})
		}
		_ = g.Wait()

		pct := 10 + 80*float64(end)/float64(len(numbers))
		f.publish(ctx, chain, address, "scan", pct, fmt.Sprintf("scanned %d of %d blocks", end, len(numbers)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failed == len(numbers) && lastErr != nil {
		return nil, lastErr
	}

	result := types.NewFetchResult(types.MethodFallbackBlockScan)
	for _, block := range blocks {
		if block == nil {
			continue
		}
		for _, tx := range block.Transactions {
			if tx == nil || !f.src.MatchesAddress(tx, address) {
				continue
			}
			tx.Source = types.SourceDirect
			if tx.BlockTimestamp == 0 {
				tx.BlockTimestamp = block.Timestamp
			}
			if tx.BlockNumber == 0 {
				tx.BlockNumber = block.Number
			}
			if tx.Chain == "" {
				tx.Chain = chain
			}
			if tx.Events == nil {
				tx.Events = []types.Event{}
			}
			result.Transactions = append(result.Transactions, tx)
		}
	}
	result.Summary.BlocksScanned = len(numbers) - failed
	return result, nil
}

func (f *Fetcher) effectiveBatchSize() int {
	if n := f.batchSize(); n > 0 {
		return n
	}
	return DefaultBatchSize
}

func (f *Fetcher) publish(ctx context.Context, chain, address, step string, percent float64, message string) {
	if f.publisher == nil {
		return
	}
	f.publisher.Publish(types.Progress{
		RequestID: types.RequestIDFromContext(ctx),
		Chain:     chain,
		Contract:  address,
		Step:      step,
		Percent:   percent,
		Message:   message,
	})
}
