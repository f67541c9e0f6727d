package fetch

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
)

const contract = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type fakeSource struct {
	events    []types.Event
	eventsErr error
	txs       map[string]*types.Transaction
	txErr     map[string]error
	blocks    map[uint64]*types.Block
	blockErr  error

	txCalls    atomic.Int32
	scanCalls  atomic.Int32
	tsCalls    atomic.Int32
	inFlight   atomic.Int32
	peakFlight atomic.Int32
	txDelay    time.Duration

	mu      sync.Mutex
	scanned []uint64
}

func (s *fakeSource) Chain() string { return "ethereum" }

func (s *fakeSource) FetchEvents(ctx context.Context, address string, from, to uint64) ([]types.Event, error) {
	if s.eventsErr != nil {
		return nil, s.eventsErr
	}
	return s.events, nil
}

func (s *fakeSource) FetchTransaction(ctx context.Context, hash string) (*types.Transaction, error) {
	s.txCalls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peakFlight.Load()
		if n <= p || s.peakFlight.CompareAndSwap(p, n) {
			break
		}
	}
	if s.txDelay > 0 {
		time.Sleep(s.txDelay)
	}
	if err := s.txErr[hash]; err != nil {
		return nil, err
	}
	tx, ok := s.txs[hash]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

func (s *fakeSource) ScanBlock(ctx context.Context, number uint64) (*types.Block, error) {
	s.scanCalls.Add(1)
	s.mu.Lock()
	s.scanned = append(s.scanned, number)
	s.mu.Unlock()
	if s.blockErr != nil {
		return nil, s.blockErr
	}
	if b, ok := s.blocks[number]; ok {
		return b, nil
	}
	return &types.Block{Number: number, Timestamp: 1000 + number}, nil
}

func (s *fakeSource) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	s.tsCalls.Add(1)
	return 1000 + number, nil
}

func (s *fakeSource) MatchesAddress(tx *types.Transaction, address string) bool {
	return strings.EqualFold(tx.From, address) || strings.EqualFold(tx.To, address)
}

func txFixture(hash string, block uint64) *types.Transaction {
	return &types.Transaction{Hash: hash, BlockNumber: block, From: "0xsender", To: contract}
}

func TestFetch_ConcreteScenario(t *testing.T) {
	src := &fakeSource{
		events: []types.Event{
			{Address: contract, TransactionHash: "0x01", BlockNumber: 120, LogIndex: 0},
			{Address: contract, TransactionHash: "0x01", BlockNumber: 120, LogIndex: 1},
			{Address: contract, TransactionHash: "0x02", BlockNumber: 150, LogIndex: 0},
		},
		txs: map[string]*types.Transaction{
			"0x01": txFixture("0x01", 120),
			"0x02": txFixture("0x02", 150),
		},
	}
	f := New(src, DefaultConfig())

	result, err := f.Fetch(context.Background(), contract, 100, 200)
	require.NoError(t, err)

	assert.Equal(t, types.MethodEventBased, result.Method)
	assert.Equal(t, 3, result.Summary.TotalEvents)
	assert.Equal(t, 2, result.Summary.EventTransactions)
	assert.Equal(t, 2, result.Summary.TotalTransactions)
	assert.Equal(t, 0, result.Summary.DirectTransactions)

	require.Len(t, result.Transactions, 2)
	assert.Equal(t, "0x01", result.Transactions[0].Hash)
	assert.Len(t, result.Transactions[0].Events, 2)
	assert.Len(t, result.Transactions[1].Events, 1)
	assert.Equal(t, types.SourceEvent, result.Transactions[0].Source)
	assert.Equal(t, uint64(1120), result.Transactions[0].BlockTimestamp)
	assert.Equal(t, "ethereum", result.Transactions[0].Chain)
	assert.Equal(t, int32(0), src.scanCalls.Load())
}

func TestFetch_OneDetailFetchPerUniqueHash(t *testing.T) {
	events := make([]types.Event, 0, 40)
	txs := make(map[string]*types.Transaction)
	for i := 0; i < 40; i++ {
		hash := "0x" + string(rune('a'+i%13))
		events = append(events, types.Event{TransactionHash: hash, BlockNumber: uint64(100 + i%13), LogIndex: uint64(i)})
		txs[hash] = txFixture(hash, uint64(100+i%13))
	}
	src := &fakeSource{events: events, txs: txs}
	f := New(src, DefaultConfig())

	result, err := f.Fetch(context.Background(), contract, 100, 5000)
	require.NoError(t, err)

	assert.Equal(t, int32(13), src.txCalls.Load())
	assert.Len(t, result.Transactions, 13)
	assert.Len(t, result.Events, 40)

	total := 0
	for _, tx := range result.Transactions {
		for _, ev := range tx.Events {
			assert.Equal(t, tx.Hash, ev.TransactionHash)
		}
		total += len(tx.Events)
	}
	assert.Equal(t, 40, total)
}

func TestFetch_BatchConcurrencyBoundedByBatchSize(t *testing.T) {
	events := make([]types.Event, 0, 12)
	txs := make(map[string]*types.Transaction)
	for i := 0; i < 12; i++ {
		hash := "0x" + string(rune('a'+i))
		events = append(events, types.Event{TransactionHash: hash, BlockNumber: 10})
		txs[hash] = txFixture(hash, 10)
	}
	src := &fakeSource{events: events, txs: txs, txDelay: 5 * time.Millisecond}
	f := New(src, DefaultConfig(), WithBatchSize(func() int { return 4 }))

	result, err := f.Fetch(context.Background(), contract, 1, 20)
	require.NoError(t, err)

	assert.Len(t, result.Transactions, 12)
	assert.LessOrEqual(t, src.peakFlight.Load(), int32(4))
	// order of first appearance is preserved across batches
	for i, tx := range result.Transactions {
		assert.Equal(t, "0x"+string(rune('a'+i)), tx.Hash)
	}
}

func TestFetch_FailedDetailsAreOmitted(t *testing.T) {
	src := &fakeSource{
		events: []types.Event{
			{TransactionHash: "0x01", BlockNumber: 5},
			{TransactionHash: "0x02", BlockNumber: 6},
			{TransactionHash: "0x03", BlockNumber: 7},
		},
		txs: map[string]*types.Transaction{
			"0x01": txFixture("0x01", 5),
			"0x02": txFixture("0x02", 6),
		},
		txErr: map[string]error{"0x02": errors.New("all providers failed")},
	}
	f := New(src, DefaultConfig())

	result, err := f.Fetch(context.Background(), contract, 1, 10)
	require.NoError(t, err)

	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "0x01", result.Transactions[0].Hash)
	assert.Equal(t, 3, result.Summary.TotalEvents)
	assert.Equal(t, 1, result.Summary.TotalTransactions)
}

func TestFetch_LargeEmptyRangeDoesNotScan(t *testing.T) {
	src := &fakeSource{}
	f := New(src, DefaultConfig())

	result, err := f.Fetch(context.Background(), contract, 1000, 1499)
	require.NoError(t, err)

	assert.Equal(t, types.MethodEventBased, result.Method)
	assert.Equal(t, types.MethodEventBased, result.Summary.Method)
	assert.Empty(t, result.Transactions)
	assert.NotNil(t, result.Transactions)
	assert.Equal(t, int32(0), src.scanCalls.Load())
}

func TestFetch_SmallEmptyRangeScans(t *testing.T) {
	src := &fakeSource{
		blocks: map[uint64]*types.Block{
			110: {Number: 110, Timestamp: 5000, Transactions: []*types.Transaction{
				{Hash: "0xin", From: "0xuser", To: strings.ToUpper(contract[:2]) + contract[2:]},
				{Hash: "0xother", From: "0xuser", To: "0xdead"},
			}},
			125: {Number: 125, Timestamp: 6000, Transactions: []*types.Transaction{
				{Hash: "0xout", From: contract, To: "0xuser"},
			}},
		},
	}
	f := New(src, DefaultConfig())

	result, err := f.Fetch(context.Background(), contract, 100, 129)
	require.NoError(t, err)

	assert.Equal(t, types.MethodFallbackBlockScan, result.Method)
	assert.Equal(t, int32(30), src.scanCalls.Load())
	assert.Equal(t, 30, result.Summary.BlocksScanned)
	require.Len(t, result.Transactions, 2)
	assert.Equal(t, "0xin", result.Transactions[0].Hash)
	assert.Equal(t, types.SourceDirect, result.Transactions[0].Source)
	assert.Equal(t, uint64(5000), result.Transactions[0].BlockTimestamp)
	assert.Equal(t, uint64(110), result.Transactions[0].BlockNumber)
	assert.Equal(t, 2, result.Summary.DirectTransactions)
	assert.Equal(t, 0, result.Summary.EventTransactions)
}

func TestFetch_ScanIsCappedToMostRecentBlocks(t *testing.T) {
	src := &fakeSource{}
	f := New(src, DefaultConfig())

	result, err := f.Fetch(context.Background(), contract, 1, 100)
	require.NoError(t, err)

	assert.Equal(t, types.MethodFallbackBlockScan, result.Method)
	assert.Equal(t, int32(DefaultFallbackScanBlocks), src.scanCalls.Load())
	for _, n := range src.scanned {
		assert.GreaterOrEqual(t, n, uint64(51))
		assert.LessOrEqual(t, n, uint64(100))
	}
}

func TestFetch_FallbackBoundaries(t *testing.T) {
	src := &fakeSource{}
	f := New(src, DefaultConfig())

	// one block past FallbackMaxRange stays event-based
	result, err := f.Fetch(context.Background(), contract, 1, 101)
	require.NoError(t, err)
	assert.Equal(t, types.MethodEventBased, result.Method)
	assert.Equal(t, int32(0), src.scanCalls.Load())
}

func TestFetch_FullRangeDoesNotWrap(t *testing.T) {
	src := &fakeSource{}
	f := New(src, DefaultConfig())

	result, err := f.Fetch(context.Background(), contract, 0, math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, types.MethodEventBased, result.Method)
	assert.Equal(t, int32(0), src.scanCalls.Load())

	// a degraded fetch over the same range scans only the newest blocks
	src = &fakeSource{eventsErr: errors.New("logs down")}
	f = New(src, DefaultConfig())

	result, err = f.Fetch(context.Background(), contract, 0, math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, types.MethodFallbackBlockScan, result.Method)
	assert.Equal(t, int32(DefaultFallbackScanBlocks), src.scanCalls.Load())
	for _, n := range src.scanned {
		assert.GreaterOrEqual(t, n, uint64(math.MaxUint64-DefaultFallbackScanBlocks+1))
	}
}

func TestFetch_EventFailureDegradesToScan(t *testing.T) {
	src := &fakeSource{eventsErr: &resilience.Error{Kind: resilience.KindAllProvidersFailed, Op: "eth_getLogs", Err: errors.New("boom")}}
	f := New(src, DefaultConfig())

	result, err := f.Fetch(context.Background(), contract, 1, 1_000_000)
	require.NoError(t, err)

	assert.Equal(t, types.MethodFallbackBlockScan, result.Method)
	assert.Contains(t, result.Summary.FallbackReason, "boom")
	assert.Equal(t, int32(DefaultFallbackScanBlocks), src.scanCalls.Load())
}

func TestFetch_EventAndScanFailureReturnsError(t *testing.T) {
	src := &fakeSource{
		eventsErr: errors.New("logs down"),
		blockErr:  errors.New("blocks down"),
	}
	f := New(src, Config{FallbackMaxRange: 100, FallbackScanBlocks: 3})

	_, err := f.Fetch(context.Background(), contract, 1, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logs down")
	assert.Contains(t, err.Error(), "blocks down")
}

func TestFetch_InvalidRange(t *testing.T) {
	f := New(&fakeSource{}, DefaultConfig())
	_, err := f.Fetch(context.Background(), contract, 10, 5)
	assert.ErrorIs(t, err, ErrInvalidRange)
	assert.ErrorIs(t, err, resilience.ErrNonRetryable)
}

func TestFetch_CanceledContext(t *testing.T) {
	src := &fakeSource{
		events: []types.Event{{TransactionHash: "0x01", BlockNumber: 1}},
		txs:    map[string]*types.Transaction{"0x01": txFixture("0x01", 1)},
	}
	f := New(src, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, contract, 1, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetch_PublishesProgress(t *testing.T) {
	src := &fakeSource{
		events: []types.Event{{TransactionHash: "0x01", BlockNumber: 1}},
		txs:    map[string]*types.Transaction{"0x01": txFixture("0x01", 1)},
	}
	var mu sync.Mutex
	var steps []string
	f := New(src, DefaultConfig(), WithPublisher(types.PublisherFunc(func(p types.Progress) {
		mu.Lock()
		steps = append(steps, p.Step)
		mu.Unlock()
	})))

	_, err := f.Fetch(context.Background(), contract, 1, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"events", "transactions", "complete"}, steps)
}
