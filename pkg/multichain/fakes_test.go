package multichain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/0xmhha/chainfetch/pkg/queue"
	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
	"github.com/0xmhha/chainfetch/pkg/types/chain"
)

const testContract = "0x1111111111111111111111111111111111111111"

type fetchCall struct {
	from, to uint64
}

// fakeClient is a chain.Client whose fetch results come from a function
type fakeClient struct {
	chain   string
	head    uint64
	headErr error
	fetch   func(from, to uint64) (*types.FetchResult, error)

	// providers overrides the single provider reported by Health
	providers []types.ProviderHealth

	mu     sync.Mutex
	calls  []fetchCall
	tier   string
	closed bool
}

var _ chain.Client = (*fakeClient)(nil)

func newFakeClient(chainID string, head uint64) *fakeClient {
	return &fakeClient{
		chain: chainID,
		head:  head,
		tier:  string(queue.TierFree),
		fetch: func(uint64, uint64) (*types.FetchResult, error) {
			return types.NewFetchResult(types.MethodEventBased), nil
		},
	}
}

func (c *fakeClient) Chain() string        { return c.chain }
func (c *fakeClient) Family() chain.Family { return chain.FamilyEVM }

func (c *fakeClient) GetBlockNumber(context.Context) (uint64, error) {
	return c.head, c.headErr
}

func (c *fakeClient) GetBlock(context.Context, uint64) (*types.Block, error) {
	return nil, chain.ErrBlockNotFound
}

func (c *fakeClient) GetTransactionReceipt(context.Context, string) (*types.Receipt, error) {
	return nil, nil
}

func (c *fakeClient) GetTransactionsByAddress(_ context.Context, _ string, from, to uint64) (*types.FetchResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, fetchCall{from, to})
	c.mu.Unlock()
	return c.fetch(from, to)
}

func (c *fakeClient) TestConnection(context.Context) bool { return c.headErr == nil }

func (c *fakeClient) ValidateAddress(address string) error {
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return resilience.NonRetryablef("invalid address %q", address)
	}
	return nil
}

func (c *fakeClient) BatchSize() int { return 5 }

func (c *fakeClient) SetTier(tier string) error {
	t, err := queue.ParseTier(tier)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tier = string(t)
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Health() []types.ProviderHealth {
	if c.providers != nil {
		return c.providers
	}
	return []types.ProviderHealth{{Endpoint: types.ProviderEndpoint{Name: "p1"}, IsHealthy: c.headErr == nil}}
}

func (c *fakeClient) ErrorStats() resilience.ErrorStats {
	return resilience.ErrorStats{TotalErrors: 2}
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeClient) Calls() []fetchCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fetchCall(nil), c.calls...)
}

func (c *fakeClient) Tier() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tier
}

// legacyClient hands back the bare transaction slice
type legacyClient struct {
	chain string
	txs   []*types.Transaction
}

func (c *legacyClient) Chain() string { return c.chain }

func (c *legacyClient) GetTransactionsByAddress(context.Context, string, uint64, uint64) ([]*types.Transaction, error) {
	return c.txs, nil
}

// legacyWithHead is a legacy client that can also report the head
type legacyWithHead struct {
	legacyClient
	head uint64
}

func (c *legacyWithHead) GetBlockNumber(context.Context) (uint64, error) {
	return c.head, nil
}

// eventResult builds an event-based result with one event per hash
func eventResult(hashes ...string) *types.FetchResult {
	r := types.NewFetchResult(types.MethodEventBased)
	for i, h := range hashes {
		ev := types.Event{Address: testContract, TransactionHash: h, BlockNumber: uint64(100 + i), LogIndex: uint64(i)}
		r.Events = append(r.Events, ev)
		r.Transactions = append(r.Transactions, &types.Transaction{
			Hash:        h,
			BlockNumber: ev.BlockNumber,
			Source:      types.SourceEvent,
			Events:      []types.Event{ev},
		})
	}
	r.Recount()
	return r
}

func hashFor(n uint64) string {
	return fmt.Sprintf("0x%064x", n)
}

func newTestFetcher(t *testing.T, clients ...interface{}) *Fetcher {
	t.Helper()
	f, err := NewFetcher(context.Background(), nil, zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel)))
	require.NoError(t, err)
	for _, c := range clients {
		require.NoError(t, f.RegisterClient("", c))
	}
	t.Cleanup(func() { _ = f.Stop(context.Background()) })
	return f
}
